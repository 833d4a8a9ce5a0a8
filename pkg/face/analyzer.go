// Package face is the boundary to the facial analysis collaborator. Each
// camera owns one Analyzer for the whole session; a Worker samples that
// camera's frames and turns them into action unit readings.
package face

import (
	"context"
	"errors"

	"github.com/teslashibe/go-hrd/pkg/fusion"
	"github.com/teslashibe/go-hrd/pkg/protocol"
)

// DefaultEvery is the default frame sampling interval.
const DefaultEvery = 10

// ErrClosed is returned by an analyzer used after Close.
var ErrClosed = errors.New("face: analyzer closed")

// Analyzer extracts action units from one frame. A frame without a face
// yields confidence 0 and no units, not an error.
type Analyzer interface {
	Analyze(ctx context.Context, frame protocol.FrameData) (fusion.Reading, error)

	// Close releases resources
	Close() error
}

// NoFace is the reading for a frame where no face was found.
func NoFace() fusion.Reading {
	return fusion.Reading{Units: map[string]fusion.Unit{}}
}

// Sampler passes every Nth frame by sequence id.
type Sampler struct {
	every uint64
}

// NewSampler creates a sampler. every below 1 passes every frame.
func NewSampler(every int) Sampler {
	if every < 1 {
		every = 1
	}
	return Sampler{every: uint64(every)}
}

// Keep reports whether the frame with sequence id seq is analyzed.
func (s Sampler) Keep(seq uint64) bool {
	return seq%s.every == 0
}
