package fusion

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// DefaultThreshold is the face detection confidence below which a camera is
// considered to have no reliable face.
const DefaultThreshold = 0.5

// Camera identifies the selected source.
type Camera int

const (
	// NoCamera means neither camera saw a reliable face.
	NoCamera Camera = iota
	Camera1
	Camera2
)

func (c Camera) String() string {
	switch c {
	case Camera1:
		return "camera1"
	case Camera2:
		return "camera2"
	}
	return "none"
}

// Input is one aligned timestep: both camera readings and the motion flag.
type Input struct {
	Cam1   Reading
	Cam2   Reading
	Moving bool
}

// Selection is the fused result of one timestep.
type Selection struct {
	Camera     Camera
	Confidence float64
	Vector     FeatureVector
}

// Select applies the source policy: zero vector when both cameras are below
// threshold, otherwise the strictly more confident camera, ties to camera 2.
func Select(in Input, threshold float64) Selection {
	sel := Selection{Vector: FeatureVector{Moving: in.Moving}}
	c1, c2 := in.Cam1.Confidence, in.Cam2.Confidence
	switch {
	case c1 < threshold && c2 < threshold:
		return sel
	case c1 > c2:
		sel.Camera = Camera1
		sel.Confidence = c1
		sel.Vector.Units = Flatten(in.Cam1.Units)
	default:
		sel.Camera = Camera2
		sel.Confidence = c2
		sel.Vector.Units = Flatten(in.Cam2.Units)
	}
	return sel
}

// RowWriter receives one telemetry row per analyzed timestep.
type RowWriter interface {
	WriteRow(fields []string) error
}

// Header is the telemetry header for selection rows.
func Header() []string {
	h := make([]string, 0, 2+2*NumUnits)
	h = append(h, "Originating Time", "Confidence")
	for _, name := range ActionUnits {
		h = append(h, name+"_i", name+"_o")
	}
	return h
}

// Row renders a selection as a telemetry row.
func Row(t time.Time, sel Selection) []string {
	row := make([]string, 0, 2+2*NumUnits)
	row = append(row, t.Format(time.RFC3339Nano), formatFloat(sel.Confidence))
	for _, u := range sel.Vector.Units {
		row = append(row, formatFloat(u.Intensity), formatFloat(u.Occurrence))
	}
	return row
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Selector runs Select over a stream and records every timestep.
type Selector struct {
	threshold float64
	rows      RowWriter
	log       *slog.Logger
}

// NewSelector creates a selector. rows may be nil.
func NewSelector(threshold float64, rows RowWriter) *Selector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Selector{threshold: threshold, rows: rows, log: hlog.For("fusion")}
}

// Fuse selects one timestep and appends its telemetry row. A failed write
// is logged; it never affects the selection.
func (s *Selector) Fuse(t time.Time, in Input) Selection {
	sel := Select(in, s.threshold)
	if s.rows != nil {
		if err := s.rows.WriteRow(Row(t, sel)); err != nil {
			s.log.Warn("telemetry row dropped", "err", err)
		}
	}
	return sel
}

// Run fuses every aligned input until in closes or ctx ends.
func (s *Selector) Run(ctx context.Context, in <-chan stream.Sample[Input]) <-chan stream.Sample[Selection] {
	return stream.Map(ctx, in, func(smp stream.Sample[Input]) Selection {
		return s.Fuse(smp.Time, smp.Value)
	})
}
