package face

import (
	"context"
	"log/slog"
	"sync/atomic"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/fusion"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// Stats are per-camera counters.
type Stats struct {
	Frames   uint64 `json:"frames"`
	Analyzed uint64 `json:"analyzed"`
	Failed   uint64 `json:"failed"`
	NoFace   uint64 `json:"no_face"`
}

// Worker analyzes the frames of one camera.
type Worker struct {
	name     string
	analyzer Analyzer
	sampler  Sampler
	log      *slog.Logger

	frames   atomic.Uint64
	analyzed atomic.Uint64
	failed   atomic.Uint64
	noFace   atomic.Uint64
}

// NewWorker creates a worker owning analyzer.
func NewWorker(name string, analyzer Analyzer, sampler Sampler) *Worker {
	return &Worker{
		name:     name,
		analyzer: analyzer,
		sampler:  sampler,
		log:      hlog.For("face").With("camera", name),
	}
}

// Name returns the camera name.
func (w *Worker) Name() string { return w.name }

// Stats returns the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Frames:   w.frames.Load(),
		Analyzed: w.analyzed.Load(),
		Failed:   w.failed.Load(),
		NoFace:   w.noFace.Load(),
	}
}

// Process analyzes one frame. Analyzer failures yield a no-face reading.
func (w *Worker) Process(ctx context.Context, frame protocol.FrameData) fusion.Reading {
	r, err := w.analyzer.Analyze(ctx, frame)
	if err != nil {
		w.failed.Add(1)
		w.log.Debug("analysis failed", "seq", frame.Seq, "err", err)
		return NoFace()
	}
	w.analyzed.Add(1)
	if r.Confidence == 0 {
		w.noFace.Add(1)
	}
	if r.Units == nil {
		r.Units = map[string]fusion.Unit{}
	}
	return r
}

// Run analyzes every sampled frame until in closes or ctx ends, then closes
// the analyzer.
func (w *Worker) Run(ctx context.Context, in <-chan stream.Sample[protocol.FrameData]) <-chan stream.Sample[fusion.Reading] {
	out := make(chan stream.Sample[fusion.Reading])
	go func() {
		defer close(out)
		defer func() {
			if err := w.analyzer.Close(); err != nil {
				w.log.Warn("analyzer close failed", "err", err)
			}
		}()
		for {
			var f stream.Sample[protocol.FrameData]
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				f = v
			}
			w.frames.Add(1)
			if !w.sampler.Keep(f.Value.Seq) {
				continue
			}
			r := w.Process(ctx, f.Value)
			select {
			case out <- stream.At(r, f.Time):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Frames decodes frame messages. Undecodable messages are logged and dropped.
func Frames(ctx context.Context, in <-chan *protocol.Message) <-chan stream.Sample[protocol.FrameData] {
	log := hlog.For("face")
	out := make(chan stream.Sample[protocol.FrameData])
	go func() {
		defer close(out)
		for {
			var msg *protocol.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}
			var f protocol.FrameData
			if err := msg.ParseData(&f); err != nil {
				log.Warn("dropping frame", "err", err)
				continue
			}
			select {
			case out <- stream.At(f, msg.Time()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
