package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// RowWriter receives one telemetry row per verdict.
type RowWriter interface {
	WriteRow(fields []string) error
}

// Header is the telemetry header for verdict rows.
func Header() []string {
	return []string{"Originating Time", "robotMoving", "isErrorTimeStep", "errorTimeStepConfidence", "errorStop"}
}

// Row renders a verdict as a telemetry row.
func Row(t time.Time, v protocol.Verdict) []string {
	row := []string{t.Format(time.RFC3339Nano)}
	for _, f := range v.Fields() {
		row = append(row, strconv.FormatFloat(f, 'g', -1, 64))
	}
	return row
}

// Decoder parses classifier replies into verdicts.
type Decoder struct {
	rows RowWriter
	rec  stream.Recorder
	log  *slog.Logger

	received  atomic.Uint64
	malformed atomic.Uint64
}

// NewDecoder creates a decoder. rows and rec may be nil.
func NewDecoder(rows RowWriter, rec stream.Recorder) *Decoder {
	return &Decoder{rows: rows, rec: rec, log: hlog.For("classifier")}
}

// Decode parses one reply envelope.
func (d *Decoder) Decode(msg *protocol.Message) (stream.Sample[protocol.Verdict], error) {
	var raw string
	if err := msg.ParseData(&raw); err != nil {
		return stream.Sample[protocol.Verdict]{}, fmt.Errorf("%w: %v", protocol.ErrMalformedVerdict, err)
	}
	v, err := protocol.ParseVerdict(raw)
	if err != nil {
		return stream.Sample[protocol.Verdict]{}, err
	}
	return stream.At(v, msg.Time()), nil
}

// Run decodes replies in arrival order until in closes or ctx ends.
// Malformed replies are logged and dropped.
func (d *Decoder) Run(ctx context.Context, in <-chan *protocol.Message) <-chan stream.Sample[protocol.Verdict] {
	out := make(chan stream.Sample[protocol.Verdict], 16)
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

			smp, err := d.Decode(msg)
			if err != nil {
				d.malformed.Add(1)
				d.log.Warn("dropping classifier reply", "err", err)
				continue
			}
			d.received.Add(1)
			d.record(smp)

			select {
			case out <- smp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (d *Decoder) record(smp stream.Sample[protocol.Verdict]) {
	if d.rows != nil {
		if err := d.rows.WriteRow(Row(smp.Time, smp.Value)); err != nil {
			d.log.Warn("telemetry row dropped", "err", err)
		}
	}
	if d.rec == nil {
		return
	}
	if err := d.rec.Record("errorTimestep", smp.Time, smp.Value.ErrorTimestep); err != nil {
		d.log.Warn("record failed", "stream", "errorTimestep", "err", err)
	}
	if err := d.rec.Record("errorPotentStop", smp.Time, smp.Value.NewError); err != nil {
		d.log.Warn("record failed", "stream", "errorPotentStop", "err", err)
	}
}

// Received returns the number of decoded verdicts.
func (d *Decoder) Received() uint64 { return d.received.Load() }

// Malformed returns the number of dropped replies.
func (d *Decoder) Malformed() uint64 { return d.malformed.Load() }
