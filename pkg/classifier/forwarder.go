// Package classifier is the boundary to the remote error classifier. The
// Forwarder publishes fused feature vectors; the Decoder turns the replies
// into verdicts. Nothing correlates the two directions: verdicts are taken
// in arrival order.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/fusion"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// Publisher sends a message on a topic.
type Publisher interface {
	Publish(topic protocol.Topic, msg *protocol.Message) error
}

// ErrNotDelivered marks a publish the transport reported as dropped.
// Forwarders treat it as expected loss.
var ErrNotDelivered = errors.New("classifier: not delivered")

// Forwarder publishes feature vectors to the classifier. It keeps no buffer
// and never retries.
type Forwarder struct {
	pub    Publisher
	layout fusion.Layout
	log    *slog.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewForwarder creates a forwarder encoding with layout.
func NewForwarder(pub Publisher, layout fusion.Layout) *Forwarder {
	return &Forwarder{pub: pub, layout: layout, log: hlog.For("forwarder")}
}

// Forward encodes one selection and publishes it.
func (f *Forwarder) Forward(t time.Time, sel fusion.Selection) error {
	msg, err := protocol.NewMessage(sel.Vector.Encode(f.layout), t)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	if err := f.pub.Publish(protocol.TopicFeatures, msg); err != nil {
		f.dropped.Add(1)
		return fmt.Errorf("%w: %v", ErrNotDelivered, err)
	}
	f.sent.Add(1)
	return nil
}

// Run forwards every selection until in closes or ctx ends. Lost vectors are
// counted and otherwise ignored.
func (f *Forwarder) Run(ctx context.Context, in <-chan stream.Sample[fusion.Selection]) {
	f.log.Info("forwarding features", "layout", string(f.layout), "length", f.layout.Len())
	stream.Drain(ctx, in, func(s stream.Sample[fusion.Selection]) {
		if err := f.Forward(s.Time, s.Value); err != nil {
			f.log.Debug("feature vector lost", "err", err)
		}
	})
}

// Sent returns the number of published vectors.
func (f *Forwarder) Sent() uint64 { return f.sent.Load() }

// Dropped returns the number of vectors the transport did not deliver.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }
