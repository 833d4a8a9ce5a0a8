package robot

import (
	"context"
	"time"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// PayloadSender sends one payload stamped with an originating time, as
// bridge.Peer does.
type PayloadSender interface {
	SendPayload(payload any, t time.Time) error
}

type payloadAcks struct {
	out PayloadSender
}

func (p payloadAcks) SendAck(done bool, origin time.Time) error {
	return p.out.SendPayload(done, origin)
}

// AcksTo sends acknowledgements as boolean payloads on out.
func AcksTo(out PayloadSender) AckSender {
	return payloadAcks{out: out}
}

// Commands decodes command messages. Unknown commands are logged and
// dropped.
func Commands(ctx context.Context, in <-chan *protocol.Message) <-chan stream.Sample[session.Command] {
	log := hlog.For("robot")
	out := make(chan stream.Sample[session.Command])
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
			var wire string
			if err := msg.ParseData(&wire); err != nil {
				log.Warn("dropping command", "err", err)
				continue
			}
			cmd, err := session.ParseCommand(wire)
			if err != nil {
				log.Warn("dropping command", "command", wire, "err", err)
				continue
			}
			select {
			case out <- stream.At(cmd, msg.Time()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
