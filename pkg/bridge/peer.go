package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-hrd/pkg/protocol"
)

// Peer is a client connection to one bridge topic.
type Peer struct {
	topic protocol.Topic
	ws    *websocket.Conn

	mu sync.Mutex
}

// TopicURL returns the WebSocket URL of topic on the bridge at base
// (http://, https://, ws:// or wss://).
func TopicURL(base string, topic protocol.Topic) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid bridge url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid bridge url scheme %q", u.Scheme)
	}
	return u.String() + "/ws/" + url.PathEscape(string(topic)), nil
}

// Dial connects to topic on the bridge at base.
func Dial(ctx context.Context, base string, topic protocol.Topic) (*Peer, error) {
	target, err := TopicURL(base, topic)
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", topic, err)
	}
	return &Peer{topic: topic, ws: ws}, nil
}

// Topic returns the connected topic.
func (p *Peer) Topic() protocol.Topic { return p.topic }

// Send writes one envelope.
func (p *Peer) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

// SendPayload wraps payload with its originating time and sends it.
func (p *Peer) SendPayload(payload any, t time.Time) error {
	msg, err := protocol.NewMessage(payload, t)
	if err != nil {
		return err
	}
	return p.Send(msg)
}

// Receive blocks for the next envelope.
func (p *Peer) Receive() (*protocol.Message, error) {
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.ParseMessage(data)
}

// Messages reads envelopes until the connection fails or ctx ends. Malformed
// envelopes are skipped. The channel closes when reading stops.
func (p *Peer) Messages(ctx context.Context) <-chan *protocol.Message {
	out := make(chan *protocol.Message, 16)
	go func() {
		<-ctx.Done()
		p.ws.SetReadDeadline(time.Now())
	}()
	go func() {
		defer close(out)
		for {
			_, data, err := p.ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseMessage(data)
			if err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close sends a close frame and closes the connection.
func (p *Peer) Close() error {
	p.mu.Lock()
	_ = p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	p.mu.Unlock()
	return p.ws.Close()
}
