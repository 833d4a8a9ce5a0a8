// Package bridge carries topic messages between the session and its
// out-of-process collaborators over WebSocket.
//
// Each peer connects to /ws/<topic>. Messages published on a topic go to
// every peer connected to it; messages a peer sends arrive on the topic's
// inbound channel. Delivery is at-most-once: a topic without peers, a dead
// connection, or a full inbound channel drops the message.
package bridge

import (
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/protocol"
)

const (
	// InboundBuffer is the per-topic inbound queue depth.
	InboundBuffer = 256

	// DefaultWriteTimeout bounds one write to a peer.
	DefaultWriteTimeout = 2 * time.Second
)

var (
	// ErrNoPeers is returned when publishing to a topic nobody listens on.
	ErrNoPeers = errors.New("bridge: no peers on topic")

	// ErrUnknownTopic is returned for a topic the bridge does not serve.
	ErrUnknownTopic = errors.New("bridge: unknown topic")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bridge: closed")

	errPeerDead = errors.New("bridge: peer closed after failed write")
)

// conn is one connected peer.
type conn struct {
	id        string
	topic     protocol.Topic
	ws        *websocket.Conn
	connected time.Time

	mu       sync.Mutex
	lastSeen time.Time

	wmu  sync.Mutex
	dead atomic.Bool
}

// send writes data within timeout. A failed or timed out write closes the
// connection; the read loop then removes the peer.
func (c *conn) send(data []byte, timeout time.Duration) error {
	if c.dead.Load() {
		return errPeerDead
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.dead.Load() {
		return errPeerDead
	}
	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.dead.Store(true)
		c.ws.Close()
		return err
	}
	return nil
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

type topicState struct {
	peers   map[string]*conn
	inbound chan *protocol.Message

	received   atomic.Uint64
	sent       atomic.Uint64
	dropped    atomic.Uint64
	peerFailed atomic.Uint64
}

// Bridge is the server side of the topic transport.
type Bridge struct {
	mu     sync.RWMutex
	topics map[protocol.Topic]*topicState
	closed bool

	nextID    atomic.Uint64
	malformed atomic.Uint64
	log       *slog.Logger

	// WriteTimeout bounds each write to a peer. A peer that cannot take a
	// message in time is disconnected. Set it before serving.
	WriteTimeout time.Duration
}

// New creates a bridge serving topics.
func New(topics ...protocol.Topic) *Bridge {
	b := &Bridge{
		topics:       make(map[protocol.Topic]*topicState, len(topics)),
		log:          hlog.For("bridge"),
		WriteTimeout: DefaultWriteTimeout,
	}
	for _, t := range topics {
		b.topics[t] = &topicState{
			peers:   make(map[string]*conn),
			inbound: make(chan *protocol.Message, InboundBuffer),
		}
	}
	return b
}

// RegisterRoutes registers the topic endpoint on a Fiber app.
func (b *Bridge) RegisterRoutes(app *fiber.App) {
	app.Get("/ws/:topic", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		topic, err := topicParam(c.Params("topic"))
		if err != nil || !b.serves(topic) {
			return fiber.NewError(fiber.StatusNotFound, "unknown topic")
		}
		c.Locals("topic", topic)
		return c.Next()
	}, websocket.New(b.handlePeer))
}

func topicParam(raw string) (protocol.Topic, error) {
	s, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	return protocol.Topic(s), nil
}

func (b *Bridge) serves(topic protocol.Topic) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.topics[topic]
	return ok
}

func (b *Bridge) handlePeer(ws *websocket.Conn) {
	topic, _ := ws.Locals("topic").(protocol.Topic)
	c := &conn{
		id:        strconv.FormatUint(b.nextID.Add(1), 10),
		topic:     topic,
		ws:        ws,
		connected: time.Now(),
		lastSeen:  time.Now(),
	}

	b.mu.Lock()
	ts, ok := b.topics[topic]
	if !ok || b.closed {
		b.mu.Unlock()
		return
	}
	ts.peers[c.id] = c
	count := len(ts.peers)
	b.mu.Unlock()

	b.log.Info("peer connected", "topic", string(topic), "peer", c.id, "peers", count)

	defer func() {
		b.mu.Lock()
		delete(ts.peers, c.id)
		count := len(ts.peers)
		b.mu.Unlock()
		b.log.Info("peer disconnected", "topic", string(topic), "peer", c.id, "peers", count)
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			b.log.Debug("peer read ended", "topic", string(topic), "peer", c.id, "err", err)
			return
		}
		c.touch()
		b.deliver(topic, ts, data)
	}
}

// deliver queues one peer message on its topic's inbound channel.
func (b *Bridge) deliver(topic protocol.Topic, ts *topicState, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		b.malformed.Add(1)
		b.log.Warn("dropping malformed message", "topic", string(topic), "err", err)
		return
	}
	if msg.OriginatingTime == 0 {
		msg.OriginatingTime = time.Now().UnixMicro()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case ts.inbound <- msg:
		ts.received.Add(1)
	default:
		ts.dropped.Add(1)
	}
}

// Inbound returns the channel of messages peers sent on topic. It is closed
// by Close. Unknown topics return nil.
func (b *Bridge) Inbound(topic protocol.Topic) <-chan *protocol.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, ok := b.topics[topic]
	if !ok {
		return nil
	}
	return ts.inbound
}

// Publish sends msg to every peer on topic. It returns ErrNoPeers if nobody
// received it. Each peer write is bounded by WriteTimeout, so a peer that
// stopped reading costs at most one timeout before it is dropped.
func (b *Bridge) Publish(topic protocol.Topic, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	ts, ok := b.topics[topic]
	if !ok {
		b.mu.RUnlock()
		return ErrUnknownTopic
	}
	peers := make([]*conn, 0, len(ts.peers))
	for _, c := range ts.peers {
		peers = append(peers, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range peers {
		if err := c.send(data, b.WriteTimeout); err != nil {
			if !errors.Is(err, errPeerDead) {
				ts.peerFailed.Add(1)
				b.log.Warn("dropping peer after failed write", "topic", string(topic), "peer", c.id, "err", err)
			}
			continue
		}
		delivered++
	}
	if delivered == 0 {
		ts.dropped.Add(1)
		return ErrNoPeers
	}
	ts.sent.Add(1)
	return nil
}

// Close stops intake and closes every inbound channel. Call it after the
// HTTP server has stopped accepting peers.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ts := range b.topics {
		close(ts.inbound)
	}
}
