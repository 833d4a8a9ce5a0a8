package bridge

import (
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-hrd/pkg/protocol"
)

// TopicStats are the counters of one topic.
type TopicStats struct {
	Topic    protocol.Topic `json:"topic"`
	Peers    int            `json:"peers"`
	Received uint64         `json:"received"`
	Sent     uint64         `json:"sent"`
	Dropped  uint64         `json:"dropped"`

	// PeerFailed counts peers disconnected after a failed write.
	PeerFailed uint64 `json:"peer_failed"`
}

// Stats are the bridge counters.
type Stats struct {
	Topics    []TopicStats `json:"topics"`
	Malformed uint64       `json:"malformed"`
}

// PeerInfo describes one connected peer.
type PeerInfo struct {
	ID        string         `json:"id"`
	Topic     protocol.Topic `json:"topic"`
	Connected time.Time      `json:"connected"`
	LastSeen  time.Time      `json:"last_seen"`
}

// GetStats returns per-topic counters sorted by topic.
func (b *Bridge) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Topics: make([]TopicStats, 0, len(b.topics)), Malformed: b.malformed.Load()}
	for name, ts := range b.topics {
		st.Topics = append(st.Topics, TopicStats{
			Topic:      name,
			Peers:      len(ts.peers),
			Received:   ts.received.Load(),
			Sent:       ts.sent.Load(),
			Dropped:    ts.dropped.Load(),
			PeerFailed: ts.peerFailed.Load(),
		})
	}
	sort.Slice(st.Topics, func(i, j int) bool { return st.Topics[i].Topic < st.Topics[j].Topic })
	return st
}

// PeerCount returns the number of peers on topic.
func (b *Bridge) PeerCount(topic protocol.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ts, ok := b.topics[topic]; ok {
		return len(ts.peers)
	}
	return 0
}

// Peers returns every connected peer.
func (b *Bridge) Peers() []PeerInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var infos []PeerInfo
	for _, ts := range b.topics {
		for _, c := range ts.peers {
			c.mu.Lock()
			infos = append(infos, PeerInfo{ID: c.id, Topic: c.topic, Connected: c.connected, LastSeen: c.lastSeen})
			c.mu.Unlock()
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// RegisterAPIRoutes registers the bridge inspection routes.
func (b *Bridge) RegisterAPIRoutes(api fiber.Router) {
	g := api.Group("/bridge")

	g.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(b.GetStats())
	})

	g.Get("/peers", func(c *fiber.Ctx) error {
		peers := b.Peers()
		return c.JSON(fiber.Map{
			"peers": peers,
			"count": len(peers),
		})
	})
}
