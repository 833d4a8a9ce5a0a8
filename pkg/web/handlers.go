package web

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-hrd/pkg/hub"
	"github.com/teslashibe/go-hrd/pkg/session"
)

// Status is the /api/status body.
type Status struct {
	State    session.State     `json:"state"`
	Counters map[string]uint64 `json:"counters"`
	Clients  int               `json:"clients"`
	Uptime   string            `json:"uptime"`
}

func (s *Server) snapshot() session.State {
	if s.opts.State == nil {
		return session.State{}
	}
	return s.opts.State()
}

func (s *Server) counters() map[string]uint64 {
	c := map[string]uint64{}
	if s.opts.Counters != nil {
		for k, v := range s.opts.Counters() {
			c[k] = v
		}
	}
	c["status_clients"] = uint64(s.status.ClientCount())
	c["status_dropped"] = s.status.Dropped()
	return c
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(Status{
		State:    s.snapshot(),
		Counters: s.counters(),
		Clients:  s.status.ClientCount(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStop asks the session to stop. Repeated requests are accepted but
// only the first one acts.
func (s *Server) handleStop(c *fiber.Ctx) error {
	first := s.requestStop()
	if first {
		s.log.Info("stop requested", "remote", c.IP())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"stopping": true,
		"first":    first,
	})
}

// handleMetrics renders counters in the Prometheus text format.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	counters := s.counters()
	names := make([]string, 0, len(counters))
	for k := range counters {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		fmt.Fprintf(&b, "hrd_%s %d\n", metricName(k), counters[k])
	}
	st := s.snapshot()
	fmt.Fprintf(&b, "hrd_command_count %d\n", st.CommandCount)
	fmt.Fprintf(&b, "hrd_moving %d\nhrd_query %d\nhrd_recovering %d\n", b2i(st.Moving), b2i(st.Query), b2i(st.Recovering))

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}

func metricName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + 'a' - 'A'
		}
		return '_'
	}, s)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// handleStatusWS greets the client with the current state, then streams
// every update.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	greeting, err := hub.NewUpdate(hub.KindState, time.Now(), s.snapshot())
	if err != nil {
		s.log.Warn("status greeting failed", "err", err)
		greeting = nil
	}
	s.status.Serve(c, greeting)
}
