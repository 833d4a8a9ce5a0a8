// Package web is the operator surface of a session: health, status, metrics,
// a status websocket and the stop control.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/hub"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/session"
)

// Options connects the server to the running session. Every field is
// optional.
type Options struct {
	// State returns the current session snapshot.
	State func() session.State

	// Counters returns named counters for /api/status and /metrics.
	Counters func() map[string]uint64

	// Stop ends the session. It is called at most once.
	Stop func()
}

// Server is the operator HTTP server.
type Server struct {
	app     *fiber.App
	addr    string
	opts    Options
	status  *hub.Hub
	started time.Time
	log     *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewServer creates the server and registers its routes. Further routes
// (the bridge) may be added through App before Start.
func NewServer(addr string, opts Options) *Server {
	s := &Server{
		addr:    addr,
		opts:    opts,
		status:  hub.New("status"),
		started: time.Now(),
		log:     hlog.For("web"),
		stopped: make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-hrd",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/stop", s.handleStop)

	// registered before any /ws/:topic route so it wins the match
	app.Get("/ws/status", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the fiber app for registering more routes.
func (s *Server) App() *fiber.App { return s.app }

// API returns the /api route group.
func (s *Server) API() fiber.Router { return s.app.Group("/api") }

// Hub returns the status fan-out hub.
func (s *Server) Hub() *hub.Hub { return s.status }

// Stopped is closed once an operator requested a stop.
func (s *Server) Stopped() <-chan struct{} { return s.stopped }

// Start runs the status hub and serves until the listener fails or Shutdown
// is called.
func (s *Server) Start(ctx context.Context) error {
	go s.status.Run(ctx)
	s.log.Info("listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartAsync runs Start in a goroutine and logs a listener failure.
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.log.Error("server stopped", "err", err)
		}
	}()
}

// PushState broadcasts a state change to status clients. It matches
// session.Listener.
func (s *Server) PushState(prev, next session.State, _ []session.Command) {
	if prev == next {
		return
	}
	if err := s.status.Publish(hub.KindState, time.Now(), next); err != nil {
		s.log.Warn("status push failed", "err", err)
	}
}

// PushCommand broadcasts a dispatched command to status clients.
func (s *Server) PushCommand(t time.Time, wire string) {
	if err := s.status.Publish(hub.KindCommand, t, wire); err != nil {
		s.log.Warn("command push failed", "err", err)
	}
}

// PushVerdict broadcasts a classifier verdict to status clients.
func (s *Server) PushVerdict(t time.Time, v protocol.Verdict) {
	if err := s.status.Publish(hub.KindVerdict, t, v); err != nil {
		s.log.Warn("verdict push failed", "err", err)
	}
}

// Shutdown stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	err := s.app.ShutdownWithTimeout(timeout)
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("shutdown timed out", "timeout", timeout)
	}
	return err
}

func (s *Server) requestStop() bool {
	first := false
	s.stopOnce.Do(func() {
		first = true
		close(s.stopped)
		if s.opts.Stop != nil {
			s.opts.Stop()
		}
	})
	return first
}
