// Package app wires a go-hrd session: bridge intake, facial analysis,
// fusion, the classifier round trip, the interaction state machine, command
// dispatch, telemetry and the operator surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-hrd/internal/config"
	hlog "github.com/teslashibe/go-hrd/internal/log"
	"github.com/teslashibe/go-hrd/pkg/bridge"
	"github.com/teslashibe/go-hrd/pkg/classifier"
	"github.com/teslashibe/go-hrd/pkg/dispatch"
	"github.com/teslashibe/go-hrd/pkg/face"
	"github.com/teslashibe/go-hrd/pkg/fusion"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/stream"
	"github.com/teslashibe/go-hrd/pkg/telemetry"
	"github.com/teslashibe/go-hrd/pkg/timeline"
	"github.com/teslashibe/go-hrd/pkg/web"
)

// Options are the pluggable parts of an App.
type Options struct {
	// NewAnalyzer creates the facial analyzer of one camera. Nil uses the
	// HTTP analyzer at face.url.
	NewAnalyzer func(camera string) face.Analyzer
}

// App is one interaction session and everything it runs.
type App struct {
	cfg  *config.Config
	opts Options
	log  *slog.Logger

	bridge     *bridge.Bridge
	session    *session.Session
	timeline   *timeline.Timeline
	selector   *fusion.Selector
	forwarder  *classifier.Forwarder
	decoder    *classifier.Decoder
	dispatcher *dispatch.Dispatcher
	workers    [2]*face.Worker
	web        *web.Server

	// fan-outs built by start; read by Counters
	motion     atomic.Pointer[stream.Broadcast[stream.Sample[bool]]]
	frameSplit atomic.Pointer[stream.Broadcast[stream.Sample[protocol.FrameData]]]

	store *telemetry.Store
	auCSV *telemetry.CSVWriter
	mlCSV *telemetry.CSVWriter

	stopMu sync.Mutex
	stop   context.CancelFunc
}

// New validates cfg and creates an App.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.NewAnalyzer == nil {
		opts.NewAnalyzer = func(camera string) face.Analyzer {
			return face.NewHTTPAnalyzer(cfg.Face.URL, camera, cfg.Face.Timeout)
		}
	}
	return &App{cfg: cfg, opts: opts, log: hlog.For("app")}, nil
}

// Init opens telemetry and builds every component. Call it once before Run.
func (a *App) Init(ctx context.Context) error {
	if err := a.initTelemetry(ctx); err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}

	a.bridge = bridge.New(protocol.Topics...)
	a.session = session.New(a.cfg.SessionConfig(), session.State{ActiveDetection: a.cfg.Session.ActiveDetection})
	a.timeline = timeline.New(timeline.Config{Tick: a.cfg.Timeline.Tick, AlignAudio: a.cfg.Timeline.AlignAudio},
		timeline.MotionFunc(func() bool { return a.session.Snapshot().Moving }))

	a.selector = fusion.NewSelector(a.cfg.Fusion.Threshold, a.auRows())
	a.forwarder = classifier.NewForwarder(a.bridge, a.cfg.Layout())
	a.decoder = classifier.NewDecoder(a.mlRows(), a.recorder())
	a.dispatcher = dispatch.New(a.bridge, a.recorder())

	sampler := face.NewSampler(int(a.cfg.Face.Every))
	for i, name := range []string{"camera1", "camera2"} {
		a.workers[i] = face.NewWorker(name, a.opts.NewAnalyzer(name), sampler)
	}

	a.web = web.NewServer(a.cfg.Server.Addr, web.Options{
		State:    a.session.Snapshot,
		Counters: a.Counters,
		Stop:     a.Stop,
	})
	a.session.OnChange(a.web.PushState)
	a.dispatcher.OnSend(func(d dispatch.Dispatched) { a.web.PushCommand(d.Decided, d.Wire) })
	a.bridge.RegisterRoutes(a.web.App())
	a.bridge.RegisterAPIRoutes(a.web.API())

	a.log.Info("session ready",
		"addr", a.cfg.Server.Addr,
		"active_detection", a.cfg.Session.ActiveDetection,
		"layout", a.cfg.Fusion.Layout,
		"align_audio", a.cfg.Timeline.AlignAudio)
	return nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	var err error
	t := a.cfg.Telemetry
	if t.AUPath != "" {
		if a.auCSV, err = telemetry.OpenCSV(t.AUPath, fusion.Header()); err != nil {
			return err
		}
	}
	if t.MLPath != "" {
		if a.mlCSV, err = telemetry.OpenCSV(t.MLPath, classifier.Header()); err != nil {
			return err
		}
	}
	if t.StorePath != "" {
		if a.store, err = telemetry.OpenStore(t.StorePath); err != nil {
			return err
		}
		id, err := a.store.StartSession(ctx, a.cfg.Session.ActiveDetection, a.cfg.Fusion.Layout)
		if err != nil {
			return err
		}
		a.log.Info("recording session", "session", id, "store", t.StorePath)
	}
	return nil
}

// recorder returns the store as a Recorder, or nil without one.
func (a *App) recorder() stream.Recorder {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) auRows() fusion.RowWriter {
	if a.auCSV == nil {
		return nil
	}
	return a.auCSV
}

func (a *App) mlRows() classifier.RowWriter {
	if a.mlCSV == nil {
		return nil
	}
	return a.mlCSV
}

// Web returns the operator server.
func (a *App) Web() *web.Server { return a.web }

// Session returns the interaction session.
func (a *App) Session() *session.Session { return a.session }

// Stop ends a running session. It is safe to call more than once.
func (a *App) Stop() {
	a.stopMu.Lock()
	defer a.stopMu.Unlock()
	if a.stop != nil {
		a.stop()
	}
}

// Run serves the session until ctx ends or Stop is called, then shuts down
// producers, drains consumers and finally stops the server.
func (a *App) Run(ctx context.Context) error {
	if a.session == nil {
		return errors.New("app: Init not called")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.stopMu.Lock()
	a.stop = cancel
	a.stopMu.Unlock()

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	listenErr := make(chan error, 1)
	go func() { listenErr <- a.web.Start(serverCtx) }()

	prodCtx, stopProducers := context.WithCancel(context.Background())
	defer stopProducers()
	consCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()

	drained := a.start(prodCtx, consCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-listenErr:
		runErr = fmt.Errorf("server: %w", err)
	}

	a.log.Info("stopping session")
	stopProducers()
	select {
	case <-drained:
	case <-time.After(a.cfg.Server.ShutdownTimeout):
		a.log.Warn("consumers did not drain in time", "timeout", a.cfg.Server.ShutdownTimeout)
		stopConsumers()
		<-drained
	}

	a.log.Info("session finished", "state", a.session.Snapshot().String(), "commands", a.dispatcher.Stats().Sent)
	stopServer()
	if runErr == nil {
		if err := a.web.Shutdown(a.cfg.Server.ShutdownTimeout); err != nil {
			a.log.Warn("server shutdown", "err", err)
		}
	}
	return runErr
}

// Shutdown releases the bridge and telemetry. Call it after Run returns.
func (a *App) Shutdown() {
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.store != nil {
		if err := a.store.EndSession(context.Background()); err != nil && !errors.Is(err, telemetry.ErrNoSession) {
			a.log.Warn("end session", "err", err)
		}
		a.store.Close()
	}
	for _, w := range []*telemetry.CSVWriter{a.auCSV, a.mlCSV} {
		if w != nil {
			w.Close()
		}
	}
}
