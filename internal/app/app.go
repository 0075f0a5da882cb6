// Package app assembles the launcher from a loaded configuration and runs
// it until the server is stopped or the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/api"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/history"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/history/factory"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/logger"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/metrics"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/scheduler"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/server"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

// ErrEnvironment is returned by Run when the server installation is unusable.
var ErrEnvironment = errors.New("server environment verification failed")

const shutdownTimeout = 5 * time.Second

type options struct {
	console  io.Writer
	notifier notify.Notifier
	loader   *config.Loader
}

type Option func(*options)

// WithConsole sets where console logs go (default stderr).
func WithConsole(w io.Writer) Option { return func(o *options) { o.console = w } }

// WithNotifier replaces the logger built from the [log] section.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithLoader enables live reload: changes to the loader's file are applied
// while running.
func WithLoader(l *config.Loader) Option { return func(o *options) { o.loader = l } }

// App owns every long-lived component of a launcher run.
type App struct {
	notifier  notify.Notifier
	logCloser io.Closer
	loader    *config.Loader

	mu  sync.Mutex
	cfg *config.Config

	bus      *status.Bus
	sup      *server.DayZ
	sched    *scheduler.Scheduler
	sampler  *metrics.ResourceSampler
	recorder *history.Recorder
	unsub    []func()
}

// New builds the components described by cfg. Nothing runs until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{cfg: cfg, loader: o.loader, notifier: o.notifier}
	if a.notifier == nil {
		l, closer, err := logger.New(cfg.Log, o.console)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		a.notifier, a.logCloser = notify.NewSlog(l), closer
	}

	sinks, err := factory.NewSinks(cfg.History.DSN)
	if err != nil {
		a.closeLog()
		return nil, err
	}
	a.recorder = history.NewRecorder(sinks, cfg.History.Timeout, component(a.notifier, "history"))

	a.bus = status.NewBus()
	a.sup = server.New(cfg.Server, cfg.Restart, component(a.notifier, "server"),
		server.WithBus(a.bus),
		server.WithOutputRotation(cfg.Log),
	)
	a.sched = scheduler.New(a.sup, component(a.notifier, "scheduler"), scheduler.WithPollInterval(cfg.Restart.PollInterval))
	a.sampler = metrics.NewResourceSampler(metrics.SamplerConfig{
		Interval: cfg.Metrics.ResourceInterval,
		LimitMB:  cfg.Server.MemoryMB,
	}, a.sup.PID, component(a.notifier, "metrics"))

	// The scheduler resyncs before anything records the event.
	a.unsub = append(a.unsub,
		a.bus.Subscribe(a.sched),
		a.bus.Subscribe(metrics.NewStatusRecorder()),
		a.bus.Subscribe(a.recorder),
		a.sched.Subscribe(a.recorder.Listener()),
	)
	return a, nil
}

// component tags a slog-backed notifier with the reporting component. Other
// notifiers are returned as is.
func component(n notify.Notifier, name string) notify.Notifier {
	if s, ok := n.(*notify.Slog); ok {
		return s.With("component", name)
	}
	return n
}

func (a *App) Supervisor() *server.DayZ        { return a.sup }
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Config returns the active configuration snapshot.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Run verifies the installation, then supervises the server until ctx ends
// or the server is stopped through the API. On return the server is down and
// all components are released.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if !a.sup.VerifyEnvironment() {
		return ErrEnvironment
	}
	cfg := a.Config()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.sched.Initialize(ctx)
	if err := a.sched.Reload(cfg.Restart.Times, cfg.Restart.WarningMinutes); err != nil {
		return err
	}

	var servers []*http.Server
	defer func() { a.shutdown(servers) }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.notifier.Warning("failed to register metrics", "error", err)
	}
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, a.serve("metrics", api.NewServer(cfg.Metrics.Listen, mux)))
	}
	go a.sampler.Run(ctx)

	if cfg.API.Listen != "" {
		r := api.NewRouter(a.sup, a.sched, cfg.API.BasePath,
			api.WithResources(a.sampler),
			api.WithNotifier(a.notifier),
			api.WithContext(ctx),
			api.WithStopWait(cfg.Restart.StopTimeout),
		)
		servers = append(servers, a.serve("api", api.NewServer(cfg.API.Listen, r.Handler())))
	}

	if a.loader != nil {
		a.loader.Watch(a.applyConfig)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.sup.Run(ctx)
	}()
	a.notifier.Info("launcher started", "config", cfg.Path, "scheduled_restarts", a.sched.Len())

	select {
	case <-done:
		a.notifier.Info("server stopped, launcher exiting")
	case <-ctx.Done():
		a.notifier.Info("shutting down", "stop_timeout", a.Config().Restart.StopTimeout.String())
		a.sup.Stop(a.Config().Restart.StopTimeout)
		<-done
	}
	return nil
}

func (a *App) serve(name string, s *http.Server) *http.Server {
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.notifier.Error(name+" server failed", "listen", s.Addr, "error", err)
		}
	}()
	a.notifier.Info(name+" server listening", "listen", s.Addr)
	return s
}

func (a *App) shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			a.notifier.Warning("http shutdown", "listen", s.Addr, "error", err)
		}
	}
}

// applyConfig is the reload callback. A rejected file leaves the running
// configuration untouched.
func (a *App) applyConfig(c *config.Config, err error) {
	if err != nil {
		a.notifier.Error("config reload rejected, keeping previous settings", "error", err)
		return
	}
	a.sup.Configure(c.Server, c.Restart)
	if err := a.sched.Reload(c.Restart.Times, c.Restart.WarningMinutes); err != nil {
		a.notifier.Error("schedule reload failed", "error", err)
		return
	}
	a.mu.Lock()
	prev := a.cfg
	a.cfg = c
	a.mu.Unlock()
	if prev.Restart.PollInterval != c.Restart.PollInterval {
		a.notifier.Warning("restart.poll_interval change applies on next launcher start")
	}
	a.notifier.Info("config reloaded", "path", c.Path, "scheduled_restarts", a.sched.Len())
}

func (a *App) close() {
	for _, u := range a.unsub {
		u()
	}
	a.sched.Close()
	if err := a.recorder.Close(); err != nil {
		a.notifier.Warning("closing history sinks", "error", err)
	}
	a.closeLog()
}

func (a *App) closeLog() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
