// Package launcher is the public face of the DayZ server launcher: the
// supervisor, the restart scheduler and the configuration they run from.
package launcher

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/api"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/metrics"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/scheduler"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/server"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config
type ServerConfig = config.ServerConfig
type RestartConfig = config.RestartConfig

type ServerStatus = status.ServerStatus
type StatusEvent = status.StatusEvent
type Observer = status.Observer
type ObserverFunc = status.ObserverFunc

type ScheduledRestart = scheduler.ScheduledRestart
type WarningEvent = scheduler.WarningEvent
type RestartEvent = scheduler.RestartEvent

type Notifier = notify.Notifier

const (
	Starting   = status.Starting
	Running    = status.Running
	Stopping   = status.Stopping
	Crashed    = status.Crashed
	Restarting = status.Restarting
	Stopped    = status.Stopped
)

// LoadConfig reads and validates a launcher config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Launcher pairs a supervisor with its restart scheduler, wired so that
// status changes resynchronize the schedule. It is meant for embedding; the
// dayzlauncher command builds the full stack instead.
type Launcher struct {
	sup         *server.DayZ
	sched       *scheduler.Scheduler
	unsub       func()
	stopTimeout time.Duration
}

// New builds a launcher for cfg. n may be nil.
func New(cfg *Config, n Notifier) (*Launcher, error) {
	sup := server.New(cfg.Server, cfg.Restart, n)
	sched := scheduler.New(sup, n, scheduler.WithPollInterval(cfg.Restart.PollInterval))
	if err := sched.Reload(cfg.Restart.Times, cfg.Restart.WarningMinutes); err != nil {
		return nil, err
	}
	return &Launcher{
		sup:         sup,
		sched:       sched,
		unsub:       sup.Subscribe(sched),
		stopTimeout: cfg.Restart.StopTimeout,
	}, nil
}

func (l *Launcher) VerifyEnvironment() bool { return l.sup.VerifyEnvironment() }

// Run starts the scheduler and supervises the server until ctx is done or
// Stop is called. When ctx ends the server is stopped with the configured
// stop timeout before Run returns.
func (l *Launcher) Run(ctx context.Context) {
	l.sched.Initialize(ctx)
	defer l.sched.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.sup.Run(ctx)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.sup.Stop(l.stopTimeout)
		<-done
	}
}

func (l *Launcher) Stop(timeout time.Duration) { l.sup.Stop(timeout) }
func (l *Launcher) Current() StatusEvent       { return l.sup.Current() }
func (l *Launcher) PID() int                   { return l.sup.PID() }
func (l *Launcher) Subscribe(o Observer) func() {
	return l.sup.Subscribe(o)
}

func (l *Launcher) AddOneTimeRestart(t time.Time, reason string) (ScheduledRestart, error) {
	return l.sched.AddOneTimeRestart(t, reason)
}
func (l *Launcher) AddRecurringRestart(timeOfDay string, warningMinutes int, reason string) (ScheduledRestart, error) {
	return l.sched.AddRecurringRestart(timeOfDay, warningMinutes, reason)
}
func (l *Launcher) RemoveScheduledRestart(id string) bool { return l.sched.RemoveScheduledRestart(id) }
func (l *Launcher) ClearSchedule()                        { l.sched.ClearSchedule() }
func (l *Launcher) Schedule() []ScheduledRestart          { return l.sched.Snapshot() }

// RestartNow counts down delay, then restarts the server. It blocks; a later
// call supersedes a pending one.
func (l *Launcher) RestartNow(ctx context.Context, reason string, delay time.Duration) error {
	return l.sched.RestartNow(ctx, reason, delay)
}

func (l *Launcher) OnWarning(fn func(WarningEvent)) func() { return l.sched.OnWarning(fn) }
func (l *Launcher) OnRestart(fn func(RestartEvent)) func() { return l.sched.OnRestart(fn) }

// Close detaches the scheduler from the supervisor and stops its loop.
func (l *Launcher) Close() {
	l.unsub()
	l.sched.Close()
}

// Handler returns the HTTP control API for l mounted under basePath.
func (l *Launcher) Handler(basePath string) http.Handler {
	return api.NewRouter(l.sup, l.sched, basePath).Handler()
}

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsObserver returns an observer that exports status events as metrics.
func MetricsObserver() Observer { return metrics.NewStatusRecorder() }

func MetricsHandler() http.Handler { return metrics.Handler() }
