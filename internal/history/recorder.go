package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/scheduler"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

// DefaultTimeout bounds each fan-out to the sinks.
const DefaultTimeout = 2 * time.Second

// Recorder turns status and scheduler events into history rows and writes
// them to every sink. A slow or failing sink costs at most the timeout and
// is reported as a warning.
type Recorder struct {
	sinks    []Sink
	timeout  time.Duration
	notifier notify.Notifier
}

func NewRecorder(sinks []Sink, timeout time.Duration, n notify.Notifier) *Recorder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if n == nil {
		n = notify.Discard{}
	}
	return &Recorder{sinks: sinks, timeout: timeout, notifier: n}
}

// OnStatus implements status.Observer.
func (r *Recorder) OnStatus(e status.StatusEvent) {
	r.Record(Event{Kind: KindStatus, Status: e.Status.String(), Detail: e.Detail, OccurredAt: e.ObservedAt})
}

func (r *Recorder) OnWarning(e scheduler.WarningEvent) {
	at := e.IssuedAt
	if at.IsZero() {
		at = time.Now()
	}
	r.Record(Event{
		Kind:       KindWarning,
		Detail:     fmt.Sprintf("%d minute(s) remaining", e.MinutesRemaining),
		Reason:     e.Reason,
		OccurredAt: at,
	})
}

func (r *Recorder) OnRestart(e scheduler.RestartEvent) {
	detail := "scheduled"
	if e.Manual {
		detail = "manual"
	}
	at := e.InitiatedAt
	if at.IsZero() {
		at = time.Now()
	}
	r.Record(Event{Kind: KindRestart, Detail: detail, Reason: e.Reason, OccurredAt: at})
}

// Listener adapts the recorder to scheduler event registration.
func (r *Recorder) Listener() scheduler.Listener {
	return scheduler.Listener{OnWarning: r.OnWarning, OnRestart: r.OnRestart}
}

// Record writes e to all sinks.
func (r *Recorder) Record(e Event) {
	if len(r.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.notifier.Warning("history sink write failed", "kind", string(e.Kind), "error", err)
		}
	}
}

// Close closes every sink.
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
