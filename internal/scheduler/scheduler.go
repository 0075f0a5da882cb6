package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/metrics"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

const (
	DefaultPollInterval = 30 * time.Second
	MinPollInterval     = 5 * time.Second
)

// Restarter is the part of the supervisor the scheduler drives. RequestRestart
// stops the running server without clearing its keep-running flag, so the
// supervisor's run loop starts it again.
type Restarter interface {
	RequestRestart()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now. Tests use it to drive ticks deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPollInterval sets the poll cadence used by Initialize.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// Scheduler keeps the restart schedule, polls it and issues warnings and
// restarts. All schedule mutations happen under mu; ticks iterate a snapshot
// and write flags back by ID.
type Scheduler struct {
	server   Restarter
	notifier notify.Notifier
	now      func() time.Time
	interval time.Duration

	mu      sync.Mutex
	entries []*ScheduledRestart

	loopMu   sync.Mutex
	base     context.Context
	stopLoop context.CancelFunc
	loopDone chan struct{}

	pendingMu     sync.Mutex
	cancelPending context.CancelFunc
	pendingSeq    uint64

	events listeners
}

// New creates a scheduler driving server. The poll loop is not started until
// Initialize is called.
func New(server Restarter, n notify.Notifier, opts ...Option) *Scheduler {
	if n == nil {
		n = notify.Discard{}
	}
	s := &Scheduler{
		server:   server,
		notifier: n,
		now:      time.Now,
		interval: DefaultPollInterval,
		base:     context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PollInterval returns the effective poll cadence after clamping.
func (s *Scheduler) PollInterval() time.Duration {
	return clampInterval(s.interval)
}

func clampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPollInterval
	}
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

// Initialize (re)starts the poll loop. A loop started by an earlier call is
// stopped first. The loop and any pending RestartNow countdown end when ctx
// is done.
func (s *Scheduler) Initialize(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	s.stopLocked()

	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.base = ctx
	s.stopLoop = cancel
	s.loopDone = done

	interval := s.PollInterval()
	go s.poll(lctx, interval, done)
	s.notifier.Info("restart scheduler started", "poll_interval", interval.String(), "entries", s.Len())
}

// Close stops the poll loop and cancels a pending RestartNow countdown.
func (s *Scheduler) Close() {
	s.loopMu.Lock()
	s.stopLocked()
	s.loopMu.Unlock()
	s.cancelCountdown()
}

func (s *Scheduler) stopLocked() {
	if s.stopLoop == nil {
		return
	}
	s.stopLoop()
	<-s.loopDone
	s.stopLoop = nil
	s.loopDone = nil
}

func (s *Scheduler) poll(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick()
		}
	}
}

// Subscribe registers a listener for warning and restart events.
func (s *Scheduler) Subscribe(l Listener) (unsubscribe func()) {
	return s.events.add(l)
}

// OnWarning registers fn for warning events.
func (s *Scheduler) OnWarning(fn func(WarningEvent)) (unsubscribe func()) {
	return s.events.add(Listener{OnWarning: fn})
}

// OnRestart registers fn for restart-initiated events.
func (s *Scheduler) OnRestart(fn func(RestartEvent)) (unsubscribe func()) {
	return s.events.add(Listener{OnRestart: fn})
}

// OnStatus implements status.Observer. Each time the server is starting the
// schedule is resynchronised so a restart that just fired moves on to its
// next occurrence.
func (s *Scheduler) OnStatus(e status.StatusEvent) {
	if e.Status == status.Starting {
		s.cleanup()
	}
}

// AddOneTimeRestart schedules a single restart at t with a fixed five minute
// warning lead.
func (s *Scheduler) AddOneTimeRestart(t time.Time, reason string) (ScheduledRestart, error) {
	now := s.now()
	if !t.After(now) {
		err := fmt.Errorf("%w: %s", ErrNotInFuture, t.Format(time.RFC3339))
		s.notifier.Error("cannot schedule restart", "at", t.Format(time.RFC3339), "error", err)
		return ScheduledRestart{}, err
	}
	e := &ScheduledRestart{
		ID:             uuid.NewString(),
		ScheduledTime:  t,
		WarningMinutes: OneTimeWarningMinutes,
		Reason:         reason,
	}
	s.insert(e)
	s.notifier.Info("one-time restart scheduled", "id", e.ID, "at", t.Format(time.RFC3339), "reason", reason)
	return e.clone(), nil
}

// AddRecurringRestart schedules a daily restart at timeOfDay (HH:mm). The
// first occurrence is today if still ahead, otherwise tomorrow.
func (s *Scheduler) AddRecurringRestart(timeOfDay string, warningMinutes int, reason string) (ScheduledRestart, error) {
	tod, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		s.notifier.Error("cannot schedule recurring restart", "time", timeOfDay, "error", err)
		return ScheduledRestart{}, err
	}
	if warningMinutes < 0 {
		err := fmt.Errorf("%w: %d", ErrNegativeWarning, warningMinutes)
		s.notifier.Error("cannot schedule recurring restart", "time", timeOfDay, "error", err)
		return ScheduledRestart{}, err
	}
	e := newRecurring(tod, warningMinutes, reason, s.now())
	s.insert(e)
	s.notifier.Info("recurring restart scheduled", "id", e.ID, "time", tod.String(),
		"next", e.ScheduledTime.Format(time.RFC3339), "warning_minutes", warningMinutes)
	return e.clone(), nil
}

func newRecurring(tod TimeOfDay, warningMinutes int, reason string, now time.Time) *ScheduledRestart {
	p := tod
	return &ScheduledRestart{
		ID:                uuid.NewString(),
		ScheduledTime:     tod.Next(now),
		IsRecurring:       true,
		WarningMinutes:    warningMinutes,
		Reason:            reason,
		RecurrencePattern: &p,
	}
}

func (s *Scheduler) insert(e *ScheduledRestart) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.sortLocked()
	s.mu.Unlock()
}

func (s *Scheduler) sortLocked() {
	slices.SortStableFunc(s.entries, func(a, b *ScheduledRestart) int {
		return a.ScheduledTime.Compare(b.ScheduledTime)
	})
}

// RemoveScheduledRestart deletes the entry with id and reports whether it existed.
func (s *Scheduler) RemoveScheduledRestart(id string) bool {
	s.mu.Lock()
	i := slices.IndexFunc(s.entries, func(e *ScheduledRestart) bool { return e.ID == id })
	if i >= 0 {
		s.entries = slices.Delete(s.entries, i, i+1)
	}
	s.mu.Unlock()
	if i < 0 {
		return false
	}
	s.notifier.Info("scheduled restart removed", "id", id)
	return true
}

// ClearSchedule removes every entry.
func (s *Scheduler) ClearSchedule() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = nil
	s.mu.Unlock()
	s.notifier.Info("restart schedule cleared", "removed", n)
}

// Reload discards the schedule and rebuilds it from times. Times that fail to
// parse are reported and skipped; the joined errors are returned.
func (s *Scheduler) Reload(times []string, warningMinutes int) error {
	if warningMinutes < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeWarning, warningMinutes)
	}
	now := s.now()
	var (
		fresh []*ScheduledRestart
		errs  []error
	)
	for _, raw := range times {
		tod, err := ParseTimeOfDay(raw)
		if err != nil {
			s.notifier.Error("skipping restart time", "time", raw, "error", err)
			errs = append(errs, err)
			continue
		}
		fresh = append(fresh, newRecurring(tod, warningMinutes, "scheduled restart", now))
	}
	s.mu.Lock()
	s.entries = fresh
	s.sortLocked()
	s.mu.Unlock()
	s.notifier.Info("restart schedule rebuilt", "entries", len(fresh))
	return errors.Join(errs...)
}

// Snapshot returns copies of all entries ordered by scheduled time.
func (s *Scheduler) Snapshot() []ScheduledRestart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledRestart, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// Next returns the earliest entry that has not fired yet.
func (s *Scheduler) Next() (ScheduledRestart, bool) {
	for _, e := range s.Snapshot() {
		if !e.IsProcessed {
			return e, true
		}
	}
	return ScheduledRestart{}, false
}

// Len returns the number of entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RestartNow restarts the server after delay. A warning is emitted at once
// when delay > 0. A later RestartNow call, Close, or the end of ctx or of the
// context given to Initialize cancels the countdown and ErrRestartCancelled
// is returned. RestartNow blocks until the restart has been requested.
func (s *Scheduler) RestartNow(ctx context.Context, reason string, delay time.Duration) error {
	if s.server == nil {
		return ErrNoServerToRestart
	}
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.pendingMu.Lock()
	if s.cancelPending != nil {
		s.cancelPending()
	}
	s.pendingSeq++
	seq := s.pendingSeq
	s.cancelPending = cancel
	s.pendingMu.Unlock()

	s.loopMu.Lock()
	base := s.base
	s.loopMu.Unlock()
	defer context.AfterFunc(base, cancel)()

	if delay > 0 {
		now := s.now()
		s.warn(WarningEvent{
			ScheduledTime:    now.Add(delay),
			Remaining:        delay,
			MinutesRemaining: ceilMinutes(delay.Minutes()),
			Reason:           reason,
			Manual:           true,
			IssuedAt:         now,
		})
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-cctx.Done():
			timer.Stop()
		}
	}

	s.pendingMu.Lock()
	cancelled := cctx.Err() != nil
	if s.pendingSeq == seq {
		s.cancelPending = nil
	}
	s.pendingMu.Unlock()
	if cancelled {
		s.notifier.Info("pending restart cancelled", "reason", reason)
		return ErrRestartCancelled
	}

	s.restart(RestartEvent{Reason: reason, Manual: true, InitiatedAt: s.now()})
	return nil
}

func (s *Scheduler) cancelCountdown() {
	s.pendingMu.Lock()
	if s.cancelPending != nil {
		s.cancelPending()
		s.cancelPending = nil
	}
	s.pendingMu.Unlock()
}

func (s *Scheduler) warn(e WarningEvent) {
	s.notifier.Warning(fmt.Sprintf("server restart in %d minute(s)", e.MinutesRemaining),
		"reason", e.Reason, "at", e.ScheduledTime.Format(time.RFC3339))
	metrics.IncWarning()
	s.events.warning(e)
}

func (s *Scheduler) restart(e RestartEvent) {
	kind := "scheduled"
	if e.Manual {
		kind = "manual"
	}
	s.notifier.Info("restarting server", "reason", e.Reason, "kind", kind)
	metrics.IncRestart(kind)
	s.events.restart(e)
	s.server.RequestRestart()
}

// tick runs one poll pass: warn, fire at most one due entry, reset warnings
// for entries that moved away, then clean up processed entries.
func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.notifier.Error("restart scheduler tick failed", "panic", fmt.Sprint(r))
		}
	}()
	now := s.now()
	for _, e := range s.Snapshot() {
		if e.IsProcessed {
			continue
		}
		if !e.WarningsIssued && e.inWarningWindow(now) && s.markWarned(e.ID) {
			m := e.MinutesUntil(now)
			s.warn(WarningEvent{
				EntryID:          e.ID,
				ScheduledTime:    e.ScheduledTime,
				Remaining:        e.ScheduledTime.Sub(now),
				MinutesRemaining: ceilMinutes(m),
				Reason:           e.Reason,
				IssuedAt:         now,
			})
		}
		if e.due(now) && s.markProcessed(e.ID) {
			if s.server != nil {
				s.restart(RestartEvent{EntryID: e.ID, Reason: e.Reason, InitiatedAt: now})
			}
			break
		}
	}
	s.resetWarnings(now)
	s.cleanup()
}

// markWarned sets WarningsIssued on the live entry and reports whether this
// call was the one that set it.
func (s *Scheduler) markWarned(id string) bool {
	return s.mark(id, func(e *ScheduledRestart) bool {
		if e.WarningsIssued {
			return false
		}
		e.WarningsIssued = true
		return true
	})
}

func (s *Scheduler) markProcessed(id string) bool {
	return s.mark(id, func(e *ScheduledRestart) bool {
		if e.IsProcessed {
			return false
		}
		e.IsProcessed = true
		return true
	})
}

func (s *Scheduler) mark(id string, fn func(*ScheduledRestart) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return fn(e)
		}
	}
	return false
}

func (s *Scheduler) resetWarnings(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.WarningsIssued && !e.IsProcessed && e.beyondHysteresis(now) {
			e.WarningsIssued = false
		}
	}
}

// cleanup drops fired one-time entries and moves fired recurring entries to
// tomorrow's occurrence with fresh flags. IDs are kept.
func (s *Scheduler) cleanup() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	changed := false
	for _, e := range s.entries {
		if !e.IsProcessed {
			kept = append(kept, e)
			continue
		}
		changed = true
		if !e.IsRecurring || e.RecurrencePattern == nil {
			continue
		}
		e.ScheduledTime = e.RecurrencePattern.Tomorrow(now)
		e.WarningsIssued = false
		e.IsProcessed = false
		kept = append(kept, e)
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	if changed {
		s.sortLocked()
	}
}
