package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeServer struct{ restarts atomic.Int32 }

func (f *fakeServer) RequestRestart() { f.restarts.Add(1) }

type captured struct {
	mu       sync.Mutex
	warnings []WarningEvent
	restarts []RestartEvent
}

func (c *captured) listener() Listener {
	return Listener{
		OnWarning: func(e WarningEvent) {
			c.mu.Lock()
			c.warnings = append(c.warnings, e)
			c.mu.Unlock()
		},
		OnRestart: func(e RestartEvent) {
			c.mu.Lock()
			c.restarts = append(c.restarts, e)
			c.mu.Unlock()
		},
	}
}

func (c *captured) Warnings() []WarningEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WarningEvent(nil), c.warnings...)
}

func (c *captured) Restarts() []RestartEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RestartEvent(nil), c.restarts...)
}

func at(h, m, s int) time.Time {
	return time.Date(2026, time.March, 10, h, m, s, 0, time.UTC)
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *fakeClock, *fakeServer, *captured, *notify.Recorder) {
	t.Helper()
	clk := &fakeClock{t: now}
	srv := &fakeServer{}
	rec := &notify.Recorder{}
	s := New(srv, rec, WithClock(clk.Now))
	ev := &captured{}
	s.Subscribe(ev.listener())
	t.Cleanup(s.Close)
	return s, clk, srv, ev, rec
}

func TestRecurringRestart_WarnsOnceFiresOnceAndMovesToTomorrow(t *testing.T) {
	s, clk, srv, ev, rec := newTestScheduler(t, at(14, 50, 0))

	e, err := s.AddRecurringRestart("15:00", 5, "daily")
	require.NoError(t, err)
	assert.Equal(t, at(15, 0, 0), e.ScheduledTime)
	assert.True(t, e.IsRecurring)
	require.NotNil(t, e.RecurrencePattern)

	clk.Set(at(14, 56, 0))
	s.tick()
	require.Len(t, ev.Warnings(), 1)
	assert.Equal(t, 4, ev.Warnings()[0].MinutesRemaining)
	assert.Equal(t, 4*time.Minute, ev.Warnings()[0].Remaining)
	assert.True(t, rec.Contains("warning", "server restart in 4 minute(s)"))

	clk.Set(at(14, 58, 0))
	s.tick()
	assert.Len(t, ev.Warnings(), 1, "warning must not repeat within one approach")
	assert.Zero(t, srv.restarts.Load())

	clk.Set(at(15, 0, 10))
	s.tick()
	assert.EqualValues(t, 1, srv.restarts.Load())
	require.Len(t, ev.Restarts(), 1)
	assert.Equal(t, "daily", ev.Restarts()[0].Reason)
	assert.False(t, ev.Restarts()[0].Manual)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, e.ID, snap[0].ID)
	assert.Equal(t, at(15, 0, 0).AddDate(0, 0, 1), snap[0].ScheduledTime)
	assert.False(t, snap[0].IsProcessed)
	assert.False(t, snap[0].WarningsIssued)

	clk.Set(at(15, 0, 40))
	s.tick()
	assert.EqualValues(t, 1, srv.restarts.Load())
}

func TestOneTimeRestart_WarnsWithRoundedUpMinutesAndIsRemoved(t *testing.T) {
	s, clk, srv, ev, _ := newTestScheduler(t, at(11, 58, 0))

	e, err := s.AddOneTimeRestart(at(12, 0, 30), "patch")
	require.NoError(t, err)
	assert.Equal(t, OneTimeWarningMinutes, e.WarningMinutes)
	assert.False(t, e.IsRecurring)
	assert.Nil(t, e.RecurrencePattern)

	clk.Set(at(11, 59, 0))
	s.tick()
	require.Len(t, ev.Warnings(), 1)
	assert.Equal(t, 2, ev.Warnings()[0].MinutesRemaining)
	assert.Equal(t, at(11, 59, 0), ev.Warnings()[0].IssuedAt)

	clk.Set(at(12, 0, 30))
	s.tick()
	assert.EqualValues(t, 1, srv.restarts.Load())
	assert.Empty(t, s.Snapshot())

	clk.Set(at(12, 1, 0))
	s.tick()
	assert.EqualValues(t, 1, srv.restarts.Load())
}

func TestTick_FiresAtMostOneEntryPerPass(t *testing.T) {
	s, clk, srv, ev, _ := newTestScheduler(t, at(9, 0, 0))
	_, err := s.AddOneTimeRestart(at(9, 1, 0), "first")
	require.NoError(t, err)
	_, err = s.AddOneTimeRestart(at(9, 2, 0), "second")
	require.NoError(t, err)

	clk.Set(at(9, 3, 0))
	s.tick()
	assert.EqualValues(t, 1, srv.restarts.Load())
	require.Len(t, ev.Restarts(), 1)
	assert.Equal(t, "first", ev.Restarts()[0].Reason)
	require.Len(t, s.Snapshot(), 1)

	s.tick()
	assert.EqualValues(t, 2, srv.restarts.Load())
	assert.Equal(t, "second", ev.Restarts()[1].Reason)
	assert.Empty(t, s.Snapshot())
}

func TestMarkProcessed_OnlyOnce(t *testing.T) {
	s, _, _, _, _ := newTestScheduler(t, at(9, 0, 0))
	e, err := s.AddOneTimeRestart(at(10, 0, 0), "")
	require.NoError(t, err)

	assert.True(t, s.markProcessed(e.ID))
	assert.False(t, s.markProcessed(e.ID))
	assert.False(t, s.markProcessed("missing"))
}

func TestTick_WarningResetsWhenEntryMovesAway(t *testing.T) {
	s, clk, _, ev, _ := newTestScheduler(t, at(9, 0, 0))
	_, err := s.AddOneTimeRestart(at(10, 0, 0), "")
	require.NoError(t, err)

	clk.Set(at(9, 56, 0))
	s.tick()
	require.Len(t, ev.Warnings(), 1)

	// Still within warningMinutes+1: flag kept.
	clk.Set(at(9, 54, 30))
	s.tick()
	assert.True(t, s.Snapshot()[0].WarningsIssued)

	clk.Set(at(9, 50, 0))
	s.tick()
	assert.False(t, s.Snapshot()[0].WarningsIssued)

	clk.Set(at(9, 57, 0))
	s.tick()
	require.Len(t, ev.Warnings(), 2)
	assert.Equal(t, 3, ev.Warnings()[1].MinutesRemaining)
}

func TestTick_ZeroWarningMinutesNeverWarns(t *testing.T) {
	s, clk, srv, ev, _ := newTestScheduler(t, at(7, 0, 0))
	_, err := s.AddRecurringRestart("07:05", 0, "")
	require.NoError(t, err)

	clk.Set(at(7, 4, 59))
	s.tick()
	assert.Empty(t, ev.Warnings())

	clk.Set(at(7, 5, 0))
	s.tick()
	assert.EqualValues(t, 1, srv.restarts.Load())
}

func TestAddRecurringRestart_PastTimeGoesToTomorrow(t *testing.T) {
	s, _, _, _, _ := newTestScheduler(t, at(18, 0, 0))

	e, err := s.AddRecurringRestart("06:00", 5, "")
	require.NoError(t, err)
	assert.Equal(t, at(6, 0, 0).AddDate(0, 0, 1), e.ScheduledTime)

	e, err = s.AddRecurringRestart("18:00", 5, "")
	require.NoError(t, err)
	assert.Equal(t, at(18, 0, 0).AddDate(0, 0, 1), e.ScheduledTime, "an occurrence equal to now is not ahead")
}

func TestAdd_Validation(t *testing.T) {
	s, _, _, _, rec := newTestScheduler(t, at(12, 0, 0))

	_, err := s.AddOneTimeRestart(at(12, 0, 0), "")
	assert.ErrorIs(t, err, ErrNotInFuture)
	_, err = s.AddOneTimeRestart(at(11, 0, 0), "")
	assert.ErrorIs(t, err, ErrNotInFuture)

	for _, bad := range []string{"", "25:00", "12:60", "noon", "12-30"} {
		_, err = s.AddRecurringRestart(bad, 5, "")
		assert.ErrorIs(t, err, ErrInvalidTimeOfDay, bad)
	}
	_, err = s.AddRecurringRestart("12:30", -1, "")
	assert.ErrorIs(t, err, ErrNegativeWarning)

	assert.Zero(t, s.Len())
	assert.GreaterOrEqual(t, rec.Count("error"), 8)
}

func TestSnapshot_OrderedAndCopied(t *testing.T) {
	s, _, _, _, _ := newTestScheduler(t, at(8, 0, 0))
	_, err := s.AddRecurringRestart("20:00", 5, "")
	require.NoError(t, err)
	_, err = s.AddOneTimeRestart(at(9, 0, 0), "")
	require.NoError(t, err)
	_, err = s.AddRecurringRestart("10:00", 5, "")
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, at(9, 0, 0), snap[0].ScheduledTime)
	assert.Equal(t, at(10, 0, 0), snap[1].ScheduledTime)
	assert.Equal(t, at(20, 0, 0), snap[2].ScheduledTime)

	snap[1].RecurrencePattern.Hour = 3
	snap[1].IsProcessed = true
	again := s.Snapshot()
	assert.Equal(t, 10, again[1].RecurrencePattern.Hour)
	assert.False(t, again[1].IsProcessed)

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, at(9, 0, 0), next.ScheduledTime)
}

func TestRemoveAndClear(t *testing.T) {
	s, _, _, _, rec := newTestScheduler(t, at(8, 0, 0))
	a, err := s.AddRecurringRestart("09:00", 5, "")
	require.NoError(t, err)
	_, err = s.AddRecurringRestart("10:00", 5, "")
	require.NoError(t, err)

	assert.True(t, s.RemoveScheduledRestart(a.ID))
	assert.False(t, s.RemoveScheduledRestart(a.ID))
	assert.Equal(t, 1, s.Len())
	assert.True(t, rec.Contains("info", "scheduled restart removed"))

	s.ClearSchedule()
	assert.Zero(t, s.Len())
	assert.True(t, rec.Contains("info", "restart schedule cleared"))
	_, ok := s.Next()
	assert.False(t, ok)
}

func TestReload_RebuildsAndReportsBadTimes(t *testing.T) {
	s, _, _, _, rec := newTestScheduler(t, at(8, 0, 0))
	_, err := s.AddOneTimeRestart(at(9, 0, 0), "manual")
	require.NoError(t, err)

	err = s.Reload([]string{"18:00", "bogus", "06:00"}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTimeOfDay)
	assert.True(t, rec.Contains("error", "skipping restart time"))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, at(18, 0, 0), snap[0].ScheduledTime)
	assert.Equal(t, at(6, 0, 0).AddDate(0, 0, 1), snap[1].ScheduledTime)
	for _, e := range snap {
		assert.True(t, e.IsRecurring)
		assert.Equal(t, 10, e.WarningMinutes)
	}

	require.NoError(t, s.Reload(nil, 5))
	assert.Zero(t, s.Len())
	assert.ErrorIs(t, s.Reload(nil, -1), ErrNegativeWarning)
}

func TestOnStatus_StartingResyncsFiredEntries(t *testing.T) {
	s, clk, _, _, _ := newTestScheduler(t, at(5, 0, 0))
	e, err := s.AddRecurringRestart("06:00", 5, "")
	require.NoError(t, err)
	clk.Set(at(6, 0, 5))
	require.True(t, s.markProcessed(e.ID))

	s.OnStatus(status.NewEvent(status.Running, ""))
	assert.True(t, s.Snapshot()[0].IsProcessed)

	s.OnStatus(status.NewEvent(status.Starting, ""))
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].IsProcessed)
	assert.Equal(t, at(6, 0, 0).AddDate(0, 0, 1), snap[0].ScheduledTime)
}

func TestRestartNow_ImmediateAndDelayed(t *testing.T) {
	s, _, srv, ev, _ := newTestScheduler(t, at(8, 0, 0))

	require.NoError(t, s.RestartNow(context.Background(), "admin", 0))
	assert.EqualValues(t, 1, srv.restarts.Load())
	assert.Empty(t, ev.Warnings())
	require.Len(t, ev.Restarts(), 1)
	assert.True(t, ev.Restarts()[0].Manual)

	require.NoError(t, s.RestartNow(context.Background(), "soon", 20*time.Millisecond))
	assert.EqualValues(t, 2, srv.restarts.Load())
	require.Len(t, ev.Warnings(), 1)
	assert.True(t, ev.Warnings()[0].Manual)
	assert.Equal(t, 1, ev.Warnings()[0].MinutesRemaining)
}

func TestRestartNow_LaterCallSupersedesPending(t *testing.T) {
	s, _, srv, _, rec := newTestScheduler(t, at(8, 0, 0))

	first := make(chan error, 1)
	go func() { first <- s.RestartNow(context.Background(), "first", time.Hour) }()
	require.Eventually(t, func() bool {
		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		return s.pendingSeq == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.RestartNow(context.Background(), "second", 0))
	select {
	case err := <-first:
		assert.True(t, errors.Is(err, ErrRestartCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("first countdown was not cancelled")
	}
	assert.EqualValues(t, 1, srv.restarts.Load())
	assert.True(t, rec.Contains("info", "pending restart cancelled"))
}

func TestRestartNow_OverlappingDelayedCountdownsRestartOnce(t *testing.T) {
	s, _, srv, ev, _ := newTestScheduler(t, at(8, 0, 0))

	first := make(chan error, 1)
	go func() { first <- s.RestartNow(context.Background(), "first", 300*time.Millisecond) }()
	require.Eventually(t, func() bool {
		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		return s.pendingSeq == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.RestartNow(context.Background(), "second", 100*time.Millisecond))
	select {
	case err := <-first:
		assert.True(t, errors.Is(err, ErrRestartCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("first countdown was not cancelled")
	}

	// Past the first countdown's deadline: it must not fire late.
	time.Sleep(400 * time.Millisecond)
	assert.EqualValues(t, 1, srv.restarts.Load())
	require.Len(t, ev.Restarts(), 1)
	assert.Equal(t, "second", ev.Restarts()[0].Reason)
	require.Len(t, ev.Warnings(), 2)
	for _, w := range ev.Warnings() {
		assert.Equal(t, at(8, 0, 0), w.IssuedAt)
	}
}

func TestRestartNow_CancelledByContext(t *testing.T) {
	s, _, srv, _, _ := newTestScheduler(t, at(8, 0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	s.Initialize(ctx)

	done := make(chan error, 1)
	go func() { done <- s.RestartNow(context.Background(), "", time.Hour) }()
	require.Eventually(t, func() bool {
		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		return s.cancelPending != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRestartCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("countdown survived application shutdown")
	}
	assert.Zero(t, srv.restarts.Load())
}

func TestRestartNow_NoServer(t *testing.T) {
	s := New(nil, nil)
	assert.ErrorIs(t, s.RestartNow(context.Background(), "", 0), ErrNoServerToRestart)
}

func TestPollInterval_Clamped(t *testing.T) {
	assert.Equal(t, DefaultPollInterval, New(nil, nil).PollInterval())
	assert.Equal(t, MinPollInterval, New(nil, nil, WithPollInterval(time.Second)).PollInterval())
	assert.Equal(t, time.Minute, New(nil, nil, WithPollInterval(time.Minute)).PollInterval())
}

func TestInitialize_RestartsLoopAndCloseStopsIt(t *testing.T) {
	s := New(&fakeServer{}, nil)
	s.Initialize(context.Background())
	first := s.loopDone
	s.Initialize(context.Background())
	select {
	case <-first:
	default:
		t.Fatal("previous poll loop still running")
	}
	second := s.loopDone
	s.Close()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("poll loop did not stop")
	}
	s.Close()
}
