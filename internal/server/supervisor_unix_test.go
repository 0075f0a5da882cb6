//go:build !windows

package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

type statusLog struct {
	mu     sync.Mutex
	events []status.StatusEvent
}

func (l *statusLog) OnStatus(e status.StatusEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *statusLog) statuses() []status.ServerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]status.ServerStatus, len(l.events))
	for i, e := range l.events {
		out[i] = e.Status
	}
	return out
}

func (l *statusLog) count(s status.ServerStatus) int {
	n := 0
	for _, x := range l.statuses() {
		if x == s {
			n++
		}
	}
	return n
}

func (l *statusLog) all() []status.StatusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]status.StatusEvent(nil), l.events...)
}

func startSupervisor(t *testing.T, sc config.ServerConfig, rc config.RestartConfig, opts ...Option) (*DayZ, *statusLog, *notify.Recorder, <-chan struct{}) {
	t.Helper()
	rec := &notify.Recorder{}
	d := New(sc, rc, rec, opts...)
	log := &statusLog{}
	d.Subscribe(log)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		d.Stop(2 * time.Second)
		<-done
	})
	return d, log, rec, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not return")
	}
}

func TestRun_CrashIsFollowedByRestart(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nexit 1\n")
	d, log, rec, done := startSupervisor(t, sc, config.RestartConfig{StopTimeout: time.Second})

	require.Eventually(t, func() bool { return log.count(status.Starting) >= 2 }, 5*time.Second, 10*time.Millisecond)
	d.Stop(time.Second)
	waitDone(t, done)

	got := log.statuses()
	require.GreaterOrEqual(t, len(got), 5)
	assert.Equal(t, []status.ServerStatus{status.Starting, status.Running, status.Crashed, status.Restarting, status.Starting}, got[:5])
	assert.Equal(t, "1", log.all()[2].Detail)
	assert.True(t, rec.Contains("warning", "server exited unexpectedly"))
}

func TestRun_CleanExitIsFollowedByRestart(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nexit 0\n")
	d, log, _, done := startSupervisor(t, sc, config.RestartConfig{StopTimeout: time.Second})

	require.Eventually(t, func() bool { return log.count(status.Starting) >= 2 }, 5*time.Second, 10*time.Millisecond)
	d.Stop(time.Second)
	waitDone(t, done)

	got := log.statuses()
	assert.Equal(t, []status.ServerStatus{status.Starting, status.Running, status.Stopped, status.Restarting, status.Starting}, got[:5])
	assert.Zero(t, log.count(status.Crashed))
}

func TestRun_RunningDetailIsPID(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nexec sleep 30\n")
	d, log, _, _ := startSupervisor(t, sc, config.RestartConfig{StopTimeout: time.Second})

	require.Eventually(t, func() bool { return d.PID() > 0 }, 5*time.Second, 10*time.Millisecond)
	cur := d.Current()
	assert.Equal(t, status.Running, cur.Status)
	events := log.all()
	assert.Equal(t, status.Running, events[1].Status)
	assert.NotEmpty(t, events[1].Detail)
}

func TestStop_GracefulEmitsStoppingThenStopped(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nexec sleep 30\n")
	d, log, _, done := startSupervisor(t, sc, config.RestartConfig{DelaySeconds: 0, StopTimeout: time.Second})

	require.Eventually(t, func() bool { return d.PID() > 0 }, 5*time.Second, 10*time.Millisecond)
	d.Stop(5 * time.Second)
	waitDone(t, done)

	assert.Equal(t, []status.ServerStatus{status.Starting, status.Running, status.Stopping, status.Stopped}, log.statuses())
	assert.Equal(t, status.Stopped, d.Current().Status)
	assert.Zero(t, d.PID())

	// Second call: nothing running, nothing emitted.
	d.Stop(time.Second)
	assert.Len(t, log.statuses(), 4)
}

func TestStop_ForceKillsAfterTimeout(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\ntrap '' TERM\nwhile true; do sleep 1; done\n")
	d, log, rec, done := startSupervisor(t, sc, config.RestartConfig{StopTimeout: time.Second})

	require.Eventually(t, func() bool { return d.PID() > 0 }, 5*time.Second, 10*time.Millisecond)
	d.Stop(200 * time.Millisecond)
	waitDone(t, done)

	assert.True(t, rec.Contains("warning", "did not exit in time"))
	got := log.statuses()
	assert.Equal(t, status.Stopped, got[len(got)-1])
	assert.Zero(t, log.count(status.Crashed))
}

func TestRequestRestart_RelaunchesServer(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nexec sleep 30\n")
	d, log, _, _ := startSupervisor(t, sc, config.RestartConfig{StopTimeout: 5 * time.Second})

	require.Eventually(t, func() bool { return d.PID() > 0 }, 5*time.Second, 10*time.Millisecond)
	first := d.PID()
	d.RequestRestart()
	require.Eventually(t, func() bool { return log.count(status.Running) >= 2 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []status.ServerStatus{
		status.Starting, status.Running, status.Stopping, status.Stopped, status.Restarting, status.Starting, status.Running,
	}, log.statuses()[:7])
	assert.Equal(t, "restart requested", log.all()[3].Detail)
	assert.NotEqual(t, first, d.PID())
}

func TestRequestRestart_NoServerIsNoop(t *testing.T) {
	d := New(config.ServerConfig{}, config.RestartConfig{}, nil)
	log := &statusLog{}
	d.Subscribe(log)
	d.RequestRestart()
	assert.Empty(t, log.statuses())
}

func TestRun_SpawnFailureRetries(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\n")
	sc.Executable = filepath.Join(filepath.Dir(sc.Executable), "missing")
	d, log, rec, done := startSupervisor(t, sc, config.RestartConfig{}, WithSpawnBackoff(20*time.Millisecond))

	require.Eventually(t, func() bool { return rec.Count("error") >= 2 }, 5*time.Second, 10*time.Millisecond)
	d.Stop(time.Second)
	waitDone(t, done)
	assert.Empty(t, log.statuses())
	assert.True(t, rec.Contains("error", "server launch failed"))
}

func TestRun_StopDuringRestartDelay(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nexit 3\n")
	d, log, _, done := startSupervisor(t, sc, config.RestartConfig{DelaySeconds: 60})

	require.Eventually(t, func() bool { return log.count(status.Crashed) == 1 }, 5*time.Second, 10*time.Millisecond)
	d.Stop(time.Second)
	waitDone(t, done)
	assert.Equal(t, []status.ServerStatus{status.Starting, status.Running, status.Crashed}, log.statuses())
}

func TestRun_CapturesOutput(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\necho hello-from-server\necho oops >&2\nexec sleep 30\n")
	sc.LogOutput = true
	d, _, _, done := startSupervisor(t, sc, config.RestartConfig{StopTimeout: time.Second})

	out := filepath.Join(sc.Resolve(sc.ProfilesDir), "server_stdout.log")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && string(b) == "hello-from-server\n"
	}, 5*time.Second, 20*time.Millisecond)
	d.Stop(2 * time.Second)
	waitDone(t, done)

	b, err := os.ReadFile(filepath.Join(sc.Resolve(sc.ProfilesDir), "server_stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(b))
}

func TestRun_PassesEnvironment(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\necho \"$DAYZ_TEST_VAR\" > env.out\nexec sleep 30\n")
	sc.Env = []string{"DAYZ_TEST_VAR=from-config"}
	d, _, _, done := startSupervisor(t, sc, config.RestartConfig{StopTimeout: time.Second})

	out := filepath.Join(filepath.Dir(sc.Executable), "env.out")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && string(b) == "from-config\n"
	}, 5*time.Second, 20*time.Millisecond)
	d.Stop(2 * time.Second)
	waitDone(t, done)
}

func TestStop_FromRunningObserver(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nexec sleep 30\n")
	rec := &notify.Recorder{}
	d := New(sc, config.RestartConfig{StopTimeout: 2 * time.Second}, rec)
	log := &statusLog{}
	d.Subscribe(log)
	var once sync.Once
	d.Subscribe(status.ObserverFunc(func(e status.StatusEvent) {
		if e.Status != status.Running {
			return
		}
		once.Do(func() {
			go d.Stop(time.Second)
			// Slow observer: the stop lands while Running is still being delivered.
			time.Sleep(200 * time.Millisecond)
		})
	}))

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	waitDone(t, done)

	assert.Equal(t, []status.ServerStatus{status.Starting, status.Running, status.Stopping, status.Stopped}, log.statuses())
	assert.Equal(t, status.Stopped, d.Current().Status)
	assert.Zero(t, log.count(status.Crashed))
}

func TestRequestRestart_ServerExitsBeforeSignal(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\nsleep 0.3\nexit 4\n")
	d, log, rec, _ := startSupervisor(t, sc, config.RestartConfig{DelaySeconds: 60, StopTimeout: time.Second})
	var once sync.Once
	d.Subscribe(status.ObserverFunc(func(e status.StatusEvent) {
		if e.Status == status.Stopping {
			// Hold the restart until the server has exited by itself.
			once.Do(func() { time.Sleep(800 * time.Millisecond) })
		}
	}))

	require.Eventually(t, func() bool { return d.PID() > 0 }, 5*time.Second, 10*time.Millisecond)
	d.RequestRestart()
	require.Eventually(t, func() bool { return log.count(status.Crashed) == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []status.ServerStatus{status.Starting, status.Running, status.Stopping, status.Crashed}, log.statuses())
	assert.Equal(t, "4", log.all()[3].Detail)
	assert.False(t, rec.Contains("error", "failed to signal server"))
}

func TestRun_RepeatedSpawnFailureIsCritical(t *testing.T) {
	sc := serverTree(t, "#!/bin/sh\n")
	sc.Executable = filepath.Join(filepath.Dir(sc.Executable), "missing")
	d, _, rec, done := startSupervisor(t, sc, config.RestartConfig{}, WithSpawnBackoff(10*time.Millisecond))

	require.Eventually(t, func() bool { return rec.Count("critical") == 1 }, 5*time.Second, 10*time.Millisecond)
	d.Stop(time.Second)
	waitDone(t, done)
	assert.True(t, rec.Contains("critical", "keeps failing to launch"))
}
