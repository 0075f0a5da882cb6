// Package server supervises the dedicated game server process.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/env"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/logger"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

const (
	// DefaultSpawnBackoff is the pause after a failed launch attempt.
	DefaultSpawnBackoff = 10 * time.Second
	// killGrace bounds the wait for exit after a forced kill.
	killGrace = 2 * time.Second
	// criticalFailures is the number of consecutive launch failures after
	// which they are reported as critical.
	criticalFailures = 3
)

// Supervisor owns the server process lifecycle.
type Supervisor interface {
	VerifyEnvironment() bool
	Run(ctx context.Context)
	Stop(timeout time.Duration)
	Subscribe(status.Observer) (unsubscribe func())
	Current() status.StatusEvent
}

var _ Supervisor = (*DayZ)(nil)

type Option func(*DayZ)

// WithBus publishes status events to b instead of a private bus.
func WithBus(b *status.Bus) Option { return func(d *DayZ) { d.bus = b } }

// WithOutputRotation sets rotation limits for captured server output.
func WithOutputRotation(c logger.Config) Option { return func(d *DayZ) { d.rotation = c } }

// WithSpawnBackoff overrides DefaultSpawnBackoff.
func WithSpawnBackoff(b time.Duration) Option { return func(d *DayZ) { d.backoff = b } }

// DayZ supervises one DayZ server: it launches it, relaunches after every
// exit while keep-running is set, and stops it on request.
type DayZ struct {
	notifier notify.Notifier
	bus      *status.Bus
	rotation logger.Config
	backoff  time.Duration

	mu          sync.Mutex
	server      config.ServerConfig
	delay       time.Duration
	stopTimeout time.Duration
	keepRunning bool
	proc        *os.Process
	exited      chan struct{}
	// announced is closed once Starting and Running are delivered; stop and
	// restart requests wait for it so their events follow.
	announced  chan struct{}
	stopping   bool
	restarting bool
	// restartDecided is closed by RequestRestart after it has published
	// Stopping and decided whether to signal the server (restartSignalled).
	restartDecided   chan struct{}
	restartSignalled bool

	pubMu   sync.Mutex
	current status.StatusEvent

	wake chan struct{}
}

// New creates a supervisor for the server described by sc. It does not
// launch anything until Run is called.
func New(sc config.ServerConfig, rc config.RestartConfig, n notify.Notifier, opts ...Option) *DayZ {
	if n == nil {
		n = notify.Discard{}
	}
	d := &DayZ{
		notifier:    n,
		backoff:     DefaultSpawnBackoff,
		server:      sc,
		delay:       rc.Delay(),
		stopTimeout: rc.StopTimeout,
		keepRunning: true,
		current:     status.NewEvent(status.Stopped, ""),
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(d)
	}
	if d.bus == nil {
		d.bus = status.NewBus()
	}
	return d
}

// Configure replaces the launch parameters. They take effect on the next
// launch; a running server is left alone.
func (d *DayZ) Configure(sc config.ServerConfig, rc config.RestartConfig) {
	d.mu.Lock()
	d.server = sc
	d.delay = rc.Delay()
	d.stopTimeout = rc.StopTimeout
	d.mu.Unlock()
}

func (d *DayZ) snapshot() (config.ServerConfig, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server, d.delay
}

func (d *DayZ) VerifyEnvironment() bool {
	sc, _ := d.snapshot()
	return Verify(sc, d.notifier)
}

func (d *DayZ) Subscribe(o status.Observer) (unsubscribe func()) {
	return d.bus.Subscribe(o)
}

// Current returns the most recently published status event.
func (d *DayZ) Current() status.StatusEvent {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	return d.current
}

// PID returns the running server's process id, or 0.
func (d *DayZ) PID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return 0
	}
	return d.proc.Pid
}

func (d *DayZ) publish(s status.ServerStatus, detail string) {
	e := status.NewEvent(s, detail)
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	d.current = e
	d.bus.Publish(e)
}

func (d *DayZ) running(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keepRunning
}

// Run launches the server and relaunches it after every exit until Stop is
// called or ctx is done. ctx is only consulted between launches; a running
// server is brought down with Stop. Launch failures are retried forever after
// a fixed backoff.
func (d *DayZ) Run(ctx context.Context) {
	failures := 0
	for d.running(ctx) {
		err := d.runOnce(ctx)
		if err == nil {
			failures = 0
			continue
		}
		failures++
		if failures == criticalFailures {
			d.notifier.Critical("server keeps failing to launch", "attempts", failures, "error", err)
		} else {
			d.notifier.Error("server launch failed", "error", err, "retry_in", d.backoff.String())
		}
		d.sleep(ctx, d.backoff)
	}
}

func (d *DayZ) runOnce(ctx context.Context) error {
	sc, delay := d.snapshot()
	cmd, closeOutput, err := d.command(sc)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		closeOutput()
		return fmt.Errorf("start %s: %w", sc.Executable, err)
	}
	pid := cmd.Process.Pid

	exited, announced := make(chan struct{}), make(chan struct{})
	d.mu.Lock()
	keep := d.keepRunning
	if keep {
		d.proc, d.exited, d.announced = cmd.Process, exited, announced
		d.stopping, d.restarting = false, false
		d.restartDecided, d.restartSignalled = nil, false
	}
	d.mu.Unlock()
	if !keep {
		// Stop ran while the process was being spawned and saw nothing to stop.
		d.notifier.Info("stop requested during launch, terminating server", "pid", pid)
		d.discard(cmd, closeOutput)
		return nil
	}

	d.notifier.Info("server started", "pid", pid, "args", cmd.Args[1:])
	d.publish(status.Starting, "")
	d.publish(status.Running, strconv.Itoa(pid))
	close(announced)

	if err := applyLimits(pid, CPUCount(cpuCores(), sc.CPUCount), sc.MemoryMB); err != nil {
		d.notifier.Debug("could not apply resource limits", "pid", pid, "error", err)
	}

	werr := cmd.Wait()
	closeOutput()
	close(exited)

	d.mu.Lock()
	stopping, restarting, decided := d.stopping, d.restarting, d.restartDecided
	d.mu.Unlock()
	if restarting && !stopping {
		<-decided
	}

	d.mu.Lock()
	stopping = d.stopping
	requested := restarting && d.restartSignalled
	d.proc, d.exited, d.announced = nil, nil, nil
	d.mu.Unlock()

	if stopping {
		// Stop publishes the remaining events.
		return nil
	}
	code, detail := exitCode(werr)
	switch {
	case requested:
		d.publish(status.Stopped, "restart requested")
	case code == 0:
		d.notifier.Info("server exited", "pid", pid)
		d.publish(status.Stopped, "")
	default:
		d.notifier.Warning("server exited unexpectedly", "pid", pid, "exit_code", detail)
		d.publish(status.Crashed, detail)
	}

	if !d.running(ctx) || !d.sleep(ctx, delay) || !d.running(ctx) {
		return nil
	}
	d.publish(status.Restarting, "")
	return nil
}

// discard terminates a server that was spawned after Stop, without
// announcing it, and publishes Stopped.
func (d *DayZ) discard(cmd *exec.Cmd, closeOutput func()) {
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		closeOutput()
		close(exited)
	}()
	d.mu.Lock()
	timeout := d.stopTimeout
	d.mu.Unlock()
	d.halt(cmd.Process, exited, timeout)
	d.publish(status.Stopped, "")
}

// command prepares the server process with its environment, working
// directory and output capture.
func (d *DayZ) command(sc config.ServerConfig) (*exec.Cmd, func(), error) {
	exe, err := filepath.Abs(sc.Executable)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve executable: %w", err)
	}
	files := make([]string, len(sc.EnvFiles))
	for i, f := range sc.EnvFiles {
		files[i] = sc.Resolve(f)
	}
	environ, err := env.Env{UseOS: sc.UseOSEnv, Files: files, Overrides: sc.Env}.Compose()
	if err != nil {
		return nil, nil, fmt.Errorf("compose environment: %w", err)
	}

	cmd := exec.Command(exe, LaunchArgs(sc)...)
	cmd.Dir = filepath.Dir(exe)
	cmd.Env = environ
	cmd.SysProcAttr = sysProcAttr()

	closeOutput := func() {}
	if sc.LogOutput {
		profiles := sc.Resolve(sc.ProfilesDir)
		stdout := d.rotation.RotatingWriter(filepath.Join(profiles, "server_stdout.log"))
		stderr := d.rotation.RotatingWriter(filepath.Join(profiles, "server_stderr.log"))
		cmd.Stdout, cmd.Stderr = stdout, stderr
		closeOutput = func() {
			_ = stdout.Close()
			_ = stderr.Close()
		}
	} else {
		cmd.Stdout, cmd.Stderr = io.Discard, io.Discard
	}
	return cmd, closeOutput, nil
}

// Stop clears keep-running and brings the server down: Stopping, a
// cooperative termination request, a forced kill once timeout passes, then
// Stopped. Without a running server only the flag changes.
func (d *DayZ) Stop(timeout time.Duration) {
	d.mu.Lock()
	d.keepRunning = false
	proc, exited, announced := d.proc, d.exited, d.announced
	owner := proc != nil && !d.stopping
	if owner {
		d.stopping = true
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	if !owner {
		return
	}
	<-announced
	d.notifier.Info("stopping server", "pid", proc.Pid, "timeout", timeout.String())
	d.publish(status.Stopping, "")
	d.halt(proc, exited, timeout)
	d.publish(status.Stopped, "")
}

// RequestRestart stops the running server but leaves keep-running set, so
// Run launches it again after the restart delay. It is a no-op when no
// server is running or one is already going down.
func (d *DayZ) RequestRestart() {
	d.mu.Lock()
	proc, exited, announced, timeout := d.proc, d.exited, d.announced, d.stopTimeout
	if proc == nil || d.stopping || d.restarting || isClosed(exited) {
		d.mu.Unlock()
		return
	}
	decided := make(chan struct{})
	d.restarting, d.restartDecided = true, decided
	d.mu.Unlock()

	<-announced
	d.notifier.Info("restart requested", "pid", proc.Pid)
	d.publish(status.Stopping, "restart requested")

	// A server that exited on its own meanwhile is classified by its exit.
	d.mu.Lock()
	signal := !isClosed(exited)
	d.restartSignalled = signal
	d.mu.Unlock()
	close(decided)
	if signal {
		d.halt(proc, exited, timeout)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (d *DayZ) halt(proc *os.Process, exited <-chan struct{}, timeout time.Duration) {
	if isClosed(exited) {
		return
	}
	if err := terminate(proc); err != nil {
		d.notifier.Error("failed to signal server", "pid", proc.Pid, "error", err)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-exited:
		return
	case <-t.C:
	}
	d.notifier.Warning("server did not exit in time, killing it", "pid", proc.Pid, "timeout", timeout.String())
	if err := forceKill(proc); err != nil {
		d.notifier.Error("failed to kill server", "pid", proc.Pid, "error", err)
	}
	select {
	case <-exited:
	case <-time.After(killGrace):
		d.notifier.Error("server still running after kill", "pid", proc.Pid)
	}
}

// sleep waits for dur and reports whether it elapsed without ctx ending or
// Stop being called.
func (d *DayZ) sleep(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-d.wake:
		return false
	}
}

func exitCode(err error) (int, string) {
	if err == nil {
		return 0, "0"
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code, strconv.Itoa(code)
		}
		return -1, ee.String()
	}
	return -1, err.Error()
}
