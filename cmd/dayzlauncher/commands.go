package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/app"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/lock"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/logger"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/scheduler"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/server"
)

// command implements the CLI actions; cobra only parses flags into it.
type command struct {
	out    io.Writer
	errOut io.Writer
}

func (c command) Run(f RunFlags) error {
	loader := config.NewLoader(f.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	l, err := c.acquire(cfg.LockFile, f.LockWait)
	if errors.Is(err, lock.ErrLockedElsewhere) || errors.Is(err, context.DeadlineExceeded) {
		_, _ = fmt.Fprintf(c.out, "another launcher is already running (lock %s), exiting\n", cfg.LockFile)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	opts := []app.Option{app.WithConsole(c.errOut)}
	if !f.NoWatch {
		opts = append(opts, app.WithLoader(loader))
	}
	a, err := app.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func (c command) acquire(path string, wait time.Duration) (*lock.Lock, error) {
	if wait <= 0 {
		return lock.Acquire(path)
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return lock.AcquireWait(ctx, path)
}

func (c command) Verify(f GlobalFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	n, closer, err := c.notifier(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if !server.Verify(cfg.Server, n) {
		return app.ErrEnvironment
	}
	_, _ = fmt.Fprintln(c.out, "server installation OK")
	return nil
}

func (c command) Args(f GlobalFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, cfg.Server.Executable)
	for _, a := range server.LaunchArgs(cfg.Server) {
		_, _ = fmt.Fprintln(c.out, a)
	}
	return nil
}

func (c command) Schedule(f GlobalFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	s := scheduler.New(nil, notify.Discard{})
	if err := s.Reload(cfg.Restart.Times, cfg.Restart.WarningMinutes); err != nil {
		return err
	}
	entries := s.Snapshot()
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(c.out, "no scheduled restarts")
		return nil
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(c.out, "%s  next %s  warning %dm\n",
			e.RecurrencePattern, e.ScheduledTime.Format("2006-01-02 15:04:05 MST"), e.WarningMinutes)
	}
	return nil
}

func (c command) notifier(cfg *config.Config) (notify.Notifier, io.Closer, error) {
	lc := cfg.Log
	lc.File = ""
	l, closer, err := logger.New(lc, c.errOut)
	if err != nil {
		return nil, nil, err
	}
	return notify.NewSlog(l), closer, nil
}
