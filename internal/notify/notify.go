// Package notify defines the leveled notification sink every launcher
// component reports through, plus its slog-backed implementation.
package notify

import (
	"context"
	"log/slog"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/logger"
)

// Notifier accepts leveled messages. Callers never rely on a result.
type Notifier interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warning(msg string, args ...any)
	Error(msg string, args ...any)
	Critical(msg string, args ...any)
}

// Slog forwards notifications to a slog.Logger.
type Slog struct {
	l *slog.Logger
}

// NewSlog wraps l; a nil logger uses slog.Default().
func NewSlog(l *slog.Logger) *Slog {
	if l == nil {
		l = slog.Default()
	}
	return &Slog{l: l}
}

// With returns a notifier that adds args to every message.
func (s *Slog) With(args ...any) *Slog { return &Slog{l: s.l.With(args...)} }

func (s *Slog) Debug(msg string, args ...any)   { s.l.Debug(msg, args...) }
func (s *Slog) Info(msg string, args ...any)    { s.l.Info(msg, args...) }
func (s *Slog) Warning(msg string, args ...any) { s.l.Warn(msg, args...) }
func (s *Slog) Error(msg string, args ...any)   { s.l.Error(msg, args...) }
func (s *Slog) Critical(msg string, args ...any) {
	s.l.Log(context.Background(), logger.LevelCritical, msg, args...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Debug(string, ...any)    {}
func (Discard) Info(string, ...any)     {}
func (Discard) Warning(string, ...any)  {}
func (Discard) Error(string, ...any)    {}
func (Discard) Critical(string, ...any) {}
