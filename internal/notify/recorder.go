package notify

import (
	"fmt"
	"strings"
	"sync"
)

// Message is one captured notification.
type Message struct {
	Level string
	Text  string
}

// Recorder keeps every notification in memory. Useful in tests and for the
// API's recent-messages view.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) add(level, msg string, args []any) {
	text := msg
	if len(args) > 0 {
		text = msg + " " + strings.TrimSuffix(fmt.Sprintln(args...), "\n")
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Level: level, Text: text})
	r.mu.Unlock()
}

func (r *Recorder) Debug(msg string, args ...any)    { r.add("debug", msg, args) }
func (r *Recorder) Info(msg string, args ...any)     { r.add("info", msg, args) }
func (r *Recorder) Warning(msg string, args ...any)  { r.add("warning", msg, args) }
func (r *Recorder) Error(msg string, args ...any)    { r.add("error", msg, args) }
func (r *Recorder) Critical(msg string, args ...any) { r.add("critical", msg, args) }

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Count returns how many messages were recorded at level.
func (r *Recorder) Count(level string) int {
	n := 0
	for _, m := range r.Messages() {
		if m.Level == level {
			n++
		}
	}
	return n
}

// Contains reports whether any message at level contains substr.
func (r *Recorder) Contains(level, substr string) bool {
	for _, m := range r.Messages() {
		if m.Level == level && strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}
