package scheduler

import (
	"sync"
	"time"
)

// WarningEvent announces an upcoming restart.
type WarningEvent struct {
	EntryID          string        `json:"entry_id,omitempty"`
	ScheduledTime    time.Time     `json:"scheduled_time"`
	Remaining        time.Duration `json:"remaining"`
	MinutesRemaining int           `json:"minutes_remaining"`
	Reason           string        `json:"reason,omitempty"`
	Manual           bool          `json:"manual"`
	IssuedAt         time.Time     `json:"issued_at"`
}

// RestartEvent announces that a restart is being carried out now.
type RestartEvent struct {
	EntryID     string    `json:"entry_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Manual      bool      `json:"manual"`
	InitiatedAt time.Time `json:"initiated_at"`
}

// Listener receives scheduler events. Either field may be nil.
type Listener struct {
	OnWarning func(WarningEvent)
	OnRestart func(RestartEvent)
}

type listeners struct {
	mu     sync.RWMutex
	nextID int
	m      map[int]Listener
}

func (l *listeners) add(x Listener) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int]Listener)
	}
	id := l.nextID
	l.nextID++
	l.m[id] = x
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.m, id)
		l.mu.Unlock()
	}
}

func (l *listeners) snapshot() []Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Listener, 0, len(l.m))
	for _, x := range l.m {
		out = append(out, x)
	}
	return out
}

func (l *listeners) warning(e WarningEvent) {
	for _, x := range l.snapshot() {
		if x.OnWarning != nil {
			x.OnWarning(e)
		}
	}
}

func (l *listeners) restart(e RestartEvent) {
	for _, x := range l.snapshot() {
		if x.OnRestart != nil {
			x.OnRestart(e)
		}
	}
}
