package status

import (
	"fmt"
	"time"
)

// ServerStatus is the lifecycle state of the supervised server process.
type ServerStatus int32

const (
	Stopped ServerStatus = iota
	Starting
	Running
	Stopping
	Crashed
	Restarting
)

func (s ServerStatus) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Crashed:
		return "crashed"
	case Restarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// All lists every status in declaration order. Used to zero gauges.
func All() []ServerStatus {
	return []ServerStatus{Stopped, Starting, Running, Stopping, Crashed, Restarting}
}

// StatusEvent is an immutable record of one status transition.
// Detail is empty when no detail was supplied.
type StatusEvent struct {
	Status     ServerStatus `json:"status"`
	Detail     string       `json:"detail,omitempty"`
	ObservedAt time.Time    `json:"observed_at"`
}

func NewEvent(s ServerStatus, detail string) StatusEvent {
	return StatusEvent{Status: s, Detail: detail, ObservedAt: time.Now()}
}

func (e StatusEvent) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("{Status: %v, ObservedAt: %v}", e.Status, e.ObservedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("{Status: %v, Detail: %v, ObservedAt: %v}", e.Status, e.Detail, e.ObservedAt.Format(time.RFC3339))
}

// MarshalText lets ServerStatus render as its name in JSON payloads.
func (s ServerStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
