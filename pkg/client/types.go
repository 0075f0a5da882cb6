package client

import "time"

// Status is the body of GET /status.
type Status struct {
	Status     string         `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
	PID        int            `json:"pid,omitempty"`
	Resources  *Resources     `json:"resources,omitempty"`
	Next       *ScheduleEntry `json:"next_restart,omitempty"`
}

// Resources is the latest resource sample of the server process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ScheduleEntry is one scheduled restart.
type ScheduleEntry struct {
	ID             string    `json:"id"`
	At             time.Time `json:"at"`
	Recurring      bool      `json:"recurring"`
	TimeOfDay      string    `json:"time_of_day,omitempty"`
	WarningMinutes int       `json:"warning_minutes"`
	Reason         string    `json:"reason,omitempty"`
}

// OnceRequest schedules a single restart.
type OnceRequest struct {
	Time   time.Time `json:"time"`
	Reason string    `json:"reason,omitempty"`
}

// RecurringRequest schedules a daily restart. A nil WarningMinutes uses the
// server default.
type RecurringRequest struct {
	TimeOfDay      string `json:"time_of_day"`
	WarningMinutes *int   `json:"warning_minutes,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// RestartRequest asks for a restart after DelaySeconds.
type RestartRequest struct {
	Reason       string `json:"reason,omitempty"`
	DelaySeconds int    `json:"delay_seconds,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
