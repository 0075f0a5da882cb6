package scheduler

import (
	"errors"
	"math"
	"time"
)

// OneTimeWarningMinutes is the lead time given to restarts added with AddOneTimeRestart.
const OneTimeWarningMinutes = 5

var (
	ErrNotInFuture       = errors.New("restart time must be in the future")
	ErrInvalidTimeOfDay  = errors.New("invalid time of day")
	ErrNegativeWarning   = errors.New("warning minutes cannot be negative")
	ErrRestartCancelled  = errors.New("pending restart cancelled")
	ErrNoServerToRestart = errors.New("scheduler has no server to restart")
)

// ScheduledRestart is one entry of the schedule. Values handed out by the
// Scheduler are copies; changing them has no effect on the schedule.
//
// RecurrencePattern is non-nil exactly when IsRecurring is true.
type ScheduledRestart struct {
	ID                string     `json:"id"`
	ScheduledTime     time.Time  `json:"scheduled_time"`
	IsRecurring       bool       `json:"is_recurring"`
	WarningMinutes    int        `json:"warning_minutes"`
	Reason            string     `json:"reason,omitempty"`
	RecurrencePattern *TimeOfDay `json:"recurrence_pattern,omitempty"`

	// WarningsIssued guards against repeated warnings within one approach.
	WarningsIssued bool `json:"warnings_issued"`
	// IsProcessed guards against firing twice once due.
	IsProcessed bool `json:"is_processed"`
}

// MinutesUntil is the fractional number of minutes from now to the restart.
// It is negative once the restart time has passed.
func (r ScheduledRestart) MinutesUntil(now time.Time) float64 {
	return r.ScheduledTime.Sub(now).Minutes()
}

// inWarningWindow reports whether now is inside (T-warningMinutes, T).
func (r ScheduledRestart) inWarningWindow(now time.Time) bool {
	m := r.MinutesUntil(now)
	return m > 0 && m <= float64(r.WarningMinutes)
}

func (r ScheduledRestart) due(now time.Time) bool {
	return !now.Before(r.ScheduledTime)
}

// beyondHysteresis reports whether the entry has moved far enough away that
// a warning already issued should be forgotten.
func (r ScheduledRestart) beyondHysteresis(now time.Time) bool {
	return r.MinutesUntil(now) > float64(r.WarningMinutes+1)
}

func ceilMinutes(m float64) int {
	return int(math.Ceil(m))
}

func (r ScheduledRestart) clone() ScheduledRestart {
	c := r
	if r.RecurrencePattern != nil {
		p := *r.RecurrencePattern
		c.RecurrencePattern = &p
	}
	return c
}
