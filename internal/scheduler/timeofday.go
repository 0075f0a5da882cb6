package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, used as the recurrence
// pattern of a daily restart.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

var todLayouts = []string{"15:04", "15:04:05"}

// ParseTimeOfDay accepts "HH:mm" (the configuration format), "H:mm" and "HH:mm:ss".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range todLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%w: %q (expected HH:mm)", ErrInvalidTimeOfDay, s)
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at t on the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

// Next returns today's occurrence if it is still ahead of now, otherwise tomorrow's.
func (t TimeOfDay) Next(now time.Time) time.Time {
	today := t.On(now)
	if today.After(now) {
		return today
	}
	return t.Tomorrow(now)
}

// Tomorrow returns the occurrence on the calendar day after now.
func (t TimeOfDay) Tomorrow(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, t.Hour, t.Minute, t.Second, 0, now.Location())
}
