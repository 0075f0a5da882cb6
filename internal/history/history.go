// Package history records server status changes and scheduler events to
// external stores for later analysis.
package history

import (
	"context"
	"time"
)

// Kind says which stream an Event came from.
type Kind string

const (
	KindStatus  Kind = "status"
	KindWarning Kind = "warning"
	KindRestart Kind = "restart"
)

// Event is one row of launcher history.
type Event struct {
	Kind       Kind      `json:"kind"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Table is the table name used by the SQL sinks and the ClickHouse default.
const Table = "server_history"
