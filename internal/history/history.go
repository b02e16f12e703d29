package history

import (
	"context"
	"time"
)

// Event is one journal status change, exported so external analytics can
// follow a suite without scraping the journal files.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	ID         string    `json:"id"`      // flavour:path
	Flavour    string    `json:"flavour"` // split out for grouping
	Path       string    `json:"path"`
	Code       string    `json:"code"` // journal word
	Slot       int       `json:"slot"`
	DurationMS int64     `json:"duration_ms"` // 0 for non-terminal events
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use; send failures are logged by the caller and never
// affect the run.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
