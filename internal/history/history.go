// Package history archives published telemetry into analytics stores.
package history

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one archived telemetry message.
type Event struct {
	ID         string         `json:"id"`
	Domain     string         `json:"domain"`
	Type       string         `json:"event"`
	EntityID   string         `json:"entity_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// DetailsJSON renders Details for text columns. An empty map renders as "{}".
func (e Event) DetailsJSON() string {
	if len(e.Details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
