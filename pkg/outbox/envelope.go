package outbox

import (
	"encoding/json"
	"time"
)

// SourceRef identifies the provider event that caused the change.
type SourceRef struct {
	Provider  string `json:"provider"`
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     *SourceRef      `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}
