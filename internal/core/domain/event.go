package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

// EventEnvelope is the payload stored in the outbox and delivered to
// publishers for every recorded audit entry.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	EntityKind    EntityKind      `json:"entity_kind"`
	EntityID      string          `json:"entity_id"`
	AuditID       string          `json:"audit_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Actor         string          `json:"actor"`
	Payload       json.RawMessage `json:"payload"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
