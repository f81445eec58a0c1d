package entity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

var (
	insertAuditMessage = ports.Proc("csp_insert_audit_message")
	insertOutboxEvent  = ports.Proc("csp_insert_outbox_event")
)

var defaultRecorder = &Recorder{}

// Recorder appends audit rows inside the scope's transaction. With Outbox
// set, every audit row is paired with a pending outbox event.
type Recorder struct {
	Outbox bool
}

// Record writes one audit row. An empty snapshot writes nothing.
func (r *Recorder) Record(ctx context.Context, s *Scope, kind domain.EntityKind, id uuid.UUID, op domain.AuditOperation, snapshot, note string) error {
	if snapshot == "" {
		return nil
	}
	if err := s.checkWrite(); err != nil {
		return err
	}

	auditID := uuid.New()
	_, err := s.Rows.Execute(ctx, insertAuditMessage,
		ports.Arg("id", auditID.String()),
		ports.Arg("source_table", string(kind)),
		ports.Arg("source_id", id.String()),
		ports.Arg("operation", string(op)),
		ports.Arg("value", snapshot),
		ports.Arg("comments", note),
		ports.Arg("create_date", s.Actor.Now),
		ports.Arg("created_by", s.Actor.Name),
	)
	if err != nil {
		return fmt.Errorf("insert audit message for %s %s: %w", kind, id, err)
	}

	if !r.Outbox {
		return nil
	}
	return r.enqueue(ctx, s, kind, id, op, auditID, snapshot)
}

func (r *Recorder) enqueue(ctx context.Context, s *Scope, kind domain.EntityKind, id uuid.UUID, op domain.AuditOperation, auditID uuid.UUID, snapshot string) error {
	envelope := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     string(kind) + "." + string(op),
		SchemaVersion: domain.CurrentEventSchemaVersion,
		EntityKind:    kind,
		EntityID:      id.String(),
		AuditID:       auditID.String(),
		OccurredAt:    s.Actor.Now,
		Actor:         s.Actor.Name,
		Payload:       json.RawMessage(snapshot),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = s.Rows.Execute(ctx, insertOutboxEvent,
		ports.Arg("event_id", envelope.EventID),
		ports.Arg("topic", "audit."+envelope.EventType),
		ports.Arg("payload_json", string(payload)),
		ports.Arg("next_attempt_at", s.Actor.Now.UTC()),
		ports.Arg("created_at", s.Actor.Now.UTC()),
	)
	if err != nil {
		return fmt.Errorf("insert outbox event for %s %s: %w", kind, id, err)
	}
	return nil
}
