package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
)

type ReplayEvent struct {
	Envelope domain.EventEnvelope `json:"envelope"`
	Seq      int64                `json:"seq"`
}

// ReplayAudit walks the audit log in order, starting after filter.AfterSeq,
// and hands every record to applyFn as an event envelope.
func ReplayAudit(ctx context.Context, audit *AuditService, codec *EventCodec, filter domain.AuditFilter, applyFn func(ReplayEvent) error) error {
	for {
		records, err := audit.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list audit records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		for _, r := range records {
			envelope := domain.EventEnvelope{
				EventID:       r.ID,
				EventType:     string(r.EntityKind) + "." + string(r.Operation),
				SchemaVersion: domain.CurrentEventSchemaVersion,
				EntityKind:    r.EntityKind,
				EntityID:      r.EntityID,
				AuditID:       r.ID,
				OccurredAt:    r.CreatedAt,
				Actor:         r.CreatedBy,
				Payload:       r.Snapshot,
			}
			if len(envelope.Payload) == 0 {
				envelope.Payload = json.RawMessage(`{}`)
			}

			normalized, err := codec.Normalize(envelope)
			if err != nil {
				return fmt.Errorf("normalize audit record %d: %w", r.Seq, err)
			}
			if err := applyFn(ReplayEvent{Envelope: normalized, Seq: r.Seq}); err != nil {
				return fmt.Errorf("apply audit record %d: %w", r.Seq, err)
			}
			filter.AfterSeq = r.Seq
		}
	}
}
