package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
)

// Upcaster rewrites an audit event payload from one schema version to the
// next.
type Upcaster interface {
	FromVersion() int
	ToVersion() int
	Upcast(payload json.RawMessage) (json.RawMessage, error)
}

type EventCodec struct {
	upcasters map[int]Upcaster
}

func NewEventCodec(upcasters ...Upcaster) *EventCodec {
	m := make(map[int]Upcaster, len(upcasters))
	for _, up := range upcasters {
		m[up.FromVersion()] = up
	}
	return &EventCodec{upcasters: m}
}

// Decode parses an outbox payload and brings it to the current version.
func (c *EventCodec) Decode(raw []byte) (domain.EventEnvelope, error) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	return c.Normalize(envelope)
}

func (c *EventCodec) Normalize(envelope domain.EventEnvelope) (domain.EventEnvelope, error) {
	if envelope.EventID == "" {
		return domain.EventEnvelope{}, fmt.Errorf("event envelope has no event id")
	}
	if !envelope.EntityKind.Valid() {
		return domain.EventEnvelope{}, fmt.Errorf("event %s: unknown entity kind %q", envelope.EventID, envelope.EntityKind)
	}
	if envelope.SchemaVersion > domain.CurrentEventSchemaVersion {
		return domain.EventEnvelope{}, fmt.Errorf("event %s: schema version %d is newer than %d", envelope.EventID, envelope.SchemaVersion, domain.CurrentEventSchemaVersion)
	}

	v := envelope.SchemaVersion
	payload := envelope.Payload
	for v < domain.CurrentEventSchemaVersion {
		up, ok := c.upcasters[v]
		if !ok {
			return domain.EventEnvelope{}, fmt.Errorf("event %s: missing upcaster from version %d", envelope.EventID, v)
		}
		next, err := up.Upcast(payload)
		if err != nil {
			return domain.EventEnvelope{}, fmt.Errorf("event %s: upcast %d->%d: %w", envelope.EventID, up.FromVersion(), up.ToVersion(), err)
		}
		payload = next
		v = up.ToVersion()
	}

	envelope.SchemaVersion = v
	envelope.Payload = payload
	return envelope, nil
}
