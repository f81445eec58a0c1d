package events

import (
	"context"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/sirupsen/logrus"
)

// LogPublisher writes every audit event to the log. It is the publisher
// used when no webhook is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.log.WithFields(logrus.Fields{
		"topic":       topic,
		"event_id":    event.EventID,
		"event_type":  event.EventType,
		"entity_kind": event.EntityKind,
		"entity_id":   event.EntityID,
		"audit_id":    event.AuditID,
		"actor":       event.Actor,
	}).Info("audit event published")
	return nil
}
