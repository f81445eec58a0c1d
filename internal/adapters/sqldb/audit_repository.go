package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb/gormdb"
	"github.com/atvirokodosprendimai/lims/internal/core/domain"
)

type auditLogModel struct {
	Seq         int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID          string    `gorm:"column:id;not null"`
	SourceTable string    `gorm:"column:source_table;not null"`
	SourceID    string    `gorm:"column:source_id;not null"`
	Operation   string    `gorm:"column:operation;not null"`
	Value       string    `gorm:"column:value;not null"`
	Comments    string    `gorm:"column:comments;not null"`
	CreateDate  time.Time `gorm:"column:create_date;not null"`
	CreatedBy   string    `gorm:"column:created_by;not null"`
}

func (auditLogModel) TableName() string {
	return "audit_log"
}

type AuditTrailRepository struct {
	db *gormdb.DB
}

func NewAuditTrailRepository(db *gormdb.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

// List returns audit rows in log order, starting after filter.AfterSeq.
func (r *AuditTrailRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	var rows []auditLogModel
	err := r.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		query := tx.Model(&auditLogModel{})
		if filter.EntityKind != "" {
			query = query.Where("source_table = ?", string(filter.EntityKind))
		}
		if filter.EntityID != "" {
			query = query.Where("source_id = ?", filter.EntityID)
		}
		if filter.Operation != "" {
			query = query.Where("operation = ?", string(filter.Operation))
		}
		if filter.AfterSeq > 0 {
			query = query.Where("seq > ?", filter.AfterSeq)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Order("seq ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "list audit log", Err: err}
	}

	result := make([]domain.AuditRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.AuditRecord{
			Seq:        row.Seq,
			ID:         row.ID,
			EntityKind: domain.EntityKind(row.SourceTable),
			EntityID:   row.SourceID,
			Operation:  domain.AuditOperation(row.Operation),
			Snapshot:   json.RawMessage(row.Value),
			Note:       row.Comments,
			CreatedAt:  row.CreateDate,
			CreatedBy:  row.CreatedBy,
		})
	}
	return result, nil
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

type OutboxRepository struct {
	db  *gormdb.DB
	now func() time.Time
}

func NewOutboxRepository(db *gormdb.DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outboxEventModel
	now := r.now()
	err := r.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("status = ? AND next_attempt_at <= ?", "pending", now).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	result := make([]domain.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.OutboxEvent{
			ID:            row.ID,
			EventID:       row.EventID,
			Topic:         row.Topic,
			PayloadJSON:   json.RawMessage(row.PayloadJSON),
			Status:        row.Status,
			Attempts:      row.Attempts,
			NextAttemptAt: row.NextAttemptAt,
			LastError:     row.LastError,
			CreatedAt:     row.CreatedAt,
			DispatchedAt:  row.DispatchedAt,
		})
	}
	return result, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	now := r.now()
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": "dispatched", "dispatched_at": &now, "last_error": ""}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"attempts": attempts, "next_attempt_at": nextAttemptAt.UTC(), "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": "dead", "attempts": attempts, "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return nil
}
