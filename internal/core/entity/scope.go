// Package entity implements the laboratory aggregates and the reconciliation
// that keeps their persisted rows, child rows and audit log consistent with
// the in-memory object graph.
package entity

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

// Aggregate is the capability set shared by every entity kind.
type Aggregate interface {
	Kind() domain.EntityKind
	EntityID() uuid.UUID
	IsDirty() bool
	ClearDirty()
	LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error
	StoreToDB(ctx context.Context, s *Scope) error
}

var (
	_ Aggregate = (*Assignment)(nil)
	_ Aggregate = (*AssignmentSampleType)(nil)
	_ Aggregate = (*AssignmentPreparationMethod)(nil)
	_ Aggregate = (*Analysis)(nil)
	_ Aggregate = (*AnalysisResult)(nil)
	_ Aggregate = (*PreparationGeometry)(nil)
)

// Observer is notified of every row the reconciliation writes or loads.
type Observer interface {
	ObserveWrite(kind domain.EntityKind, op domain.AuditOperation)
	ObserveLoad(kind domain.EntityKind)
}

// Scope is the transaction scope an aggregate is loaded or stored in. The
// row store is borrowed; the caller commits or rolls back.
type Scope struct {
	Rows     ports.RowStore
	Actor    domain.ActorContext
	Recorder *Recorder
	Observer Observer
}

// NewScope returns a scope without recorder or observer.
func NewScope(rows ports.RowStore, actor domain.ActorContext) *Scope {
	return &Scope{Rows: rows, Actor: actor}
}

// Validate reports whether the scope can be used for writes.
func (s *Scope) Validate() error {
	return s.checkWrite()
}

func (s *Scope) checkRead() error {
	if s == nil || s.Rows == nil {
		return fmt.Errorf("%w: scope has no row store", domain.ErrInvalidPrecondition)
	}
	return nil
}

func (s *Scope) checkWrite() error {
	if err := s.checkRead(); err != nil {
		return err
	}
	if s.Actor.Now.IsZero() {
		return fmt.Errorf("%w: actor context has no timestamp", domain.ErrInvalidPrecondition)
	}
	return nil
}

func (s *Scope) recorder() *Recorder {
	if s.Recorder == nil {
		return defaultRecorder
	}
	return s.Recorder
}

func (s *Scope) observeWrite(kind domain.EntityKind, op domain.AuditOperation) {
	if s.Observer != nil {
		s.Observer.ObserveWrite(kind, op)
	}
}

func (s *Scope) observeLoad(kind domain.EntityKind) {
	if s.Observer != nil {
		s.Observer.ObserveLoad(kind)
	}
}
