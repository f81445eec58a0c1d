package entity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/field"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

// table describes where one entity kind lives. The table name equals the
// kind; parent is the foreign key column back to the owning aggregate and
// children lists the tables owned by rows of this one.
type table struct {
	kind     domain.EntityKind
	parent   string
	children []table
}

var (
	assignmentPreparationMethodTable = table{
		kind:   domain.KindAssignmentPreparationMethod,
		parent: "assignment_sample_type_id",
	}
	assignmentSampleTypeTable = table{
		kind:     domain.KindAssignmentSampleType,
		parent:   "assignment_id",
		children: []table{assignmentPreparationMethodTable},
	}
	assignmentTable = table{
		kind:     domain.KindAssignment,
		children: []table{assignmentSampleTypeTable},
	}
	analysisResultTable = table{
		kind:   domain.KindAnalysisResult,
		parent: "analysis_id",
	}
	analysisTable = table{
		kind:     domain.KindAnalysis,
		children: []table{analysisResultTable},
	}
	preparationGeometryTable = table{
		kind: domain.KindPreparationGeometry,
	}
)

func (t table) name() string {
	return string(t.kind)
}

func (t table) selectProc() ports.Statement {
	return ports.Proc("csp_select_" + t.name())
}

func (t table) flatProc() ports.Statement {
	return ports.Proc("csp_select_" + t.name() + "_flat")
}

func (t table) insertProc() ports.Statement {
	return ports.Proc("csp_insert_" + t.name())
}

func (t table) updateProc() ports.Statement {
	return ports.Proc("csp_update_" + t.name())
}

func (t table) existsStmt() ports.Statement {
	return ports.Text("select count(*) from " + t.name() + " where id = @id")
}

func (t table) childIDsStmt() ports.Statement {
	return ports.Text("select id from " + t.name() + " where " + t.parent + " = @id")
}

func (t table) ownerStmt() ports.Statement {
	return ports.Text("select " + t.parent + " as owner_id from " + t.name() + " where id = @id")
}

func (t table) deleteStmt() ports.Statement {
	return ports.Text("delete from " + t.name() + " where id = @id")
}

// member is the pointer type of a child kind.
type member[T any] interface {
	*T
	EntityID() uuid.UUID
	Clone() *T
	LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error
	StoreToDB(ctx context.Context, s *Scope) error
}

func rowExists(ctx context.Context, s *Scope, t table, id uuid.UUID) (bool, error) {
	row, ok, err := s.Rows.FetchOne(ctx, t.existsStmt(), ports.Arg("id", id.String()))
	if err != nil {
		return false, fmt.Errorf("check %s exists: %w", t.kind, err)
	}
	if !ok {
		return false, nil
	}
	n, err := row.Count()
	if err != nil {
		return false, fmt.Errorf("check %s exists: %w", t.kind, err)
	}
	return n > 0, nil
}

// loadRow fetches the canonical row of one entity.
func loadRow(ctx context.Context, s *Scope, t table, id uuid.UUID) (field.Row, error) {
	if err := s.checkRead(); err != nil {
		return field.Row{}, err
	}
	row, ok, err := s.Rows.FetchOne(ctx, t.selectProc(), ports.Arg("id", id.String()))
	if err != nil {
		return field.Row{}, fmt.Errorf("select %s %s: %w", t.kind, id, err)
	}
	if !ok {
		return field.Row{}, fmt.Errorf("%s with id %s: %w", t.kind, id, domain.ErrNotFound)
	}
	s.observeLoad(t.kind)
	return row, nil
}

// rowWrite is one row for storeRow. parent is the owning row for child
// kinds; an existing row persisted under another parent is rejected.
type rowWrite struct {
	id     uuid.UUID
	parent uuid.UUID
	dirty  bool
	note   string
	insert func() []sql.NamedArg
	update func() []sql.NamedArg
}

// storeRow inserts the row when it does not exist and updates it when dirty.
// It snapshots and audits after the write and reports what it did; the empty
// operation means nothing was written.
func storeRow(ctx context.Context, s *Scope, t table, w rowWrite) (domain.AuditOperation, error) {
	if w.id == uuid.Nil {
		return "", fmt.Errorf("%w: can not store %s with empty id", domain.ErrInvalidPrecondition, t.kind)
	}
	if err := s.checkWrite(); err != nil {
		return "", err
	}

	exists, err := rowExists(ctx, s, t, w.id)
	if err != nil {
		return "", err
	}
	if exists {
		if err := checkOwner(ctx, s, t, w.id, w.parent); err != nil {
			return "", err
		}
	}

	var op domain.AuditOperation
	switch {
	case !exists:
		if _, err := s.Rows.Execute(ctx, t.insertProc(), w.insert()...); err != nil {
			return "", fmt.Errorf("insert %s %s: %w", t.kind, w.id, err)
		}
		op = domain.AuditInsert
	case w.dirty:
		if _, err := s.Rows.Execute(ctx, t.updateProc(), w.update()...); err != nil {
			return "", fmt.Errorf("update %s %s: %w", t.kind, w.id, err)
		}
		op = domain.AuditUpdate
	default:
		return "", nil
	}

	snapshot, err := Snapshot(ctx, s, t.flatProc(), w.id)
	if err != nil {
		return "", err
	}
	if err := s.recorder().Record(ctx, s, t.kind, w.id, op, snapshot, w.note); err != nil {
		return "", err
	}
	s.observeWrite(t.kind, op)
	return op, nil
}

// checkOwner compares the persisted foreign key of a child row with the
// parent it is being stored under.
func checkOwner(ctx context.Context, s *Scope, t table, id, parentID uuid.UUID) error {
	if t.parent == "" || parentID == uuid.Nil {
		return nil
	}
	row, ok, err := s.Rows.FetchOne(ctx, t.ownerStmt(), ports.Arg("id", id.String()))
	if err != nil {
		return fmt.Errorf("select %s owner: %w", t.kind, err)
	}
	if !ok {
		return nil
	}
	owner, err := row.NullUUID("owner_id")
	if err != nil {
		return fmt.Errorf("select %s owner: %w", t.kind, err)
	}
	if owner != nil && *owner != parentID {
		return fmt.Errorf("%w: %s %s is stored under %s, not %s", domain.ErrInvalidPrecondition, t.kind, id, *owner, parentID)
	}
	return nil
}

func childIDs(ctx context.Context, s *Scope, t table, parentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.Rows.FetchMany(ctx, t.childIDsStmt(), ports.Arg("id", parentID.String()))
	if err != nil {
		return nil, fmt.Errorf("select %s ids: %w", t.kind, err)
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		id, err := row.UUID("id")
		if err != nil {
			return nil, fmt.Errorf("select %s ids: %w", t.kind, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// loadChildren loads every child persisted under parentID, in the order the
// store returns them.
func loadChildren[T any, P member[T]](ctx context.Context, s *Scope, t table, parentID uuid.UUID) ([]T, error) {
	ids, err := childIDs(ctx, s, t, parentID)
	if err != nil {
		return nil, err
	}
	children := make([]T, 0, len(ids))
	for _, id := range ids {
		var child T
		if err := P(&child).LoadFromDB(ctx, s, id); err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// storeChildren stores every child in slice order, then deletes the persisted
// children of parentID that are no longer in the slice. On failure the
// children are restored to their state before the call.
func storeChildren[T any, P member[T]](ctx context.Context, s *Scope, t table, parentID uuid.UUID, children []T) error {
	before := make([]T, len(children))
	for i := range children {
		before[i] = *P(&children[i]).Clone()
	}
	keep := make(map[uuid.UUID]struct{}, len(children))
	for i := range children {
		child := P(&children[i])
		if err := child.StoreToDB(ctx, s); err != nil {
			copy(children, before)
			return err
		}
		keep[child.EntityID()] = struct{}{}
	}
	if err := prune(ctx, s, t, parentID, keep); err != nil {
		copy(children, before)
		return err
	}
	return nil
}

func prune(ctx context.Context, s *Scope, t table, parentID uuid.UUID, keep map[uuid.UUID]struct{}) error {
	stored, err := childIDs(ctx, s, t, parentID)
	if err != nil {
		return err
	}
	for _, id := range stored {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := drop(ctx, s, t, id); err != nil {
			return err
		}
	}
	return nil
}

// drop deletes one row after its own children, auditing each deletion
// before the row disappears.
func drop(ctx context.Context, s *Scope, t table, id uuid.UUID) error {
	for _, ct := range t.children {
		if err := prune(ctx, s, ct, id, nil); err != nil {
			return err
		}
	}
	snapshot, err := Snapshot(ctx, s, t.flatProc(), id)
	if err != nil {
		return err
	}
	if err := s.recorder().Record(ctx, s, t.kind, id, domain.AuditDelete, snapshot, ""); err != nil {
		return err
	}
	if _, err := s.Rows.Execute(ctx, t.deleteStmt(), ports.Arg("id", id.String())); err != nil {
		return fmt.Errorf("delete %s %s: %w", t.kind, id, err)
	}
	s.observeWrite(t.kind, domain.AuditDelete)
	return nil
}

// adopt points a child's foreign key at its parent. A child already owned by
// another parent is rejected.
func adopt(kind domain.EntityKind, fk *uuid.UUID, parentID uuid.UUID) error {
	switch *fk {
	case parentID:
		return nil
	case uuid.Nil:
		*fk = parentID
		return nil
	}
	return fmt.Errorf("%w: %s belongs to %s, not %s", domain.ErrInvalidPrecondition, kind, *fk, parentID)
}

func nullID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
