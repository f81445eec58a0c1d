package entity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

// AssignmentPreparationMethod is a preparation method ordered for a sample type.
type AssignmentPreparationMethod struct {
	ID                      uuid.UUID  `json:"id"`
	AssignmentSampleTypeID  uuid.UUID  `json:"assignment_sample_type_id"`
	PreparationMethodID     uuid.UUID  `json:"preparation_method_id"`
	PreparationMethodCount  *int       `json:"preparation_method_count"`
	PreparationLaboratoryID uuid.UUID  `json:"preparation_laboratory_id"`
	Comment                 string     `json:"comment"`
	CreateDate              *time.Time `json:"create_date"`
	CreatedBy               string     `json:"created_by"`
	UpdateDate              *time.Time `json:"update_date"`
	UpdatedBy               string     `json:"updated_by"`

	Dirty bool `json:"-"`
}

func NewAssignmentPreparationMethod(sampleTypeID uuid.UUID) *AssignmentPreparationMethod {
	return &AssignmentPreparationMethod{ID: uuid.New(), AssignmentSampleTypeID: sampleTypeID}
}

func (m *AssignmentPreparationMethod) Kind() domain.EntityKind {
	return domain.KindAssignmentPreparationMethod
}

func (m *AssignmentPreparationMethod) EntityID() uuid.UUID {
	return m.ID
}

func (m *AssignmentPreparationMethod) IsDirty() bool {
	return m.Dirty
}

func (m *AssignmentPreparationMethod) ClearDirty() {
	m.Dirty = false
}

func (m *AssignmentPreparationMethod) Clone() *AssignmentPreparationMethod {
	c := *m
	c.PreparationMethodCount = clonePtr(m.PreparationMethodCount)
	c.CreateDate = clonePtr(m.CreateDate)
	c.UpdateDate = clonePtr(m.UpdateDate)
	return &c
}

func (m *AssignmentPreparationMethod) LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error {
	row, err := loadRow(ctx, s, assignmentPreparationMethodTable, id)
	if err != nil {
		return err
	}

	rd := row.Reader()
	loaded := AssignmentPreparationMethod{
		ID:                      rd.UUID("id"),
		AssignmentSampleTypeID:  rd.UUID("assignment_sample_type_id"),
		PreparationMethodID:     rd.UUID("preparation_method_id"),
		PreparationMethodCount:  rd.NullInt("preparation_method_count"),
		PreparationLaboratoryID: rd.UUID("preparation_laboratory_id"),
		Comment:                 rd.String("comment"),
		CreateDate:              rd.NullTime("create_date"),
		CreatedBy:               rd.String("created_by"),
		UpdateDate:              rd.NullTime("update_date"),
		UpdatedBy:               rd.String("updated_by"),
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read assignment preparation method %s: %w", id, err)
	}
	*m = loaded
	return nil
}

func (m *AssignmentPreparationMethod) StoreToDB(ctx context.Context, s *Scope) error {
	update := func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", m.ID.String()),
			ports.Arg("preparation_method_id", nullID(m.PreparationMethodID)),
			ports.Arg("preparation_method_count", nullable(m.PreparationMethodCount)),
			ports.Arg("preparation_laboratory_id", nullID(m.PreparationLaboratoryID)),
			ports.Arg("comment", nullText(m.Comment)),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("updated_by", nullText(s.Actor.Name)),
		}
	}
	insert := func() []sql.NamedArg {
		return append(update(),
			ports.Arg("assignment_sample_type_id", nullID(m.AssignmentSampleTypeID)),
			ports.Arg("create_date", s.Actor.Now),
			ports.Arg("created_by", nullText(s.Actor.Name)),
		)
	}

	op, err := storeRow(ctx, s, assignmentPreparationMethodTable, rowWrite{
		id:     m.ID,
		parent: m.AssignmentSampleTypeID,
		dirty:  m.Dirty,
		insert: insert,
		update: update,
	})
	if err != nil {
		return err
	}
	switch op {
	case domain.AuditInsert:
		m.CreateDate, m.CreatedBy = timePtr(s.Actor.Now), s.Actor.Name
		fallthrough
	case domain.AuditUpdate:
		m.UpdateDate, m.UpdatedBy = timePtr(s.Actor.Now), s.Actor.Name
	}
	m.Dirty = false
	return nil
}
