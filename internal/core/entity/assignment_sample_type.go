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

var (
	sampleTypeNameStmt      = ports.Text("select name from sample_type where id = @id")
	sampleComponentNameStmt = ports.Text("select name from sample_component where id = @id")
)

// AssignmentSampleType is one sample type requested by an assignment, with
// the preparation methods to apply to it.
type AssignmentSampleType struct {
	ID                          uuid.UUID  `json:"id"`
	AssignmentID                uuid.UUID  `json:"assignment_id"`
	SampleTypeID                uuid.UUID  `json:"sample_type_id"`
	SampleComponentID           uuid.UUID  `json:"sample_component_id"`
	SampleCount                 *int       `json:"sample_count"`
	RequestedActivityUnitID     uuid.UUID  `json:"requested_activity_unit_id"`
	RequestedActivityUnitTypeID uuid.UUID  `json:"requested_activity_unit_type_id"`
	ReturnToSender              bool       `json:"return_to_sender"`
	Comment                     string     `json:"comment"`
	CreateDate                  *time.Time `json:"create_date"`
	CreatedBy                   string     `json:"created_by"`
	UpdateDate                  *time.Time `json:"update_date"`
	UpdatedBy                   string     `json:"updated_by"`

	PreparationMethods []AssignmentPreparationMethod `json:"preparation_methods"`

	Dirty bool `json:"-"`
}

func NewAssignmentSampleType(assignmentID uuid.UUID) *AssignmentSampleType {
	return &AssignmentSampleType{
		ID:                 uuid.New(),
		AssignmentID:       assignmentID,
		PreparationMethods: []AssignmentPreparationMethod{},
	}
}

func (t *AssignmentSampleType) Kind() domain.EntityKind {
	return domain.KindAssignmentSampleType
}

func (t *AssignmentSampleType) EntityID() uuid.UUID {
	return t.ID
}

func (t *AssignmentSampleType) IsDirty() bool {
	if t.Dirty {
		return true
	}
	for i := range t.PreparationMethods {
		if t.PreparationMethods[i].IsDirty() {
			return true
		}
	}
	return false
}

func (t *AssignmentSampleType) ClearDirty() {
	t.Dirty = false
	for i := range t.PreparationMethods {
		t.PreparationMethods[i].ClearDirty()
	}
}

func (t *AssignmentSampleType) Clone() *AssignmentSampleType {
	c := *t
	c.SampleCount = clonePtr(t.SampleCount)
	c.CreateDate = clonePtr(t.CreateDate)
	c.UpdateDate = clonePtr(t.UpdateDate)
	c.PreparationMethods = make([]AssignmentPreparationMethod, 0, len(t.PreparationMethods))
	for i := range t.PreparationMethods {
		c.PreparationMethods = append(c.PreparationMethods, *t.PreparationMethods[i].Clone())
	}
	return &c
}

func (t *AssignmentSampleType) PreparationMethod(id uuid.UUID) *AssignmentPreparationMethod {
	for i := range t.PreparationMethods {
		if t.PreparationMethods[i].ID == id {
			return &t.PreparationMethods[i]
		}
	}
	return nil
}

func lookupName(ctx context.Context, s *Scope, stmt ports.Statement, id uuid.UUID) (string, error) {
	if err := s.checkRead(); err != nil {
		return "", err
	}
	row, ok, err := s.Rows.FetchOne(ctx, stmt, ports.Arg("id", id.String()))
	if err != nil {
		return "", fmt.Errorf("lookup name: %w", err)
	}
	if !ok {
		return "", nil
	}
	return row.String("name")
}

// SampleTypeName resolves the sample type name; unknown types yield "".
func (t *AssignmentSampleType) SampleTypeName(ctx context.Context, s *Scope) (string, error) {
	return lookupName(ctx, s, sampleTypeNameStmt, t.SampleTypeID)
}

// SampleComponentName resolves the component name; unknown components yield "".
func (t *AssignmentSampleType) SampleComponentName(ctx context.Context, s *Scope) (string, error) {
	return lookupName(ctx, s, sampleComponentNameStmt, t.SampleComponentID)
}

func (t *AssignmentSampleType) LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error {
	row, err := loadRow(ctx, s, assignmentSampleTypeTable, id)
	if err != nil {
		return err
	}

	rd := row.Reader()
	loaded := AssignmentSampleType{
		ID:                          rd.UUID("id"),
		AssignmentID:                rd.UUID("assignment_id"),
		SampleTypeID:                rd.UUID("sample_type_id"),
		SampleComponentID:           rd.UUID("sample_component_id"),
		SampleCount:                 rd.NullInt("sample_count"),
		RequestedActivityUnitID:     rd.UUID("requested_activity_unit_id"),
		RequestedActivityUnitTypeID: rd.UUID("requested_activity_unit_type_id"),
		ReturnToSender:              rd.Bool("return_to_sender"),
		Comment:                     rd.String("comment"),
		CreateDate:                  rd.NullTime("create_date"),
		CreatedBy:                   rd.String("created_by"),
		UpdateDate:                  rd.NullTime("update_date"),
		UpdatedBy:                   rd.String("updated_by"),
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read assignment sample type %s: %w", id, err)
	}

	loaded.PreparationMethods, err = loadChildren[AssignmentPreparationMethod](ctx, s, assignmentPreparationMethodTable, id)
	if err != nil {
		return err
	}

	loaded.ClearDirty()
	*t = loaded
	return nil
}

func (t *AssignmentSampleType) StoreToDB(ctx context.Context, s *Scope) error {
	update := func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", t.ID.String()),
			ports.Arg("assignment_id", nullID(t.AssignmentID)),
			ports.Arg("sample_type_id", nullID(t.SampleTypeID)),
			ports.Arg("sample_component_id", nullID(t.SampleComponentID)),
			ports.Arg("sample_count", nullable(t.SampleCount)),
			ports.Arg("requested_activity_unit_id", nullID(t.RequestedActivityUnitID)),
			ports.Arg("requested_activity_unit_type_id", nullID(t.RequestedActivityUnitTypeID)),
			ports.Arg("return_to_sender", t.ReturnToSender),
			ports.Arg("comment", nullText(t.Comment)),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("updated_by", nullText(s.Actor.Name)),
		}
	}
	insert := func() []sql.NamedArg {
		return append(update(),
			ports.Arg("create_date", s.Actor.Now),
			ports.Arg("created_by", nullText(s.Actor.Name)),
		)
	}

	for i := range t.PreparationMethods {
		if err := adopt(domain.KindAssignmentPreparationMethod, &t.PreparationMethods[i].AssignmentSampleTypeID, t.ID); err != nil {
			return err
		}
	}

	op, err := storeRow(ctx, s, assignmentSampleTypeTable, rowWrite{
		id:     t.ID,
		parent: t.AssignmentID,
		dirty:  t.Dirty,
		insert: insert,
		update: update,
	})
	if err != nil {
		return err
	}
	if err := storeChildren[AssignmentPreparationMethod](ctx, s, assignmentPreparationMethodTable, t.ID, t.PreparationMethods); err != nil {
		return err
	}

	switch op {
	case domain.AuditInsert:
		t.CreateDate, t.CreatedBy = timePtr(s.Actor.Now), s.Actor.Name
		fallthrough
	case domain.AuditUpdate:
		t.UpdateDate, t.UpdatedBy = timePtr(s.Actor.Now), s.Actor.Name
	}
	t.Dirty = false
	return nil
}
