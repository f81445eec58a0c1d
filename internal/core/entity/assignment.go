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

var assignmentStatusStmt = ports.Text("select workflow_status_id from assignment where id = @id")

// Assignment is a customer order. It owns the sample types requested for it.
type Assignment struct {
	ID                     uuid.UUID  `json:"id"`
	Name                   string     `json:"name"`
	LaboratoryID           uuid.UUID  `json:"laboratory_id"`
	AccountID              uuid.UUID  `json:"account_id"`
	Deadline               *time.Time `json:"deadline"`
	RequestedSigmaAct      *float64   `json:"requested_sigma_act"`
	RequestedSigmaMDA      *float64   `json:"requested_sigma_mda"`
	CustomerCompanyName    string     `json:"customer_company_name"`
	CustomerCompanyEmail   string     `json:"customer_company_email"`
	CustomerCompanyPhone   string     `json:"customer_company_phone"`
	CustomerCompanyAddress string     `json:"customer_company_address"`
	CustomerContactName    string     `json:"customer_contact_name"`
	CustomerContactEmail   string     `json:"customer_contact_email"`
	CustomerContactPhone   string     `json:"customer_contact_phone"`
	CustomerContactAddress string     `json:"customer_contact_address"`
	WorkflowStatusID       int        `json:"workflow_status_id"`
	LastWorkflowStatusDate *time.Time `json:"last_workflow_status_date"`
	LastWorkflowStatusBy   string     `json:"last_workflow_status_by"`
	InstanceStatusID       int        `json:"instance_status_id"`
	Description            string     `json:"description"`
	CreateDate             time.Time  `json:"create_date"`
	CreateID               uuid.UUID  `json:"create_id"`
	UpdateDate             time.Time  `json:"update_date"`
	UpdateID               uuid.UUID  `json:"update_id"`

	SampleTypes []AssignmentSampleType `json:"sample_types"`

	Dirty bool `json:"-"`
}

func NewAssignment() *Assignment {
	return &Assignment{
		ID:               uuid.New(),
		WorkflowStatusID: domain.WorkflowStatusConstruction,
		InstanceStatusID: domain.InstanceStatusActive,
		SampleTypes:      []AssignmentSampleType{},
	}
}

func (a *Assignment) Kind() domain.EntityKind {
	return domain.KindAssignment
}

func (a *Assignment) EntityID() uuid.UUID {
	return a.ID
}

func (a *Assignment) IsDirty() bool {
	if a.Dirty {
		return true
	}
	for i := range a.SampleTypes {
		if a.SampleTypes[i].IsDirty() {
			return true
		}
	}
	return false
}

func (a *Assignment) ClearDirty() {
	a.Dirty = false
	for i := range a.SampleTypes {
		a.SampleTypes[i].ClearDirty()
	}
}

func (a *Assignment) Clone() *Assignment {
	c := *a
	c.Deadline = clonePtr(a.Deadline)
	c.RequestedSigmaAct = clonePtr(a.RequestedSigmaAct)
	c.RequestedSigmaMDA = clonePtr(a.RequestedSigmaMDA)
	c.LastWorkflowStatusDate = clonePtr(a.LastWorkflowStatusDate)
	c.SampleTypes = make([]AssignmentSampleType, 0, len(a.SampleTypes))
	for i := range a.SampleTypes {
		c.SampleTypes = append(c.SampleTypes, *a.SampleTypes[i].Clone())
	}
	return &c
}

func (a *Assignment) SampleType(id uuid.UUID) *AssignmentSampleType {
	for i := range a.SampleTypes {
		if a.SampleTypes[i].ID == id {
			return &a.SampleTypes[i]
		}
	}
	return nil
}

// SetWorkflowStatus changes the status and records who changed it and when.
func (a *Assignment) SetWorkflowStatus(status int, actor domain.ActorContext) {
	if a.WorkflowStatusID == status {
		return
	}
	a.WorkflowStatusID = status
	a.LastWorkflowStatusDate = timePtr(actor.Now)
	a.LastWorkflowStatusBy = actor.Name
	a.Dirty = true
}

func (a *Assignment) LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error {
	row, err := loadRow(ctx, s, assignmentTable, id)
	if err != nil {
		return err
	}

	rd := row.Reader()
	loaded := Assignment{
		ID:                     rd.UUID("id"),
		Name:                   rd.String("name"),
		LaboratoryID:           rd.UUID("laboratory_id"),
		AccountID:              rd.UUID("account_id"),
		Deadline:               rd.NullTime("deadline"),
		RequestedSigmaAct:      rd.NullFloat("requested_sigma_act"),
		RequestedSigmaMDA:      rd.NullFloat("requested_sigma_mda"),
		CustomerCompanyName:    rd.String("customer_company_name"),
		CustomerCompanyEmail:   rd.String("customer_company_email"),
		CustomerCompanyPhone:   rd.String("customer_company_phone"),
		CustomerCompanyAddress: rd.String("customer_company_address"),
		CustomerContactName:    rd.String("customer_contact_name"),
		CustomerContactEmail:   rd.String("customer_contact_email"),
		CustomerContactPhone:   rd.String("customer_contact_phone"),
		CustomerContactAddress: rd.String("customer_contact_address"),
		WorkflowStatusID:       rd.Int("workflow_status_id"),
		LastWorkflowStatusDate: rd.NullTime("last_workflow_status_date"),
		LastWorkflowStatusBy:   rd.String("last_workflow_status_by"),
		InstanceStatusID:       rd.Int("instance_status_id"),
		Description:            rd.String("description"),
		CreateDate:             rd.Time("create_date"),
		CreateID:               rd.UUID("create_id"),
		UpdateDate:             rd.Time("update_date"),
		UpdateID:               rd.UUID("update_id"),
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read assignment %s: %w", id, err)
	}

	loaded.SampleTypes, err = loadChildren[AssignmentSampleType](ctx, s, assignmentSampleTypeTable, id)
	if err != nil {
		return err
	}

	loaded.ClearDirty()
	*a = loaded
	return nil
}

func (a *Assignment) StoreToDB(ctx context.Context, s *Scope) error {
	customer := func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", a.ID.String()),
			ports.Arg("name", nullText(a.Name)),
			ports.Arg("laboratory_id", nullID(a.LaboratoryID)),
			ports.Arg("account_id", nullID(a.AccountID)),
			ports.Arg("deadline", nullable(a.Deadline)),
			ports.Arg("requested_sigma_act", nullable(a.RequestedSigmaAct)),
			ports.Arg("requested_sigma_mda", nullable(a.RequestedSigmaMDA)),
			ports.Arg("customer_company_name", nullText(a.CustomerCompanyName)),
			ports.Arg("customer_company_email", nullText(a.CustomerCompanyEmail)),
			ports.Arg("customer_company_phone", nullText(a.CustomerCompanyPhone)),
			ports.Arg("customer_company_address", nullText(a.CustomerCompanyAddress)),
			ports.Arg("customer_contact_name", nullText(a.CustomerContactName)),
			ports.Arg("customer_contact_email", nullText(a.CustomerContactEmail)),
			ports.Arg("customer_contact_phone", nullText(a.CustomerContactPhone)),
			ports.Arg("customer_contact_address", nullText(a.CustomerContactAddress)),
			ports.Arg("workflow_status_id", a.WorkflowStatusID),
			ports.Arg("last_workflow_status_date", nullable(a.LastWorkflowStatusDate)),
			ports.Arg("last_workflow_status_by", nullText(a.LastWorkflowStatusBy)),
			ports.Arg("instance_status_id", a.InstanceStatusID),
			ports.Arg("description", nullText(a.Description)),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("update_id", nullID(s.Actor.UserID)),
		}
	}
	insert := func() []sql.NamedArg {
		return append(customer(),
			ports.Arg("create_date", s.Actor.Now),
			ports.Arg("create_id", nullID(s.Actor.UserID)),
		)
	}

	for i := range a.SampleTypes {
		if err := adopt(domain.KindAssignmentSampleType, &a.SampleTypes[i].AssignmentID, a.ID); err != nil {
			return err
		}
	}

	op, err := storeRow(ctx, s, assignmentTable, rowWrite{
		id:     a.ID,
		dirty:  a.Dirty,
		insert: insert,
		update: customer,
	})
	if err != nil {
		return err
	}
	if err := storeChildren[AssignmentSampleType](ctx, s, assignmentSampleTypeTable, a.ID, a.SampleTypes); err != nil {
		return err
	}

	switch op {
	case domain.AuditInsert:
		a.CreateDate, a.CreateID = s.Actor.Now, s.Actor.UserID
		fallthrough
	case domain.AuditUpdate:
		a.UpdateDate, a.UpdateID = s.Actor.Now, s.Actor.UserID
	}
	a.Dirty = false
	return nil
}

// IsClosed reports whether the persisted assignment is complete. A missing
// assignment is not closed.
func (a *Assignment) IsClosed(ctx context.Context, s *Scope) (bool, error) {
	if err := s.checkRead(); err != nil {
		return false, err
	}
	row, ok, err := s.Rows.FetchOne(ctx, assignmentStatusStmt, ports.Arg("id", a.ID.String()))
	if err != nil {
		return false, fmt.Errorf("select assignment workflow status: %w", err)
	}
	if !ok {
		return false, nil
	}
	status, err := row.NullInt("workflow_status_id")
	if err != nil {
		return false, err
	}
	return status != nil && *status == domain.WorkflowStatusComplete, nil
}
