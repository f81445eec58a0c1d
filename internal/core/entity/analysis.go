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

var analysisClosedStmt = ports.Text(`select a.workflow_status_id
from assignment a
	inner join analysis an on an.assignment_id = a.id
where an.id = @id`)

// Analysis is one measurement run on a prepared sample. It owns its results.
type Analysis struct {
	ID                 uuid.UUID  `json:"id"`
	Number             *int       `json:"number"`
	AssignmentID       uuid.UUID  `json:"assignment_id"`
	LaboratoryID       uuid.UUID  `json:"laboratory_id"`
	PreparationID      uuid.UUID  `json:"preparation_id"`
	AnalysisMethodID   uuid.UUID  `json:"analysis_method_id"`
	WorkflowStatusID   *int       `json:"workflow_status_id"`
	SpecterReference   string     `json:"specter_reference"`
	ActivityUnitID     uuid.UUID  `json:"activity_unit_id"`
	ActivityUnitTypeID uuid.UUID  `json:"activity_unit_type_id"`
	SigmaActivity      *float64   `json:"sigma_act"`
	SigmaMDA           *float64   `json:"sigma_mda"`
	NuclideLibrary     string     `json:"nuclide_library"`
	MDALibrary         string     `json:"mda_library"`
	InstanceStatusID   *int       `json:"instance_status_id"`
	Comment            string     `json:"comment"`
	CreateDate         *time.Time `json:"create_date"`
	CreatedBy          string     `json:"created_by"`
	UpdateDate         *time.Time `json:"update_date"`
	UpdatedBy          string     `json:"updated_by"`

	Results []AnalysisResult `json:"results"`

	ImportFile string `json:"-"`
	Dirty      bool   `json:"-"`
}

func NewAnalysis() *Analysis {
	return &Analysis{ID: uuid.New(), Results: []AnalysisResult{}}
}

func (a *Analysis) Kind() domain.EntityKind {
	return domain.KindAnalysis
}

func (a *Analysis) EntityID() uuid.UUID {
	return a.ID
}

func (a *Analysis) IsDirty() bool {
	if a.Dirty {
		return true
	}
	for i := range a.Results {
		if a.Results[i].IsDirty() {
			return true
		}
	}
	return false
}

func (a *Analysis) ClearDirty() {
	a.Dirty = false
	for i := range a.Results {
		a.Results[i].ClearDirty()
	}
}

// Clone returns a deep copy, results included.
func (a *Analysis) Clone() *Analysis {
	c := *a
	c.Number = clonePtr(a.Number)
	c.WorkflowStatusID = clonePtr(a.WorkflowStatusID)
	c.SigmaActivity = clonePtr(a.SigmaActivity)
	c.SigmaMDA = clonePtr(a.SigmaMDA)
	c.InstanceStatusID = clonePtr(a.InstanceStatusID)
	c.CreateDate = clonePtr(a.CreateDate)
	c.UpdateDate = clonePtr(a.UpdateDate)
	c.Results = make([]AnalysisResult, 0, len(a.Results))
	for i := range a.Results {
		c.Results = append(c.Results, *a.Results[i].Clone())
	}
	return &c
}

// Result returns the result with the given id, or nil.
func (a *Analysis) Result(id uuid.UUID) *AnalysisResult {
	for i := range a.Results {
		if a.Results[i].ID == id {
			return &a.Results[i]
		}
	}
	return nil
}

// RemoveResult drops a result from the collection. The row is deleted on the
// next StoreToDB.
func (a *Analysis) RemoveResult(id uuid.UUID) bool {
	for i := range a.Results {
		if a.Results[i].ID == id {
			a.Results = append(a.Results[:i], a.Results[i+1:]...)
			return true
		}
	}
	return false
}

func AnalysisExists(ctx context.Context, s *Scope, id uuid.UUID) (bool, error) {
	if err := s.checkRead(); err != nil {
		return false, err
	}
	return rowExists(ctx, s, analysisTable, id)
}

func (a *Analysis) LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error {
	row, err := loadRow(ctx, s, analysisTable, id)
	if err != nil {
		return err
	}

	rd := row.Reader()
	loaded := Analysis{
		ID:                 rd.UUID("id"),
		Number:             rd.NullInt("number"),
		AssignmentID:       rd.UUID("assignment_id"),
		LaboratoryID:       rd.UUID("laboratory_id"),
		PreparationID:      rd.UUID("preparation_id"),
		AnalysisMethodID:   rd.UUID("analysis_method_id"),
		WorkflowStatusID:   rd.NullInt("workflow_status_id"),
		SpecterReference:   rd.String("specter_reference"),
		ActivityUnitID:     rd.UUID("activity_unit_id"),
		ActivityUnitTypeID: rd.UUID("activity_unit_type_id"),
		SigmaActivity:      rd.NullFloat("sigma_act"),
		SigmaMDA:           rd.NullFloat("sigma_mda"),
		NuclideLibrary:     rd.String("nuclide_library"),
		MDALibrary:         rd.String("mda_library"),
		InstanceStatusID:   rd.NullInt("instance_status_id"),
		Comment:            rd.String("comment"),
		CreateDate:         rd.NullTime("create_date"),
		CreatedBy:          rd.String("created_by"),
		UpdateDate:         rd.NullTime("update_date"),
		UpdatedBy:          rd.String("updated_by"),
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read analysis %s: %w", id, err)
	}

	loaded.Results, err = loadChildren[AnalysisResult](ctx, s, analysisResultTable, id)
	if err != nil {
		return err
	}

	loaded.ClearDirty()
	*a = loaded
	return nil
}

// StoreToDB reconciles the analysis and its results. The analysis is marked
// clean only when every row was written.
func (a *Analysis) StoreToDB(ctx context.Context, s *Scope) error {
	for i := range a.Results {
		if err := adopt(domain.KindAnalysisResult, &a.Results[i].AnalysisID, a.ID); err != nil {
			return err
		}
	}

	op, err := storeRow(ctx, s, analysisTable, rowWrite{
		id:     a.ID,
		dirty:  a.Dirty,
		note:   a.importNote(),
		insert: a.insertArgs(s),
		update: a.updateArgs(s),
	})
	if err != nil {
		return err
	}
	if err := storeChildren[AnalysisResult](ctx, s, analysisResultTable, a.ID, a.Results); err != nil {
		return err
	}

	switch op {
	case domain.AuditInsert:
		a.CreateDate, a.CreatedBy = timePtr(s.Actor.Now), s.Actor.Name
		fallthrough
	case domain.AuditUpdate:
		a.UpdateDate, a.UpdatedBy = timePtr(s.Actor.Now), s.Actor.Name
	}
	a.Dirty = false
	return nil
}

// importNote is the audit note of an analysis read from a spectrum file.
func (a *Analysis) importNote() string {
	if a.ImportFile == "" {
		return ""
	}
	return "imported from " + a.ImportFile
}

func (a *Analysis) insertArgs(s *Scope) func() []sql.NamedArg {
	return func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", a.ID.String()),
			ports.Arg("number", nullable(a.Number)),
			ports.Arg("assignment_id", nullID(a.AssignmentID)),
			ports.Arg("laboratory_id", nullID(a.LaboratoryID)),
			ports.Arg("preparation_id", nullID(a.PreparationID)),
			ports.Arg("analysis_method_id", nullID(a.AnalysisMethodID)),
			ports.Arg("workflow_status_id", nullable(a.WorkflowStatusID)),
			ports.Arg("specter_reference", nullText(a.SpecterReference)),
			ports.Arg("activity_unit_id", nullID(a.ActivityUnitID)),
			ports.Arg("activity_unit_type_id", nullID(a.ActivityUnitTypeID)),
			ports.Arg("sigma_act", nullable(a.SigmaActivity)),
			ports.Arg("sigma_mda", nullable(a.SigmaMDA)),
			ports.Arg("nuclide_library", nullText(a.NuclideLibrary)),
			ports.Arg("mda_library", nullText(a.MDALibrary)),
			ports.Arg("instance_status_id", nullable(a.InstanceStatusID)),
			ports.Arg("comment", nullText(a.Comment)),
			ports.Arg("create_date", s.Actor.Now),
			ports.Arg("created_by", nullText(s.Actor.Name)),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("updated_by", nullText(s.Actor.Name)),
		}
	}
}

func (a *Analysis) updateArgs(s *Scope) func() []sql.NamedArg {
	return func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", a.ID.String()),
			ports.Arg("workflow_status_id", nullable(a.WorkflowStatusID)),
			ports.Arg("specter_reference", nullText(a.SpecterReference)),
			ports.Arg("activity_unit_id", nullID(a.ActivityUnitID)),
			ports.Arg("activity_unit_type_id", nullID(a.ActivityUnitTypeID)),
			ports.Arg("sigma_act", nullable(a.SigmaActivity)),
			ports.Arg("sigma_mda", nullable(a.SigmaMDA)),
			ports.Arg("nuclide_library", nullText(a.NuclideLibrary)),
			ports.Arg("mda_library", nullText(a.MDALibrary)),
			ports.Arg("comment", nullText(a.Comment)),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("updated_by", nullText(s.Actor.Name)),
		}
	}
}

// IsClosed reports whether the owning assignment has reached the complete
// workflow status. A missing assignment is not closed.
func (a *Analysis) IsClosed(ctx context.Context, s *Scope) (bool, error) {
	if err := s.checkRead(); err != nil {
		return false, err
	}
	row, ok, err := s.Rows.FetchOne(ctx, analysisClosedStmt, ports.Arg("id", a.ID.String()))
	if err != nil {
		return false, fmt.Errorf("select analysis workflow status: %w", err)
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
