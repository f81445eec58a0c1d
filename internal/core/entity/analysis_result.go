package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

var nuclideNameStmt = ports.Text("select name from nuclide where id = @id")

// AnalysisResult is the measured activity of one nuclide within an analysis.
type AnalysisResult struct {
	ID                     uuid.UUID `json:"id"`
	AnalysisID             uuid.UUID `json:"analysis_id"`
	NuclideID              uuid.UUID `json:"nuclide_id"`
	NuclideName            string    `json:"nuclide_name"`
	Activity               *float64  `json:"activity"`
	ActivityUncertaintyABS *float64  `json:"activity_uncertainty_abs"`
	ActivityApproved       bool      `json:"activity_approved"`
	UniformActivity        *float64  `json:"uniform_activity"`
	UniformActivityUnitID  int       `json:"uniform_activity_unit_id"`
	DetectionLimit         *float64  `json:"detection_limit"`
	DetectionLimitApproved bool      `json:"detection_limit_approved"`
	Accredited             bool      `json:"accredited"`
	Reportable             bool      `json:"reportable"`
	InstanceStatusID       int       `json:"instance_status_id"`
	CreateDate             time.Time `json:"create_date"`
	CreateID               uuid.UUID `json:"create_id"`
	UpdateDate             time.Time `json:"update_date"`
	UpdateID               uuid.UUID `json:"update_id"`

	Dirty bool `json:"-"`
}

func NewAnalysisResult(analysisID uuid.UUID) *AnalysisResult {
	return &AnalysisResult{
		ID:               uuid.New(),
		AnalysisID:       analysisID,
		InstanceStatusID: domain.InstanceStatusActive,
	}
}

func (r *AnalysisResult) Kind() domain.EntityKind {
	return domain.KindAnalysisResult
}

func (r *AnalysisResult) EntityID() uuid.UUID {
	return r.ID
}

func (r *AnalysisResult) IsDirty() bool {
	return r.Dirty
}

func (r *AnalysisResult) ClearDirty() {
	r.Dirty = false
}

func (r *AnalysisResult) Clone() *AnalysisResult {
	c := *r
	c.Activity = clonePtr(r.Activity)
	c.ActivityUncertaintyABS = clonePtr(r.ActivityUncertaintyABS)
	c.UniformActivity = clonePtr(r.UniformActivity)
	c.DetectionLimit = clonePtr(r.DetectionLimit)
	return &c
}

// LookupNuclideName resolves the nuclide name. An unknown nuclide yields "".
func (r *AnalysisResult) LookupNuclideName(ctx context.Context, s *Scope) (string, error) {
	if err := s.checkRead(); err != nil {
		return "", err
	}
	row, ok, err := s.Rows.FetchOne(ctx, nuclideNameStmt, ports.Arg("id", r.NuclideID.String()))
	if err != nil {
		return "", fmt.Errorf("select nuclide name: %w", err)
	}
	if !ok {
		return "", nil
	}
	return row.String("name")
}

func (r *AnalysisResult) LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error {
	row, err := loadRow(ctx, s, analysisResultTable, id)
	if err != nil {
		return err
	}

	rd := row.Reader()
	loaded := AnalysisResult{
		ID:                     rd.UUID("id"),
		AnalysisID:             rd.UUID("analysis_id"),
		NuclideID:              rd.UUID("nuclide_id"),
		Activity:               rd.NullFloat("activity"),
		ActivityUncertaintyABS: rd.NullFloat("activity_uncertainty_abs"),
		ActivityApproved:       rd.Bool("activity_approved"),
		UniformActivity:        rd.NullFloat("uniform_activity"),
		UniformActivityUnitID:  rd.Int("uniform_activity_unit_id"),
		DetectionLimit:         rd.NullFloat("detection_limit"),
		DetectionLimitApproved: rd.Bool("detection_limit_approved"),
		Accredited:             rd.Bool("accredited"),
		Reportable:             rd.Bool("reportable"),
		InstanceStatusID:       rd.Int("instance_status_id"),
		CreateDate:             rd.Time("create_date"),
		CreateID:               rd.UUID("create_id"),
		UpdateDate:             rd.Time("update_date"),
		UpdateID:               rd.UUID("update_id"),
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read analysis result %s: %w", id, err)
	}

	loaded.NuclideName, err = loaded.LookupNuclideName(ctx, s)
	if err != nil {
		return err
	}

	*r = loaded
	return nil
}

// uniformActivity converts the activity to the uniform unit. The conversion
// table has not been defined yet.
func (r *AnalysisResult) uniformActivity() (*float64, int, error) {
	return nil, 0, fmt.Errorf("uniform activity conversion: %w", domain.ErrNotImplemented)
}

func (r *AnalysisResult) StoreToDB(ctx context.Context, s *Scope) error {
	uniform, uniformUnit, err := r.uniformActivity()
	switch {
	case errors.Is(err, domain.ErrNotImplemented):
		uniform, uniformUnit = nil, 0
	case err != nil:
		return err
	}

	insert := func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", r.ID.String()),
			ports.Arg("analysis_id", nullID(r.AnalysisID)),
			ports.Arg("nuclide_id", nullID(r.NuclideID)),
			ports.Arg("activity", nullable(r.Activity)),
			ports.Arg("activity_uncertainty_abs", nullable(r.ActivityUncertaintyABS)),
			ports.Arg("activity_approved", r.ActivityApproved),
			ports.Arg("uniform_activity", nullable(uniform)),
			ports.Arg("uniform_activity_unit_id", uniformUnit),
			ports.Arg("detection_limit", nullable(r.DetectionLimit)),
			ports.Arg("detection_limit_approved", r.DetectionLimitApproved),
			ports.Arg("accredited", r.Accredited),
			ports.Arg("reportable", r.Reportable),
			ports.Arg("instance_status_id", r.InstanceStatusID),
			ports.Arg("create_date", s.Actor.Now),
			ports.Arg("create_id", nullID(s.Actor.UserID)),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("update_id", nullID(s.Actor.UserID)),
		}
	}
	update := func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", r.ID.String()),
			ports.Arg("activity", nullable(r.Activity)),
			ports.Arg("activity_uncertainty_abs", nullable(r.ActivityUncertaintyABS)),
			ports.Arg("activity_approved", r.ActivityApproved),
			ports.Arg("uniform_activity", nullable(uniform)),
			ports.Arg("uniform_activity_unit_id", uniformUnit),
			ports.Arg("detection_limit", nullable(r.DetectionLimit)),
			ports.Arg("detection_limit_approved", r.DetectionLimitApproved),
			ports.Arg("accredited", r.Accredited),
			ports.Arg("reportable", r.Reportable),
			ports.Arg("instance_status_id", r.InstanceStatusID),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("update_id", nullID(s.Actor.UserID)),
		}
	}

	op, err := storeRow(ctx, s, analysisResultTable, rowWrite{
		id:     r.ID,
		parent: r.AnalysisID,
		dirty:  r.Dirty,
		insert: insert,
		update: update,
	})
	if err != nil {
		return err
	}
	switch op {
	case domain.AuditInsert:
		r.CreateDate, r.CreateID = s.Actor.Now, s.Actor.UserID
		fallthrough
	case domain.AuditUpdate:
		r.UpdateDate, r.UpdateID = s.Actor.Now, s.Actor.UserID
		r.UniformActivity, r.UniformActivityUnitID = uniform, uniformUnit
	}
	r.Dirty = false
	return nil
}
