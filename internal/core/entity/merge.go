package entity

import (
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/google/uuid"
)

// set copies src into dst and marks dirty when the value changes.
func set[T comparable](dirty *bool, dst *T, src T) {
	if *dst != src {
		*dst = src
		*dirty = true
	}
}

func setPtr[T comparable](dirty *bool, dst **T, src *T) {
	switch {
	case *dst == nil && src == nil:
		return
	case *dst != nil && src != nil && **dst == *src:
		return
	}
	*dst = clonePtr(src)
	*dirty = true
}

func setTime(dirty *bool, dst **time.Time, src *time.Time) {
	switch {
	case *dst == nil && src == nil:
		return
	case *dst != nil && src != nil && (*dst).Equal(*src):
		return
	}
	*dst = clonePtr(src)
	*dirty = true
}

type mergeable[T any] interface {
	*T
	EntityID() uuid.UUID
	apply(src *T, actor domain.ActorContext)
}

// mergeChildren matches incoming children to current ones by id. Matched
// children take the incoming mutable fields; unmatched incoming children are
// kept as new; current children absent from incoming are dropped.
func mergeChildren[T any, P mergeable[T]](current, incoming []T, actor domain.ActorContext, prepare func(*T)) []T {
	index := make(map[uuid.UUID]int, len(current))
	for i := range current {
		index[P(&current[i]).EntityID()] = i
	}
	merged := make([]T, 0, len(incoming))
	for i := range incoming {
		in := &incoming[i]
		prepare(in)
		if j, ok := index[P(in).EntityID()]; ok {
			child := current[j]
			P(&child).apply(in, actor)
			merged = append(merged, child)
			continue
		}
		merged = append(merged, *in)
	}
	return merged
}

func newID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// Prepare readies a freshly decoded analysis for its first store: missing
// ids are generated and results get their defaults.
func (a *Analysis) Prepare() {
	newID(&a.ID)
	for i := range a.Results {
		a.Results[i].prepare(a.ID)
	}
}

func (r *AnalysisResult) prepare(analysisID uuid.UUID) {
	newID(&r.ID)
	if r.AnalysisID == uuid.Nil {
		r.AnalysisID = analysisID
	}
	if r.InstanceStatusID == 0 {
		r.InstanceStatusID = domain.InstanceStatusActive
	}
}

// Apply merges the writable fields of src into a and reconciles the result
// collection by id.
func (a *Analysis) Apply(src *Analysis, actor domain.ActorContext) {
	a.apply(src, actor)
}

func (a *Analysis) apply(src *Analysis, actor domain.ActorContext) {
	setPtr(&a.Dirty, &a.WorkflowStatusID, src.WorkflowStatusID)
	set(&a.Dirty, &a.SpecterReference, src.SpecterReference)
	set(&a.Dirty, &a.ActivityUnitID, src.ActivityUnitID)
	set(&a.Dirty, &a.ActivityUnitTypeID, src.ActivityUnitTypeID)
	setPtr(&a.Dirty, &a.SigmaActivity, src.SigmaActivity)
	setPtr(&a.Dirty, &a.SigmaMDA, src.SigmaMDA)
	set(&a.Dirty, &a.NuclideLibrary, src.NuclideLibrary)
	set(&a.Dirty, &a.MDALibrary, src.MDALibrary)
	set(&a.Dirty, &a.Comment, src.Comment)
	a.Results = mergeChildren(a.Results, src.Results, actor, func(r *AnalysisResult) { r.prepare(a.ID) })
}

func (r *AnalysisResult) apply(src *AnalysisResult, _ domain.ActorContext) {
	setPtr(&r.Dirty, &r.Activity, src.Activity)
	setPtr(&r.Dirty, &r.ActivityUncertaintyABS, src.ActivityUncertaintyABS)
	set(&r.Dirty, &r.ActivityApproved, src.ActivityApproved)
	setPtr(&r.Dirty, &r.DetectionLimit, src.DetectionLimit)
	set(&r.Dirty, &r.DetectionLimitApproved, src.DetectionLimitApproved)
	set(&r.Dirty, &r.Accredited, src.Accredited)
	set(&r.Dirty, &r.Reportable, src.Reportable)
	set(&r.Dirty, &r.InstanceStatusID, src.InstanceStatusID)
}

func (a *Assignment) Prepare() {
	newID(&a.ID)
	if a.WorkflowStatusID == 0 {
		a.WorkflowStatusID = domain.WorkflowStatusConstruction
	}
	if a.InstanceStatusID == 0 {
		a.InstanceStatusID = domain.InstanceStatusActive
	}
	for i := range a.SampleTypes {
		a.SampleTypes[i].prepare(a.ID)
	}
}

func (t *AssignmentSampleType) prepare(assignmentID uuid.UUID) {
	newID(&t.ID)
	if t.AssignmentID == uuid.Nil {
		t.AssignmentID = assignmentID
	}
	for i := range t.PreparationMethods {
		t.PreparationMethods[i].prepare(t.ID)
	}
}

func (m *AssignmentPreparationMethod) prepare(sampleTypeID uuid.UUID) {
	newID(&m.ID)
	if m.AssignmentSampleTypeID == uuid.Nil {
		m.AssignmentSampleTypeID = sampleTypeID
	}
}

// Apply merges the writable fields of src into a. A workflow status change
// is stamped with actor.
func (a *Assignment) Apply(src *Assignment, actor domain.ActorContext) {
	a.apply(src, actor)
}

func (a *Assignment) apply(src *Assignment, actor domain.ActorContext) {
	set(&a.Dirty, &a.Name, src.Name)
	set(&a.Dirty, &a.LaboratoryID, src.LaboratoryID)
	set(&a.Dirty, &a.AccountID, src.AccountID)
	setTime(&a.Dirty, &a.Deadline, src.Deadline)
	setPtr(&a.Dirty, &a.RequestedSigmaAct, src.RequestedSigmaAct)
	setPtr(&a.Dirty, &a.RequestedSigmaMDA, src.RequestedSigmaMDA)
	set(&a.Dirty, &a.CustomerCompanyName, src.CustomerCompanyName)
	set(&a.Dirty, &a.CustomerCompanyEmail, src.CustomerCompanyEmail)
	set(&a.Dirty, &a.CustomerCompanyPhone, src.CustomerCompanyPhone)
	set(&a.Dirty, &a.CustomerCompanyAddress, src.CustomerCompanyAddress)
	set(&a.Dirty, &a.CustomerContactName, src.CustomerContactName)
	set(&a.Dirty, &a.CustomerContactEmail, src.CustomerContactEmail)
	set(&a.Dirty, &a.CustomerContactPhone, src.CustomerContactPhone)
	set(&a.Dirty, &a.CustomerContactAddress, src.CustomerContactAddress)
	set(&a.Dirty, &a.InstanceStatusID, src.InstanceStatusID)
	set(&a.Dirty, &a.Description, src.Description)
	if src.WorkflowStatusID != 0 {
		a.SetWorkflowStatus(src.WorkflowStatusID, actor)
	}
	a.SampleTypes = mergeChildren(a.SampleTypes, src.SampleTypes, actor, func(t *AssignmentSampleType) { t.prepare(a.ID) })
}

func (t *AssignmentSampleType) apply(src *AssignmentSampleType, actor domain.ActorContext) {
	set(&t.Dirty, &t.SampleTypeID, src.SampleTypeID)
	set(&t.Dirty, &t.SampleComponentID, src.SampleComponentID)
	setPtr(&t.Dirty, &t.SampleCount, src.SampleCount)
	set(&t.Dirty, &t.RequestedActivityUnitID, src.RequestedActivityUnitID)
	set(&t.Dirty, &t.RequestedActivityUnitTypeID, src.RequestedActivityUnitTypeID)
	set(&t.Dirty, &t.ReturnToSender, src.ReturnToSender)
	set(&t.Dirty, &t.Comment, src.Comment)
	t.PreparationMethods = mergeChildren(t.PreparationMethods, src.PreparationMethods, actor, func(m *AssignmentPreparationMethod) { m.prepare(t.ID) })
}

func (m *AssignmentPreparationMethod) apply(src *AssignmentPreparationMethod, _ domain.ActorContext) {
	set(&m.Dirty, &m.PreparationMethodID, src.PreparationMethodID)
	setPtr(&m.Dirty, &m.PreparationMethodCount, src.PreparationMethodCount)
	set(&m.Dirty, &m.PreparationLaboratoryID, src.PreparationLaboratoryID)
	set(&m.Dirty, &m.Comment, src.Comment)
}

func (g *PreparationGeometry) Prepare() {
	newID(&g.ID)
}

func (g *PreparationGeometry) Apply(src *PreparationGeometry, _ domain.ActorContext) {
	set(&g.Dirty, &g.Name, src.Name)
	setPtr(&g.Dirty, &g.MinFillHeightMM, src.MinFillHeightMM)
	setPtr(&g.Dirty, &g.MaxFillHeightMM, src.MaxFillHeightMM)
	setPtr(&g.Dirty, &g.InstanceStatusID, src.InstanceStatusID)
	set(&g.Dirty, &g.Comment, src.Comment)
}
