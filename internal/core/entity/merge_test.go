package entity_test

import (
	"testing"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/entity"
	"github.com/google/uuid"
)

func TestApplyUnchangedDocumentStaysClean(t *testing.T) {
	current := newAnalysis(2)
	current.ClearDirty()
	doc := current.Clone()

	current.Apply(doc, domain.ActorContext{Name: "tester"})
	if current.IsDirty() {
		t.Fatal("applying an identical document marked the analysis dirty")
	}
	if len(current.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(current.Results))
	}
}

func TestApplyMergesResultsByID(t *testing.T) {
	current := newAnalysis(3)
	current.ClearDirty()
	keep, drop, change := current.Results[0].ID, current.Results[1].ID, current.Results[2].ID

	doc := current.Clone()
	doc.Comment = "reviewed"
	doc.RemoveResult(drop)
	doc.Result(change).Activity = ptr(123.0)
	added := entity.AnalysisResult{NuclideID: uuid.New()}
	doc.Results = append(doc.Results, added)

	current.Apply(doc, domain.ActorContext{Name: "tester"})

	if !current.Dirty {
		t.Fatal("comment change should mark the analysis dirty")
	}
	if current.Result(drop) != nil {
		t.Fatal("dropped result still present")
	}
	if current.Result(keep).Dirty {
		t.Fatal("unchanged result marked dirty")
	}
	if r := current.Result(change); !r.Dirty || *r.Activity != 123.0 {
		t.Fatalf("changed result not merged: %+v", r)
	}
	last := current.Results[len(current.Results)-1]
	if last.ID == uuid.Nil || last.AnalysisID != current.ID || last.InstanceStatusID != domain.InstanceStatusActive {
		t.Fatalf("new result not prepared: %+v", last)
	}
}

func TestApplyIgnoresNonWritableAnalysisFields(t *testing.T) {
	current := newAnalysis(0)
	current.ClearDirty()
	doc := current.Clone()
	doc.Number = ptr(7)
	doc.AssignmentID = uuid.New()

	current.Apply(doc, domain.ActorContext{Name: "tester"})
	if current.IsDirty() || *current.Number != 42 {
		t.Fatalf("identity fields should not be writable: %+v", current)
	}
}

func TestApplyAssignmentStampsWorkflowStatus(t *testing.T) {
	current := newAssignment(1, 1)
	current.ClearDirty()
	doc := current.Clone()
	doc.WorkflowStatusID = domain.WorkflowStatusComplete
	doc.SampleTypes[0].PreparationMethods = append(doc.SampleTypes[0].PreparationMethods, entity.AssignmentPreparationMethod{})

	actor := domain.ActorContext{Name: "approver"}
	current.Apply(doc, actor)

	if current.WorkflowStatusID != domain.WorkflowStatusComplete || current.LastWorkflowStatusBy != "approver" {
		t.Fatalf("workflow status not stamped: %+v", current)
	}
	methods := current.SampleTypes[0].PreparationMethods
	if len(methods) != 2 || methods[1].ID == uuid.Nil || methods[1].AssignmentSampleTypeID != current.SampleTypes[0].ID {
		t.Fatalf("new preparation method not prepared: %+v", methods)
	}
}

func TestPrepareFillsIDsAndDefaults(t *testing.T) {
	a := &entity.Assignment{SampleTypes: []entity.AssignmentSampleType{{
		PreparationMethods: []entity.AssignmentPreparationMethod{{}},
	}}}
	a.Prepare()

	if a.ID == uuid.Nil || a.WorkflowStatusID != domain.WorkflowStatusConstruction || a.InstanceStatusID != domain.InstanceStatusActive {
		t.Fatalf("assignment not prepared: %+v", a)
	}
	st := a.SampleTypes[0]
	if st.ID == uuid.Nil || st.AssignmentID != a.ID {
		t.Fatalf("sample type not prepared: %+v", st)
	}
	if m := st.PreparationMethods[0]; m.ID == uuid.Nil || m.AssignmentSampleTypeID != st.ID {
		t.Fatalf("preparation method not prepared: %+v", m)
	}
}

func TestPrepareKeepsExistingOwner(t *testing.T) {
	owner := uuid.New()
	a := &entity.Analysis{Results: []entity.AnalysisResult{{AnalysisID: owner}}}
	a.Prepare()
	if a.Results[0].AnalysisID != owner {
		t.Fatalf("result owner overwritten: %s", a.Results[0].AnalysisID)
	}

	current := newAnalysis(0)
	current.ClearDirty()
	doc := current.Clone()
	doc.Results = append(doc.Results, entity.AnalysisResult{ID: uuid.New(), AnalysisID: owner})
	current.Apply(doc, domain.ActorContext{Name: "tester"})
	if got := current.Results[0].AnalysisID; got != owner {
		t.Fatalf("merged result owner = %s, want %s", got, owner)
	}
}
