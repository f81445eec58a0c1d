package entity_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/entity"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

func snapshotKeys(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if _, err := dec.Token(); err != nil {
		t.Fatalf("snapshot open: %v", err)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			t.Fatalf("snapshot key: %v", err)
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			t.Fatalf("snapshot value: %v", err)
		}
	}
	return keys
}

func TestAnalysisStoreInsertsRowsAndAudits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := newAnalysis(2)

	err := f.write(func(s *entity.Scope) error {
		return a.StoreToDB(ctx, s)
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	if a.IsDirty() {
		t.Fatal("analysis still dirty after store")
	}
	if a.CreateDate == nil || !a.CreateDate.Equal(f.actor.Now) || a.CreatedBy != "tester" {
		t.Fatalf("create stamps not applied: %v %q", a.CreateDate, a.CreatedBy)
	}
	if a.Results[0].CreateID != f.actor.UserID {
		t.Fatalf("result create id = %s, want %s", a.Results[0].CreateID, f.actor.UserID)
	}

	records := f.audit(t, domain.AuditFilter{})
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}
	if records[0].EntityKind != domain.KindAnalysis || records[0].EntityID != a.ID.String() {
		t.Fatalf("first audit should be the analysis, got %+v", records[0])
	}
	for _, r := range records {
		if r.Operation != domain.AuditInsert || r.CreatedBy != "tester" {
			t.Fatalf("unexpected audit record: %+v", r)
		}
	}

	var columns []string
	err = f.read(func(s *entity.Scope) error {
		row, _, err := s.Rows.FetchOne(ctx, ports.Proc("csp_select_analysis_flat"), ports.Arg("id", a.ID.String()))
		columns = row.Columns()
		return err
	})
	if err != nil {
		t.Fatalf("flat select: %v", err)
	}
	keys := snapshotKeys(t, records[0].Snapshot)
	if strings.Join(keys, ",") != strings.Join(columns, ",") {
		t.Fatalf("snapshot keys %v do not match columns %v", keys, columns)
	}

	var snap map[string]any
	if err := json.Unmarshal(records[0].Snapshot, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap["specter_reference"] != "SPEC-001" || snap["number"] != float64(42) || snap["comment"] != nil {
		t.Fatalf("unexpected snapshot values: %v", snap)
	}
}

func TestAnalysisRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := newAnalysis(3)
	a.Comment = "first pass"

	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	var loaded entity.Analysis
	if err := f.read(func(s *entity.Scope) error { return loaded.LoadFromDB(ctx, s, a.ID) }); err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.IsDirty() {
		t.Fatal("loaded analysis is dirty")
	}
	if loaded.ID != a.ID || loaded.AssignmentID != a.AssignmentID || *loaded.Number != 42 {
		t.Fatalf("unexpected identity fields: %+v", loaded)
	}
	if loaded.SpecterReference != a.SpecterReference || loaded.Comment != "first pass" || loaded.NuclideLibrary != a.NuclideLibrary {
		t.Fatalf("unexpected text fields: %+v", loaded)
	}
	if loaded.SigmaActivity == nil || *loaded.SigmaActivity != 2.0 || loaded.SigmaMDA != nil {
		t.Fatalf("unexpected sigmas: %v %v", loaded.SigmaActivity, loaded.SigmaMDA)
	}
	if loaded.LaboratoryID != uuid.Nil || loaded.MDALibrary != "" {
		t.Fatalf("NULL columns should load as defaults: %+v", loaded)
	}
	if len(loaded.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(loaded.Results))
	}
	for _, r := range loaded.Results {
		orig := a.Result(r.ID)
		if orig == nil {
			t.Fatalf("loaded unknown result %s", r.ID)
		}
		if *r.Activity != *orig.Activity || r.Reportable != orig.Reportable || r.NuclideID != orig.NuclideID {
			t.Fatalf("result %s differs: %+v vs %+v", r.ID, r, orig)
		}
		if r.UniformActivity != nil || r.UniformActivityUnitID != 0 {
			t.Fatalf("uniform activity should be unset: %+v", r)
		}
		if r.InstanceStatusID != domain.InstanceStatusActive {
			t.Fatalf("instance status = %d", r.InstanceStatusID)
		}
		if r.NuclideName != "" {
			t.Fatalf("unknown nuclide should project empty name, got %q", r.NuclideName)
		}
	}
}

func TestAnalysisSecondStoreIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := newAnalysis(2)

	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	counter := &countingStore{}
	err := f.tr.WriteTX(ctx, func(rows ports.RowStore) error {
		counter.RowStore = rows
		s := f.scope(counter)
		var loaded entity.Analysis
		if err := loaded.LoadFromDB(ctx, s, a.ID); err != nil {
			return err
		}
		if err := loaded.StoreToDB(ctx, s); err != nil {
			return err
		}
		return a.StoreToDB(ctx, s)
	})
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if len(counter.executed) != 0 {
		t.Fatalf("expected no statements, got %v", counter.executed)
	}
	if got := len(f.audit(t, domain.AuditFilter{})); got != 3 {
		t.Fatalf("expected 3 audit records, got %d", got)
	}
}

func TestAnalysisDirtyResultIsUpdatedAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := newAnalysis(2)

	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	r := &a.Results[1]
	r.Activity = ptr(99.5)
	r.ActivityApproved = true
	r.Dirty = true
	if !a.IsDirty() {
		t.Fatal("dirty result should make the analysis dirty")
	}

	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}
	if a.IsDirty() {
		t.Fatal("analysis dirty after store")
	}

	updates := f.audit(t, domain.AuditFilter{Operation: domain.AuditUpdate})
	if len(updates) != 1 || updates[0].EntityID != r.ID.String() || updates[0].EntityKind != domain.KindAnalysisResult {
		t.Fatalf("expected one result update, got %+v", updates)
	}
	var snap map[string]any
	if err := json.Unmarshal(updates[0].Snapshot, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap["activity"] != 99.5 {
		t.Fatalf("snapshot not taken after update: %v", snap["activity"])
	}
}

func TestAnalysisPrunesRemovedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := newAnalysis(3)

	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	removed := a.Results[1].ID
	var before string
	err := f.read(func(s *entity.Scope) error {
		var err error
		before, err = entity.Snapshot(ctx, s, ports.Proc("csp_select_analysis_result_flat"), removed)
		return err
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if before == "" {
		t.Fatal("expected a snapshot of the persisted result")
	}

	if !a.RemoveResult(removed) {
		t.Fatal("result not removed")
	}
	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	deletes := f.audit(t, domain.AuditFilter{Operation: domain.AuditDelete})
	if len(deletes) != 1 || deletes[0].EntityID != removed.String() {
		t.Fatalf("expected one delete audit for %s, got %+v", removed, deletes)
	}
	if string(deletes[0].Snapshot) != before {
		t.Fatalf("delete snapshot differs from pre-delete row:\n%s\n%s", deletes[0].Snapshot, before)
	}
	if n := f.count(t, "select count(*) from analysis_result where id = @id", ports.Arg("id", removed.String())); n != 0 {
		t.Fatalf("result row still present")
	}
	if n := f.count(t, "select count(*) from analysis_result where analysis_id = @id", ports.Arg("id", a.ID.String())); n != 2 {
		t.Fatalf("expected 2 remaining results, got %d", n)
	}
}

func TestAnalysisIsClosedFollowsAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	asg := entity.NewAssignment()
	asg.Name = "Order 1"
	a := newAnalysis(0)
	a.AssignmentID = asg.ID

	err := f.write(func(s *entity.Scope) error {
		if err := asg.StoreToDB(ctx, s); err != nil {
			return err
		}
		return a.StoreToDB(ctx, s)
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	closed := func() bool {
		t.Helper()
		var got bool
		if err := f.read(func(s *entity.Scope) error {
			var err error
			got, err = a.IsClosed(ctx, s)
			return err
		}); err != nil {
			t.Fatalf("is closed: %v", err)
		}
		return got
	}

	if closed() {
		t.Fatal("assignment under construction should not close the analysis")
	}

	asg.SetWorkflowStatus(domain.WorkflowStatusComplete, f.actor)
	if err := f.write(func(s *entity.Scope) error { return asg.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store assignment: %v", err)
	}
	if !closed() {
		t.Fatal("complete assignment should close the analysis")
	}

	f.exec(t, "delete from assignment where id = @id", ports.Arg("id", asg.ID.String()))
	if closed() {
		t.Fatal("missing assignment should not close the analysis")
	}
}

func TestStoreRejectsEmptyID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := newAnalysis(0)
	a.ID = uuid.Nil

	err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) })
	if !errors.Is(err, domain.ErrInvalidPrecondition) {
		t.Fatalf("expected invalid precondition, got %v", err)
	}
	if got := len(f.audit(t, domain.AuditFilter{})); got != 0 {
		t.Fatalf("expected no audit records, got %d", got)
	}
}

func TestStoreRequiresActorTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.actor = domain.ActorContext{Name: "tester"}

	a := newAnalysis(0)
	err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) })
	if !errors.Is(err, domain.ErrInvalidPrecondition) {
		t.Fatalf("expected invalid precondition, got %v", err)
	}
}

func TestLoadMissingAnalysisIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newAnalysis(1)
	before := a.Clone()
	err := f.read(func(s *entity.Scope) error { return a.LoadFromDB(ctx, s, uuid.New()) })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if a.ID != before.ID || len(a.Results) != 1 {
		t.Fatal("failed load modified the receiver")
	}
}

func TestAuditFailureRollsBackStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.exec(t, `CREATE TRIGGER trg_fail_audit_insert
		BEFORE INSERT ON audit_log
		WHEN NEW.source_table = 'analysis_result'
		BEGIN
			SELECT RAISE(ABORT, 'forced audit failure');
		END`)

	a := newAnalysis(1)
	err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) })
	if err == nil {
		t.Fatal("expected store error")
	}
	if !errors.Is(err, domain.ErrStorage) || !strings.Contains(err.Error(), "forced audit failure") {
		t.Fatalf("expected forced audit failure, got %v", err)
	}

	if n := f.count(t, "select count(*) from analysis"); n != 0 {
		t.Fatalf("analysis row survived rollback")
	}
	if n := f.count(t, "select count(*) from audit_log"); n != 0 {
		t.Fatalf("audit rows survived rollback: %d", n)
	}
}

func TestRecorderWithOutboxEnqueuesEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recorder = &entity.Recorder{Outbox: true}

	a := newAnalysis(1)
	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	if n := f.count(t, "select count(*) from outbox_events where topic = 'audit.analysis.insert'"); n != 1 {
		t.Fatalf("expected one analysis outbox event, got %d", n)
	}
	if n := f.count(t, "select count(*) from outbox_events"); n != 2 {
		t.Fatalf("expected two outbox events, got %d", n)
	}
}

func TestRecorderSkipsEmptySnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.write(func(s *entity.Scope) error {
		return (&entity.Recorder{}).Record(ctx, s, domain.KindAnalysis, uuid.New(), domain.AuditUpdate, "", "")
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := len(f.audit(t, domain.AuditFilter{})); got != 0 {
		t.Fatalf("expected no audit rows, got %d", got)
	}
}

func TestStoreRejectsResultOwnedByAnotherAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newAnalysis(0)
	r := entity.NewAnalysisResult(uuid.New())
	a.Results = append(a.Results, *r)

	err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) })
	if !errors.Is(err, domain.ErrInvalidPrecondition) {
		t.Fatalf("expected invalid precondition, got %v", err)
	}
}

func TestResultProjectsNuclideName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newAnalysis(1)
	nuclide := a.Results[0].NuclideID
	f.exec(t, "insert into nuclide (id, name) values (@id, @name)", ports.Arg("id", nuclide.String()), ports.Arg("name", "Cs-137"))

	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}
	var loaded entity.Analysis
	if err := f.read(func(s *entity.Scope) error { return loaded.LoadFromDB(ctx, s, a.ID) }); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Results[0].NuclideName != "Cs-137" {
		t.Fatalf("nuclide name = %q", loaded.Results[0].NuclideName)
	}
}

func TestFailedStoreLeavesAnalysisDirtyForRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newAnalysis(1)
	other := newAnalysis(1)
	for _, x := range []*entity.Analysis{a, other} {
		if err := f.write(func(s *entity.Scope) error { return x.StoreToDB(ctx, s) }); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	a.SpecterReference = "CHANGED"
	a.Dirty = true
	foreign := *other.Results[0].Clone()
	foreign.AnalysisID = uuid.Nil
	foreign.Activity = ptr(99.0)
	foreign.Dirty = true
	a.Results = append(a.Results, foreign)

	err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) })
	if !errors.Is(err, domain.ErrInvalidPrecondition) {
		t.Fatalf("expected invalid precondition, got %v", err)
	}
	if !a.Dirty || !a.IsDirty() {
		t.Fatal("failed store marked the analysis clean")
	}
	if n := f.count(t, "select count(*) from analysis where specter_reference = 'CHANGED'"); n != 0 {
		t.Fatal("update survived rollback")
	}
	if n := f.count(t, "select count(*) from analysis_result where id = @id and analysis_id = @owner and activity = 0.5",
		ports.Arg("id", foreign.ID.String()), ports.Arg("owner", other.ID.String())); n != 1 {
		t.Fatal("foreign result was modified")
	}

	a.RemoveResult(foreign.ID)
	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("retry: %v", err)
	}
	var loaded entity.Analysis
	if err := f.read(func(s *entity.Scope) error { return loaded.LoadFromDB(ctx, s, a.ID) }); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SpecterReference != "CHANGED" {
		t.Fatalf("persisted specter reference = %q after retry", loaded.SpecterReference)
	}
}

func TestFailedChildStoreRestoresEarlierChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newAnalysis(1)
	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	f.exec(t, `CREATE TRIGGER trg_fail_result_insert
		BEFORE INSERT ON analysis_result
		BEGIN
			SELECT RAISE(ABORT, 'forced result failure');
		END`)

	a.Results[0].Activity = ptr(7.0)
	a.Results[0].Dirty = true
	added := entity.NewAnalysisResult(a.ID)
	added.NuclideID = uuid.New()
	a.Results = append(a.Results, *added)

	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err == nil {
		t.Fatal("expected store error")
	}
	if !a.Results[0].Dirty {
		t.Fatal("updated result marked clean although the store rolled back")
	}
}

func TestImportFileIsAuditNoteAndResetOnLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := newAnalysis(0)
	a.ImportFile = "run-17.spe"
	if c := a.Clone(); c.ImportFile != "run-17.spe" {
		t.Fatalf("clone import file = %q", c.ImportFile)
	}
	if err := f.write(func(s *entity.Scope) error { return a.StoreToDB(ctx, s) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	records := f.audit(t, domain.AuditFilter{EntityKind: domain.KindAnalysis})
	if len(records) != 1 || records[0].Note != "imported from run-17.spe" {
		t.Fatalf("unexpected audit records: %+v", records)
	}

	if err := f.read(func(s *entity.Scope) error { return a.LoadFromDB(ctx, s, a.ID) }); err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.ImportFile != "" {
		t.Fatalf("import file not reset on load: %q", a.ImportFile)
	}
}
