package entity_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb"
	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb/gormdb"
	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/entity"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/atvirokodosprendimai/lims/migrations"
	"github.com/google/uuid"
)

type fixture struct {
	db       *gormdb.DB
	tr       *sqldb.Transactor
	actor    domain.ActorContext
	recorder *entity.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := gormdb.Open(gormdb.DialectSQLite, filepath.Join(t.TempDir(), "lims.sqlite"), gormdb.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(ctx, wdb, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	catalog, err := sqldb.LoadCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	return &fixture{
		db:    db,
		tr:    sqldb.NewTransactor(db, catalog),
		actor: domain.NewActorContext("tester", uuid.New(), time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)),
	}
}

func (f *fixture) scope(rows ports.RowStore) *entity.Scope {
	s := entity.NewScope(rows, f.actor)
	s.Recorder = f.recorder
	return s
}

func (f *fixture) write(fn func(s *entity.Scope) error) error {
	return f.tr.WriteTX(context.Background(), func(rows ports.RowStore) error {
		return fn(f.scope(rows))
	})
}

func (f *fixture) read(fn func(s *entity.Scope) error) error {
	return f.tr.ReadTX(context.Background(), func(rows ports.RowStore) error {
		return fn(f.scope(rows))
	})
}

func (f *fixture) exec(t *testing.T, query string, args ...sql.NamedArg) {
	t.Helper()
	err := f.tr.WriteTX(context.Background(), func(rows ports.RowStore) error {
		_, err := rows.Execute(context.Background(), ports.Text(query), args...)
		return err
	})
	if err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func (f *fixture) count(t *testing.T, query string, args ...sql.NamedArg) int64 {
	t.Helper()
	var n int64
	err := f.tr.ReadTX(context.Background(), func(rows ports.RowStore) error {
		row, _, err := rows.FetchOne(context.Background(), ports.Text(query), args...)
		if err != nil {
			return err
		}
		n, err = row.Count()
		return err
	})
	if err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func (f *fixture) audit(t *testing.T, filter domain.AuditFilter) []domain.AuditRecord {
	t.Helper()
	records, err := sqldb.NewAuditTrailRepository(f.db).List(context.Background(), filter)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return records
}

// countingStore records every statement executed through it.
type countingStore struct {
	ports.RowStore
	executed []string
}

func (c *countingStore) Execute(ctx context.Context, stmt ports.Statement, args ...sql.NamedArg) (int64, error) {
	c.executed = append(c.executed, stmt.String())
	return c.RowStore.Execute(ctx, stmt, args...)
}

func ptr[T any](v T) *T {
	return &v
}

func newAnalysis(results int) *entity.Analysis {
	a := entity.NewAnalysis()
	a.Number = ptr(42)
	a.AssignmentID = uuid.New()
	a.WorkflowStatusID = ptr(domain.WorkflowStatusConstruction)
	a.SpecterReference = "SPEC-001"
	a.SigmaActivity = ptr(2.0)
	a.NuclideLibrary = "default.nlb"
	a.InstanceStatusID = ptr(domain.InstanceStatusActive)
	for i := 0; i < results; i++ {
		r := entity.NewAnalysisResult(a.ID)
		r.NuclideID = uuid.New()
		r.Activity = ptr(float64(i) + 0.5)
		r.Reportable = i%2 == 0
		a.Results = append(a.Results, *r)
	}
	return a
}
