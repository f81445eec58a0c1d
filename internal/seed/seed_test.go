package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb"
	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb/gormdb"
	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/usecase"
	"github.com/atvirokodosprendimai/lims/migrations"
	"github.com/google/uuid"
)

const sampleSeed = `
nuclides:
  - id: 3d2b4c1e-5f6a-4b7c-8d9e-0f1a2b3c4d5e
    name: Cs-137
  - id: 4e3c5d2f-6a7b-4c8d-9e0f-1a2b3c4d5e6f
    name: K-40
sample_types:
  - id: 5f4d6e3a-7b8c-4d9e-8f1a-2b3c4d5e6f70
    name: Soil
sample_components:
  - id: 6a5e7f4b-8c9d-4e0f-9a2b-3c4d5e6f7081
    sample_type_id: 5f4d6e3a-7b8c-4d9e-8f1a-2b3c4d5e6f70
    name: Topsoil
preparation_geometries:
  - id: 7b6f8a5c-9d0e-4f1a-8b3c-4d5e6f708192
    name: Marinelli 1L
    min_fill_height_mm: 10
    max_fill_height_mm: 95.5
`

func TestDecode(t *testing.T) {
	f, err := Decode(strings.NewReader(sampleSeed))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(f.Nuclides) != 2 || f.Nuclides[0].Name != "Cs-137" {
		t.Fatalf("unexpected nuclides: %+v", f.Nuclides)
	}
	if sc := f.SampleComponents[0]; sc.SampleTypeID == nil || *sc.SampleTypeID != f.SampleTypes[0].ID {
		t.Fatalf("component not linked to sample type: %+v", sc)
	}
	if g := f.Geometries[0]; g.MaxFillHeightMM == nil || *g.MaxFillHeightMM != 95.5 {
		t.Fatalf("unexpected geometry: %+v", g)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "isotopes: []\n",
		"nuclide no name":  "nuclides:\n  - id: 3d2b4c1e-5f6a-4b7c-8d9e-0f1a2b3c4d5e\n",
		"geometry no name": "preparation_geometries:\n  - comment: x\n",
		"bad uuid":         "nuclides:\n  - id: nope\n    name: x\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	_, err := Decode(strings.NewReader("preparation_geometries:\n  - comment: x\n"))
	if !errors.Is(err, domain.ErrInvalidPrecondition) {
		t.Fatalf("expected invalid precondition, got %v", err)
	}
}

func TestApplyIsRepeatable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := gormdb.Open(gormdb.DialectSQLite, filepath.Join(dir, "lims.sqlite"), gormdb.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if err := migrations.Up(ctx, wdb, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	catalog, err := sqldb.LoadCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	aggregates := usecase.NewAggregateService(sqldb.NewTransactor(db, catalog), nil)
	actor := domain.NewActorContext("seed", uuid.Nil, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))

	path := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(path, []byte(sampleSeed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	for i := 0; i < 2; i++ {
		summary, err := Apply(ctx, sqldb.NewReferenceRepository(db), aggregates, actor, f)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if summary.Nuclides != 2 || summary.Geometries != 1 {
			t.Fatalf("unexpected summary: %+v", summary)
		}
	}

	id := uuid.MustParse("7b6f8a5c-9d0e-4f1a-8b3c-4d5e6f708192")
	g, err := aggregates.GetPreparationGeometry(ctx, id)
	if err != nil {
		t.Fatalf("get geometry: %v", err)
	}
	if g.Name != "Marinelli 1L" || g.CreatedBy != "seed" {
		t.Fatalf("unexpected geometry: %+v", g)
	}

	audit := usecase.NewAuditService(sqldb.NewAuditTrailRepository(db))
	records, err := audit.List(ctx, domain.AuditFilter{EntityKind: domain.KindPreparationGeometry})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("unchanged reseed must not audit again, got %d rows", len(records))
	}
}
