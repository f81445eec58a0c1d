package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb"
	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb/gormdb"
	"github.com/atvirokodosprendimai/lims/internal/core/usecase"
	"github.com/atvirokodosprendimai/lims/migrations"
	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type testServer struct {
	router http.Handler
	token  string
	userID uuid.UUID
	hook   *logtest.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := gormdb.Open(gormdb.DialectSQLite, filepath.Join(t.TempDir(), "lims.sqlite"), gormdb.Options{})
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
	validator, err := usecase.NewPayloadValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	auth := usecase.NewAuthService(sqldb.NewAPIKeyRepository(db))
	userID := uuid.New()
	token, err := auth.IssueKey(ctx, "bench", userID)
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}

	log, hook := logtest.NewNullLogger()
	h := NewHandler(
		usecase.NewAggregateService(sqldb.NewTransactor(db, catalog), validator),
		usecase.NewAuditService(sqldb.NewAuditTrailRepository(db)),
		auth,
		WithLogger(log),
		WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})),
	)
	return &testServer{router: h.Router(), token: token, userID: userID, hook: hook}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRequiresAPIKey(t *testing.T) {
	s := newTestServer(t)

	for _, header := range []string{"", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+uuid.NewString(), nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+uuid.NewString(), nil)
	req.Header.Set("X-API-Key", s.token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("X-API-Key: expected 404 for missing analysis, got %d", rec.Code)
	}
}

func TestPutAndGetAnalysis(t *testing.T) {
	s := newTestServer(t)
	id := uuid.NewString()
	path := "/v1/analyses/" + id

	rec := s.do(t, http.MethodPut, path, `{"specter_reference":"S-1","results":[{"nuclide_id":"`+uuid.NewString()+`","activity":4.5}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]any](t, rec)
	if created["created_by"] != "bench" {
		t.Fatalf("expected key name as actor, got %v", created["created_by"])
	}

	rec = s.do(t, http.MethodPut, path, `{"specter_reference":"S-2","results":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	got := decodeBody[map[string]any](t, rec)
	if got["specter_reference"] != "S-2" || len(got["results"].([]any)) != 0 {
		t.Fatalf("unexpected analysis: %v", got)
	}

	rec = s.do(t, http.MethodGet, path+"/closed", "")
	if rec.Code != http.StatusOK || decodeBody[map[string]any](t, rec)["closed"] != false {
		t.Fatalf("closed: unexpected %d %s", rec.Code, rec.Body.String())
	}
}

func TestPutRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		path string
		body string
	}{
		{"bad id", "/v1/analyses/not-a-uuid", `{}`},
		{"bad json", "/v1/analyses/" + uuid.NewString(), `{`},
		{"trailing tokens", "/v1/analyses/" + uuid.NewString(), `{} {}`},
		{"schema", "/v1/preparation-geometries/" + uuid.NewString(), `{"comment":"no name"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, tc.path, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
			}
		})
	}

	rec := s.do(t, http.MethodPut, "/v1/preparation-geometries/"+uuid.NewString(), `{"min_fill_height_mm":"x"}`)
	body := decodeBody[map[string]any](t, rec)
	if details, _ := body["details"].([]any); len(details) == 0 {
		t.Fatalf("schema violation should list details: %v", body)
	}
}

func TestAssignmentAndGeometryRoutes(t *testing.T) {
	s := newTestServer(t)
	assignment := "/v1/assignments/" + uuid.NewString()
	geometry := "/v1/preparation-geometries/" + uuid.NewString()

	if rec := s.do(t, http.MethodPut, assignment, `{"name":"A-1","sample_types":[{"sample_type_id":"`+uuid.NewString()+`"}]}`); rec.Code != http.StatusCreated {
		t.Fatalf("put assignment: %d %s", rec.Code, rec.Body.String())
	}
	rec := s.do(t, http.MethodGet, assignment, "")
	if rec.Code != http.StatusOK || len(decodeBody[map[string]any](t, rec)["sample_types"].([]any)) != 1 {
		t.Fatalf("get assignment: %d %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodPut, geometry, `{"name":"Petri 60"}`); rec.Code != http.StatusCreated {
		t.Fatalf("put geometry: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, geometry, "")
	if rec.Code != http.StatusOK || decodeBody[map[string]any](t, rec)["name"] != "Petri 60" {
		t.Fatalf("get geometry: %d %s", rec.Code, rec.Body.String())
	}
}

func TestListAudit(t *testing.T) {
	s := newTestServer(t)
	id := uuid.NewString()
	for _, ref := range []string{"S-1", "S-2", "S-3"} {
		if rec := s.do(t, http.MethodPut, "/v1/analyses/"+id, `{"specter_reference":"`+ref+`"}`); rec.Code >= 300 {
			t.Fatalf("put: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := s.do(t, http.MethodGet, "/v1/audit?kind=analysis&entity_id="+id+"&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", rec.Code, rec.Body.String())
	}
	page := decodeBody[auditPage](t, rec)
	if len(page.Items) != 2 || page.Items[0].Operation != "insert" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	rec = s.do(t, http.MethodGet, "/v1/audit?kind=analysis&entity_id="+id+"&after="+jsonInt(page.NextAfter), "")
	page = decodeBody[auditPage](t, rec)
	if len(page.Items) != 1 || page.Items[0].Operation != "update" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	for _, query := range []string{"kind=widget", "operation=upsert", "entity_id=x", "after=-1", "limit=abc"} {
		if rec := s.do(t, http.MethodGet, "/v1/audit?"+query, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHealthMetricsAndAccessLog(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	entry := s.hook.LastEntry()
	if entry == nil || entry.Data["path"] != "/metrics" || entry.Data["status"] != http.StatusOK {
		t.Fatalf("expected access log entry, got %+v", entry)
	}
}
