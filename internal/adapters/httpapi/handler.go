package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	apiKeyCtxKey    ctxKey = "api_key"
	maxJSONBodySize        = 1 << 20
)

type Handler struct {
	aggregates *usecase.AggregateService
	audit      *usecase.AuditService
	auth       *usecase.AuthService
	metrics    http.Handler
	log        logrus.FieldLogger
}

type Option func(*Handler)

func WithMetrics(h http.Handler) Option {
	return func(hd *Handler) {
		hd.metrics = h
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(hd *Handler) {
		hd.log = log
	}
}

func NewHandler(aggregates *usecase.AggregateService, audit *usecase.AuditService, auth *usecase.AuthService, opts ...Option) *Handler {
	h := &Handler{aggregates: aggregates, audit: audit, auth: auth, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(h.requireAPIKey)

		v1.Get("/analyses/{id}", h.getAnalysis)
		v1.Put("/analyses/{id}", h.putAnalysis)
		v1.Get("/analyses/{id}/closed", h.analysisClosed)

		v1.Get("/assignments/{id}", h.getAssignment)
		v1.Put("/assignments/{id}", h.putAssignment)

		v1.Get("/preparation-geometries/{id}", h.getGeometry)
		v1.Put("/preparation-geometries/{id}", h.putGeometry)

		v1.Get("/audit", h.listAudit)
	})

	return r
}

func (h *Handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.aggregates.GetAnalysis(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) putAnalysis(w http.ResponseWriter, r *http.Request) {
	id, doc, ok := h.putRequest(w, r)
	if !ok {
		return
	}
	a, created, err := h.aggregates.PutAnalysis(r.Context(), h.actor(r), id, doc)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, putStatus(created), a)
}

func (h *Handler) analysisClosed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	closed, err := h.aggregates.AnalysisClosed(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "closed": closed})
}

func (h *Handler) getAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.aggregates.GetAssignment(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) putAssignment(w http.ResponseWriter, r *http.Request) {
	id, doc, ok := h.putRequest(w, r)
	if !ok {
		return
	}
	a, created, err := h.aggregates.PutAssignment(r.Context(), h.actor(r), id, doc)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, putStatus(created), a)
}

func (h *Handler) getGeometry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	g, err := h.aggregates.GetPreparationGeometry(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) putGeometry(w http.ResponseWriter, r *http.Request) {
	id, doc, ok := h.putRequest(w, r)
	if !ok {
		return
	}
	g, created, err := h.aggregates.PutPreparationGeometry(r.Context(), h.actor(r), id, doc)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, putStatus(created), g)
}

type auditPage struct {
	Items     []domain.AuditRecord `json:"items"`
	NextAfter int64                `json:"next_after"`
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		EntityKind: domain.EntityKind(q.Get("kind")),
		EntityID:   q.Get("entity_id"),
		Operation:  domain.AuditOperation(q.Get("operation")),
	}
	var ok bool
	if filter.AfterSeq, ok = queryInt(w, r, "after"); !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	filter.Limit = int(limit)

	records, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	page := auditPage{Items: records, NextAfter: filter.AfterSeq}
	if page.Items == nil {
		page.Items = []domain.AuditRecord{}
	}
	if n := len(records); n > 0 {
		page.NextAfter = records[n-1].Seq
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// putRequest reads the path id and the JSON document of a PUT.
func (h *Handler) putRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, json.RawMessage, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return uuid.Nil, nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	var doc json.RawMessage
	if err := decoder.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return uuid.Nil, nil, false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return uuid.Nil, nil, false
	}
	return id, doc, true
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			h.handleDomainError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyCtxKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor stamps the authenticated key as the acting identity of a write.
func (h *Handler) actor(r *http.Request) domain.ActorContext {
	key, _ := r.Context().Value(apiKeyCtxKey).(domain.APIKey)
	name := key.Name
	if name == "" {
		name = "api"
	}
	return h.aggregates.Actor(name, key.UserID)
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("http request")
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be integer")
		return 0, false
	}
	return n, true
}

func putStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logrus.WithError(err).Error("encode json response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		logrus.WithError(err).Debug("write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *domain.ErrSchemaViolation
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "schema validation failed", "details": violation.Errors})
	case errors.Is(err, domain.ErrInvalidPrecondition), errors.Is(err, domain.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}
