package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/adapters/events"
	"github.com/atvirokodosprendimai/lims/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/lims/internal/adapters/metrics"
	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb"
	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb/gormdb"
	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/atvirokodosprendimai/lims/internal/core/usecase"
	"github.com/atvirokodosprendimai/lims/migrations"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/logger"
)

// Runtime holds the opened database and the services built on it.
type Runtime struct {
	Config     Config
	Log        logrus.FieldLogger
	DB         *gormdb.DB
	Metrics    *metrics.Collector
	Aggregates *usecase.AggregateService
	Audit      *usecase.AuditService
	Auth       *usecase.AuthService
	References ports.ReferenceRepository
	Outbox     ports.OutboxRepository
}

func Open(cfg Config, log logrus.FieldLogger) (*Runtime, error) {
	dialect, err := gormdb.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	opts := gormdb.Options{Log: log}
	if cfg.SQLLog {
		opts.LogLevel = logger.Info
	}
	db, err := gormdb.Open(dialect, cfg.DSN, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	catalog, err := sqldb.LoadCatalog()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	validator, err := usecase.NewPayloadValidator()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	collector := metrics.NewCollector()
	aggOpts := []usecase.AggregateOption{usecase.WithObserver(collector)}
	if cfg.Outbox {
		aggOpts = append(aggOpts, usecase.WithOutbox())
	}

	return &Runtime{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Metrics:    collector,
		Aggregates: usecase.NewAggregateService(sqldb.NewTransactor(db, catalog), validator, aggOpts...),
		Audit:      usecase.NewAuditService(sqldb.NewAuditTrailRepository(db)),
		Auth:       usecase.NewAuthService(sqldb.NewAPIKeyRepository(db)),
		References: sqldb.NewReferenceRepository(db),
		Outbox:     sqldb.NewOutboxRepository(db),
	}, nil
}

func (r *Runtime) Migrate(ctx context.Context) error {
	wdb, err := r.DB.WriteSQLDB()
	if err != nil {
		return fmt.Errorf("resolve writer sql db: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return migrations.Up(ctx, wdb, string(r.DB.Dialect))
}

func (r *Runtime) Close() error {
	return r.DB.Close()
}

// Publisher returns the webhook publisher when a URL is configured and the
// log publisher otherwise.
func (r *Runtime) Publisher() ports.EventPublisher {
	if r.Config.WebhookURL != "" {
		return events.NewWebhookPublisher(r.Config.WebhookURL, r.Config.WebhookSecret, r.Config.WebhookTimeout.Duration)
	}
	return events.NewLogPublisher(r.Log)
}

func (r *Runtime) bootstrapKey(ctx context.Context) error {
	if r.Config.BootstrapAPIKey == "" {
		return nil
	}
	userID := uuid.Nil
	if r.Config.BootstrapUserID != "" {
		parsed, err := uuid.Parse(r.Config.BootstrapUserID)
		if err != nil {
			return fmt.Errorf("bootstrap user id: %w", err)
		}
		userID = parsed
	}
	name := r.Config.BootstrapKeyName
	if name == "" {
		name = "bootstrap"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqldb.NewAPIKeyRepository(r.DB).Upsert(ctx, domain.APIKey{
		TokenHash: usecase.HashToken(r.Config.BootstrapAPIKey),
		Name:      name,
		UserID:    userID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewServer opens the database, migrates it, starts the outbox dispatcher
// and returns the HTTP server. The closer stops the dispatcher and closes
// the database.
func NewServer(ctx context.Context, cfg Config, log logrus.FieldLogger) (*http.Server, io.Closer, error) {
	rt, err := Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := rt.Migrate(ctx); err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	if err := rt.bootstrapKey(ctx); err != nil {
		_ = rt.Close()
		return nil, nil, fmt.Errorf("bootstrap api key: %w", err)
	}

	closers := []io.Closer{}
	if cfg.Outbox {
		dispatcher := usecase.NewOutboxDispatcher(rt.Outbox, rt.Publisher(), cfg.DispatchInterval.Duration, cfg.DispatchBatch,
			usecase.WithDispatchLogger(log.WithField("component", "outbox")),
			usecase.WithDispatchObserver(rt.Metrics),
			usecase.WithMaxRetry(cfg.DispatchRetries),
		)
		dispatcher.Start(context.Background())
		closers = append(closers, dispatcher)
	}
	closers = append(closers, rt)

	handler := httpapi.NewHandler(rt.Aggregates, rt.Audit, rt.Auth,
		httpapi.WithLogger(log.WithField("component", "http")),
		httpapi.WithMetrics(rt.Metrics.Handler()),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, resourceCloser{closers: closers}, nil
}
