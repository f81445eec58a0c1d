package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/entity"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

// AggregateService loads and stores aggregates, each call in its own
// transaction.
type AggregateService struct {
	tx        ports.Transactor
	validator *PayloadValidator
	recorder  *entity.Recorder
	observer  entity.Observer
	now       func() time.Time
}

type AggregateOption func(*AggregateService)

// WithOutbox pairs every audit row with an outbox event.
func WithOutbox() AggregateOption {
	return func(s *AggregateService) {
		s.recorder = &entity.Recorder{Outbox: true}
	}
}

func WithObserver(o entity.Observer) AggregateOption {
	return func(s *AggregateService) {
		s.observer = o
	}
}

func WithClock(now func() time.Time) AggregateOption {
	return func(s *AggregateService) {
		s.now = now
	}
}

func NewAggregateService(tx ports.Transactor, validator *PayloadValidator, opts ...AggregateOption) *AggregateService {
	s := &AggregateService{
		tx:        tx,
		validator: validator,
		recorder:  &entity.Recorder{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AggregateService) scope(rows ports.RowStore, actor domain.ActorContext) *entity.Scope {
	sc := entity.NewScope(rows, actor)
	sc.Recorder = s.recorder
	sc.Observer = s.observer
	return sc
}

// Actor stamps an acting identity with the service clock.
func (s *AggregateService) Actor(name string, userID uuid.UUID) domain.ActorContext {
	return domain.NewActorContext(name, userID, s.now())
}

func (s *AggregateService) read(ctx context.Context, fn func(*entity.Scope) error) error {
	return s.tx.ReadTX(ctx, func(rows ports.RowStore) error {
		return fn(s.scope(rows, domain.ActorContext{}))
	})
}

func (s *AggregateService) write(ctx context.Context, actor domain.ActorContext, fn func(*entity.Scope) error) error {
	return s.tx.WriteTX(ctx, func(rows ports.RowStore) error {
		sc := s.scope(rows, actor)
		if err := sc.Validate(); err != nil {
			return err
		}
		return fn(sc)
	})
}

func (s *AggregateService) decode(kind domain.EntityKind, doc json.RawMessage, into any) error {
	if s.validator != nil {
		if err := s.validator.Validate(kind, doc); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(doc, into); err != nil {
		return fmt.Errorf("%w: decode %s document: %v", domain.ErrInvalidPrecondition, kind, err)
	}
	return nil
}

func (s *AggregateService) GetAnalysis(ctx context.Context, id uuid.UUID) (*entity.Analysis, error) {
	var a entity.Analysis
	if err := s.read(ctx, func(sc *entity.Scope) error { return a.LoadFromDB(ctx, sc, id) }); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AggregateService) AnalysisClosed(ctx context.Context, id uuid.UUID) (bool, error) {
	var closed bool
	err := s.read(ctx, func(sc *entity.Scope) error {
		a := entity.Analysis{ID: id}
		var err error
		closed, err = a.IsClosed(ctx, sc)
		return err
	})
	return closed, err
}

// PutAnalysis stores doc as the analysis with the given id. An existing
// analysis is merged with the document; a new one is inserted as given.
// created reports which of the two happened.
func (s *AggregateService) PutAnalysis(ctx context.Context, actor domain.ActorContext, id uuid.UUID, doc json.RawMessage) (*entity.Analysis, bool, error) {
	var incoming entity.Analysis
	if err := s.decode(domain.KindAnalysis, doc, &incoming); err != nil {
		return nil, false, err
	}

	var (
		result  entity.Analysis
		created bool
	)
	err := s.write(ctx, actor, func(sc *entity.Scope) error {
		exists, err := entity.AnalysisExists(ctx, sc, id)
		if err != nil {
			return err
		}
		if !exists {
			incoming.ID = id
			incoming.Prepare()
			result, created = incoming, true
			return result.StoreToDB(ctx, sc)
		}
		if err := result.LoadFromDB(ctx, sc, id); err != nil {
			return err
		}
		result.Apply(&incoming, actor)
		return result.StoreToDB(ctx, sc)
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

func (s *AggregateService) GetAssignment(ctx context.Context, id uuid.UUID) (*entity.Assignment, error) {
	var a entity.Assignment
	if err := s.read(ctx, func(sc *entity.Scope) error { return a.LoadFromDB(ctx, sc, id) }); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AggregateService) PutAssignment(ctx context.Context, actor domain.ActorContext, id uuid.UUID, doc json.RawMessage) (*entity.Assignment, bool, error) {
	var incoming entity.Assignment
	if err := s.decode(domain.KindAssignment, doc, &incoming); err != nil {
		return nil, false, err
	}

	var (
		result  entity.Assignment
		created bool
	)
	err := s.write(ctx, actor, func(sc *entity.Scope) error {
		err := result.LoadFromDB(ctx, sc, id)
		switch {
		case err == nil:
			result.Apply(&incoming, actor)
		case isNotFound(err):
			incoming.ID = id
			incoming.Prepare()
			result, created = incoming, true
		default:
			return err
		}
		return result.StoreToDB(ctx, sc)
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

func (s *AggregateService) GetPreparationGeometry(ctx context.Context, id uuid.UUID) (*entity.PreparationGeometry, error) {
	var g entity.PreparationGeometry
	if err := s.read(ctx, func(sc *entity.Scope) error { return g.LoadFromDB(ctx, sc, id) }); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *AggregateService) PutPreparationGeometry(ctx context.Context, actor domain.ActorContext, id uuid.UUID, doc json.RawMessage) (*entity.PreparationGeometry, bool, error) {
	var incoming entity.PreparationGeometry
	if err := s.decode(domain.KindPreparationGeometry, doc, &incoming); err != nil {
		return nil, false, err
	}

	var (
		result  entity.PreparationGeometry
		created bool
	)
	err := s.write(ctx, actor, func(sc *entity.Scope) error {
		err := result.LoadFromDB(ctx, sc, id)
		switch {
		case err == nil:
			result.Apply(&incoming, actor)
		case isNotFound(err):
			incoming.ID = id
			incoming.Prepare()
			result, created = incoming, true
		default:
			return err
		}
		return result.StoreToDB(ctx, sc)
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// StoreGeometries stores the given geometries in one transaction.
func (s *AggregateService) StoreGeometries(ctx context.Context, actor domain.ActorContext, geometries []entity.PreparationGeometry) error {
	return s.write(ctx, actor, func(sc *entity.Scope) error {
		for i := range geometries {
			g := &geometries[i]
			g.Prepare()
			var current entity.PreparationGeometry
			err := current.LoadFromDB(ctx, sc, g.ID)
			switch {
			case err == nil:
				current.Apply(g, actor)
				g = &current
			case !isNotFound(err):
				return err
			}
			if err := g.StoreToDB(ctx, sc); err != nil {
				return err
			}
		}
		return nil
	})
}
