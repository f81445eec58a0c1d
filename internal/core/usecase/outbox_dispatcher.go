package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/sirupsen/logrus"
)

const (
	DispatchSucceeded = "dispatched"
	DispatchFailed    = "failed"
	DispatchDead      = "dead"
)

// DispatchObserver is told the outcome of every outbox delivery attempt.
type DispatchObserver interface {
	ObserveDispatch(outcome string)
}

// OutboxDispatcher delivers pending audit events to a publisher. Failed
// deliveries are retried with backoff until the retry budget is spent.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	codec     *EventCodec
	log       logrus.FieldLogger
	observer  DispatchObserver
	now       func() time.Time
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
}

type OutboxDispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64
}

type DispatcherOption func(*OutboxDispatcher)

func WithDispatchLogger(log logrus.FieldLogger) DispatcherOption {
	return func(d *OutboxDispatcher) {
		d.log = log
	}
}

func WithDispatchObserver(o DispatchObserver) DispatcherOption {
	return func(d *OutboxDispatcher) {
		d.observer = o
	}
}

func WithDispatchCodec(c *EventCodec) DispatcherOption {
	return func(d *OutboxDispatcher) {
		d.codec = c
	}
}

func WithMaxRetry(n int) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if n > 0 {
			d.maxRetry = n
		}
	}
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int, opts ...DispatcherOption) *OutboxDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	d := &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		codec:     NewEventCodec(),
		log:       logrus.StandardLogger(),
		now:       func() time.Time { return time.Now().UTC() },
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  5,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Error("outbox dispatch batch failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *OutboxDispatcher) dispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		envelope, err := d.codec.Decode(event.PayloadJSON)
		if err != nil {
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return err
		}
		d.dispatchSuccessTotal.Add(1)
		d.observe(DispatchSucceeded)
	}

	return nil
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	entry := d.log.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"topic":    event.Topic,
		"attempts": attempts,
	})
	if attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return fmt.Errorf("mark outbox event %d dead: %w", event.ID, err)
		}
		entry.WithField("error", errMsg).Warn("outbox event dead-lettered")
		d.dispatchDeadTotal.Add(1)
		d.observe(DispatchDead)
		return nil
	}

	next := d.now().Add(backoffDuration(attempts))
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg); err != nil {
		return fmt.Errorf("mark outbox event %d failed: %w", event.ID, err)
	}
	entry.WithField("error", errMsg).WithField("next_attempt_at", next).Info("outbox delivery failed, retry scheduled")
	d.dispatchFailureTotal.Add(1)
	d.observe(DispatchFailed)
	return nil
}

func (d *OutboxDispatcher) observe(outcome string) {
	if d.observer != nil {
		d.observer.ObserveDispatch(outcome)
	}
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
