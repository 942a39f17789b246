package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"orderpay/internal/database"
)

const instrumentationName = "orderpay/internal/outbox"

var ErrNoRoute = errors.New("no routing key for event type")

// Publisher is the broker side of the dispatcher. Implementations must return
// every delivery failure so the row stays pending.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, messageID, correlationID string, headers map[string]any) error
}

type Option func(*Dispatcher)

func WithPollInterval(d time.Duration) Option {
	return func(p *Dispatcher) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Dispatcher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Dispatcher) {
		p.meterProvider = mp
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Dispatcher) {
		p.now = now
	}
}

// Dispatcher polls the outbox table and pushes unpublished events to the
// broker. Delivery is at-least-once: a crash between publish and commit
// republishes the batch, and consumers deduplicate by message id.
type Dispatcher struct {
	tx        database.Transactor
	repo      Repository
	publisher Publisher
	routes    map[string]string
	logger    *zap.Logger

	pollInterval  time.Duration
	batchSize     int
	now           func() time.Time
	meterProvider metric.MeterProvider

	publishCounter metric.Int64Counter
	backlog        atomic.Int64
}

func NewDispatcher(
	tx database.Transactor,
	repo Repository,
	publisher Publisher,
	routes map[string]string,
	logger *zap.Logger,
	opts ...Option,
) (*Dispatcher, error) {
	d := &Dispatcher{
		tx:            tx,
		repo:          repo,
		publisher:     publisher,
		routes:        routes,
		logger:        logger,
		pollInterval:  time.Second,
		batchSize:     50,
		now:           func() time.Time { return time.Now().UTC() },
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(d)
	}

	meter := d.meterProvider.Meter(instrumentationName)
	var err error
	d.publishCounter, err = meter.Int64Counter(
		"outbox.publish.count",
		metric.WithDescription("Outbox events handed to the broker"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox.publish.count counter: %w", err)
	}
	_, err = meter.Int64ObservableGauge(
		"outbox.backlog",
		metric.WithDescription("Outbox events still waiting for delivery"),
		metric.WithUnit("{events}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(d.backlog.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox.backlog gauge: %w", err)
	}
	return d, nil
}

// Run polls until ctx is cancelled. Pass failures are logged and retried on
// the next tick; they never stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting outbox dispatcher",
		zap.Duration("poll_interval", d.pollInterval),
		zap.Int("batch_size", d.batchSize))

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox dispatcher stopped")
			return nil
		case <-ticker.C:
			if _, _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("Outbox dispatch pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce dispatches one batch inside a single local transaction and reports
// how many events were published and how many failed.
func (d *Dispatcher) RunOnce(ctx context.Context) (published, failed int, err error) {
	err = d.tx.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		published, failed = 0, 0

		events, err := d.repo.FetchPending(ctx, q, d.batchSize)
		if err != nil {
			return err
		}

		for i := range events {
			e := &events[i]
			if pubErr := d.publish(ctx, e); pubErr != nil {
				failed++
				d.logger.Warn("Failed to publish outbox event, will retry",
					zap.String("event_id", e.ID),
					zap.String("event_type", e.EventType),
					zap.Int("attempts", e.Attempts+1),
					zap.Error(pubErr))
				if err := d.repo.MarkFailed(ctx, q, e.ID, pubErr); err != nil {
					return err
				}
				d.record(ctx, e.EventType, "error")
				continue
			}

			if err := d.repo.MarkPublished(ctx, q, e.ID, d.now()); err != nil {
				return err
			}
			published++
			d.record(ctx, e.EventType, "success")
			d.logger.Debug("Outbox event published",
				zap.String("event_id", e.ID),
				zap.String("aggregate_id", e.AggregateID))
		}

		backlog, err := d.repo.CountPending(ctx, q)
		if err != nil {
			return err
		}
		// rows marked published in this tx are already excluded from the count
		d.backlog.Store(backlog)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if published > 0 || failed > 0 {
		d.logger.Info("Outbox batch dispatched", zap.Int("published", published), zap.Int("failed", failed))
	}
	return published, failed, nil
}

func (d *Dispatcher) publish(ctx context.Context, e *Event) error {
	routingKey, ok := d.routes[e.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, e.EventType)
	}
	headers := map[string]any{"event_type": e.EventType}
	return d.publisher.Publish(ctx, routingKey, e.Payload, e.ID, e.AggregateID, headers)
}

func (d *Dispatcher) record(ctx context.Context, eventType, status string) {
	d.publishCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("status", status),
	))
}

// Backlog returns the pending count observed by the last successful pass.
func (d *Dispatcher) Backlog() int64 {
	return d.backlog.Load()
}
