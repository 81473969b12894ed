// Package events publishes outbox records to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/event"
)

// Writer is the subset of *kafka.Writer used by the relay.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer that keys messages by aggregate id, so all
// events of one order land on the same partition in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// RelayOptions tunes the relay loop.
type RelayOptions struct {
	Interval  time.Duration
	BatchSize int
	// FailureThreshold consecutive publish failures open the breaker for
	// OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func (o *RelayOptions) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
}

// Relay moves unpublished outbox events to the broker. Delivery is at least
// once: events are marked published only after the broker acknowledged them.
type Relay struct {
	repo   event.Repository
	writer Writer
	cb     *gobreaker.CircuitBreaker[struct{}]
	opts   RelayOptions
	lg     *zap.Logger
}

// NewRelay creates a Relay.
func NewRelay(repo event.Repository, writer Writer, lg *zap.Logger, opts RelayOptions) *Relay {
	opts.setDefaults()
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return &Relay{repo: repo, writer: writer, cb: cb, opts: opts, lg: lg}
}

// Run flushes the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ctx = zctx.Base(ctx, r.lg)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
				zctx.From(ctx).Error("Flush outbox", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch and returns how many events were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.repo.Unpublished(ctx, r.opts.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "load outbox")
	}
	if len(pending) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, len(pending))
	ids := make([]string, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
		msgs[i] = kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Time:  e.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(e.ID)},
				{Key: "event_type", Value: []byte(e.Type)},
			},
		}
	}

	if _, err := r.cb.Execute(func() (struct{}, error) {
		return struct{}{}, r.writer.WriteMessages(ctx, msgs...)
	}); err != nil {
		return 0, errors.Wrap(err, "publish")
	}
	if err := r.repo.MarkPublished(ctx, ids); err != nil {
		return 0, errors.Wrap(err, "mark published")
	}

	zctx.From(ctx).Debug("Outbox flushed", zap.Int("events", len(ids)))
	return len(ids), nil
}

// Close releases the underlying writer.
func (r *Relay) Close() error {
	return r.writer.Close()
}
