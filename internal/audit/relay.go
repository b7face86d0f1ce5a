package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes outbox payloads to the audit topic. *kgo.Client
// satisfies it; tests supply a fake.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// NewKafkaProducer builds the franz-go client used by the relay.
func NewKafkaProducer(brokers []string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1 << 20),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Relay drains the audit outbox to Kafka. It polls on a fixed interval,
// publishes each pending row keyed by entity so per-entity ordering holds,
// and deletes rows only after the broker acknowledges them. Publish is
// at-least-once: a crash between produce and delete re-sends the batch.
type Relay struct {
	outbox   OutboxStore
	producer Producer
	topic    string
	interval time.Duration
	batch    int
	log      *slog.Logger
}

const defaultRelayBatch = 100

func NewRelay(outbox OutboxStore, producer Producer, topic string, interval time.Duration, log *slog.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: interval,
		batch:    defaultRelayBatch,
		log:      log.With("component", "audit-relay"),
	}
}

// Run polls until the context is cancelled. Publish failures are logged and
// retried on the next tick rather than terminating the relay.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.log.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// Drain publishes one batch of pending outbox rows.
func (r *Relay) Drain(ctx context.Context) error {
	rows, err := r.outbox.NextBatch(ctx, r.batch)
	if err != nil {
		return fmt.Errorf("fetch outbox batch: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(rows))
	for i, row := range rows {
		records[i] = &kgo.Record{
			Topic: r.topic,
			Key:   []byte(row.Key),
			Value: row.Payload,
		}
	}
	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("publish outbox batch: %w", err)
	}

	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	if err := r.outbox.MarkPublished(ctx, ids); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	r.log.DebugContext(ctx, "published audit batch", "count", len(rows))
	return nil
}
