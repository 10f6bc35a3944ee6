// Package kafka wraps the franz-go client behind the small producer surface
// this service needs. Events are fire-and-forget from the caller's view;
// delivery failures are logged, never propagated into decision paths.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes JSON events to Kafka topics.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithLogger sets a logger for delivery diagnostics.
func WithLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) { p.logger = logger }
}

// NewProducer connects to the given brokers. Returns nil if no brokers are
// configured (Kafka disabled).
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p := &Producer{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureTopic creates the topic if it does not exist yet. Safe to call on
// every startup.
func (p *Producer) EnsureTopic(ctx context.Context, topic string, partitions int32) error {
	adm := kadm.NewClient(p.client)
	_, err := adm.CreateTopic(ctx, partitions, 1, nil, topic)
	if err != nil {
		if res, lookupErr := adm.ListTopics(ctx, topic); lookupErr == nil && res.Has(topic) {
			return nil
		}
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}

// Publish sends one keyed record and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, topic string, key string, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// PublishAsync sends one keyed record without blocking the caller; delivery
// failures are logged.
func (p *Producer) PublishAsync(ctx context.Context, topic string, key string, value []byte) {
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.ErrorContext(ctx, "kafka publish failed",
				"topic", topic,
				"key", key,
				"error", err,
			)
		}
	})
}

// Close flushes outstanding records and closes the client.
func (p *Producer) Close() {
	if p == nil {
		return
	}
	p.client.Close()
}
