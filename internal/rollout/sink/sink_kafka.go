package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"pqshield/internal/rollout/models"
)

// DefaultTopic is the Kafka topic exposure tuples are published to.
const DefaultTopic = "pqshield.experiment.exposures"

// KafkaSink publishes exposures to Kafka. Records are produced
// asynchronously, keyed by user so one user's observations stay ordered
// within a partition; delivery failures are logged, not returned, because
// the request path must not block on the metrics pipeline.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// KafkaOption configures a KafkaSink.
type KafkaOption func(*KafkaSink)

// WithTopic overrides the destination topic.
func WithTopic(topic string) KafkaOption {
	return func(s *KafkaSink) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) KafkaOption {
	return func(s *KafkaSink) {
		s.logger = logger
	}
}

// NewKafka creates a sink producing to the given brokers.
func NewKafka(brokers []string, opts ...KafkaOption) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	s := &KafkaSink{client: client, topic: DefaultTopic}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record serializes the exposure and produces it asynchronously.
func (s *KafkaSink) Record(ctx context.Context, exposure models.Exposure) error {
	value, err := json.Marshal(exposure)
	if err != nil {
		return fmt.Errorf("marshal exposure: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(exposure.UserID),
		Value: value,
	}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && s.logger != nil {
			s.logger.Warn("failed to publish exposure",
				"topic", s.topic,
				"experiment_id", exposure.ExperimentID,
				"error", err,
			)
		}
	})
	return nil
}

// Flush drains pending records; call on shutdown.
func (s *KafkaSink) Flush(ctx context.Context) error {
	return s.client.Flush(ctx)
}

// Close flushes and releases the Kafka client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
