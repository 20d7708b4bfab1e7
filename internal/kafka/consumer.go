package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"telemon/internal/ingest"
	"telemon/internal/logger"
	"telemon/internal/metrics"
)

// PayloadProcessor ingests one raw telemetry payload.
type PayloadProcessor interface {
	ProcessPayload(ctx context.Context, source string, body []byte) (ingest.BatchResult, error)
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads telemetry payloads from a topic and feeds them to the
// ingestion pipeline. Offsets are committed only after a payload has been
// persisted or found undecodable.
type Consumer struct {
	reader     messageReader
	processor  PayloadProcessor
	topic      string
	maxRetries int
	backoff    time.Duration
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers   []string
	Topic     string
	GroupID   string
	Processor PayloadProcessor

	// MaxRetries bounds how often a payload is retried on storage failure
	// before it is skipped.
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewConsumer creates a consumer group reader for the telemetry topic.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, cfg), nil
}

func newConsumer(reader messageReader, cfg ConsumerConfig) *Consumer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Consumer{
		reader:     reader,
		processor:  cfg.Processor,
		topic:      cfg.Topic,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Str("topic", c.topic).Msg("kafka consumer started")
	defer log.Info().Msg("kafka consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to commit offset")
		}
	}
}

// handle processes one message, retrying storage failures. It never fails:
// a message that cannot be processed is logged and skipped.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	log := logger.WithComponent("kafka_consumer").With().
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		result, err := c.processor.ProcessPayload(ctx, "kafka", msg.Value)
		switch {
		case err == nil:
			metrics.KafkaMessagesConsumedTotal.WithLabelValues("accepted").Inc()
			if len(result.Rejected) > 0 {
				log.Warn().
					Int("accepted", len(result.Accepted)).
					Interface("rejected", result.Rejected).
					Msg("telemetry message partially rejected")
			}
			return
		case errors.Is(err, ingest.ErrInvalidPayload):
			metrics.KafkaMessagesConsumedTotal.WithLabelValues("invalid").Inc()
			log.Warn().Err(err).Msg("skipping undecodable telemetry message")
			return
		case attempt >= c.maxRetries || ctx.Err() != nil:
			metrics.KafkaMessagesConsumedTotal.WithLabelValues("failed").Inc()
			log.Error().Err(err).Int("attempts", attempt+1).Msg("dropping telemetry message")
			return
		}

		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying telemetry message")
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
