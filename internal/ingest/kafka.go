package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"mandi-alerts/internal/metrics"
)

// KafkaConfig describes the tick topic consumed by the Kafka adapter.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// KafkaAdapter consumes JSON ticks from a Kafka topic and submits them to
// the engine. Malformed messages are logged and skipped, never fatal.
type KafkaAdapter struct {
	reader    *kafka.Reader
	submitter Submitter
	logger    zerolog.Logger
}

// NewKafkaAdapter wires a consumer group reader for the tick topic.
func NewKafkaAdapter(cfg KafkaConfig, submitter Submitter, logger zerolog.Logger) *KafkaAdapter {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})

	return &KafkaAdapter{
		reader:    reader,
		submitter: submitter,
		logger:    logger.With().Str("component", "kafka_ingest").Logger(),
	}
}

// Run consumes until ctx is cancelled, then closes the reader.
func (a *KafkaAdapter) Run(ctx context.Context) error {
	defer func() {
		if err := a.reader.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to close kafka reader")
		}
	}()

	a.logger.Info().Str("topic", a.reader.Config().Topic).Msg("consuming tick stream")

	for {
		msg, err := a.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}

		var tick Tick
		if err := json.Unmarshal(msg.Value, &tick); err != nil {
			a.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping undecodable tick")
			continue
		}

		dp, err := ParseTick(tick)
		if err != nil {
			a.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping malformed tick")
			continue
		}

		metrics.DataPointsTotal.WithLabelValues(string(dp.SubjectKind), "kafka").Inc()
		if err := a.submitter.Submit(ctx, dp); err != nil {
			a.logger.Error().Err(err).Str("subject", dp.SubjectKey).Msg("evaluation pass failed")
		}
	}
}

var _ Adapter = (*KafkaAdapter)(nil)
