package consumer

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/friction/internal/config"
)

const defaultEventsTopic = "gosight.events.raw"

// MessageProcessor handles one decoded event envelope
type MessageProcessor interface {
	Process(ctx context.Context, event map[string]interface{}) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds the shared GoSight event stream into the engines
type KafkaConsumer struct {
	reader    messageReader
	topic     string
	group     string
	processor MessageProcessor
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) (*KafkaConsumer, error) {
	topic := cfg.Topics["events"]
	if topic == "" {
		topic = defaultEventsTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaConsumer{
		reader:    reader,
		topic:     topic,
		group:     cfg.ConsumerGroup,
		processor: processor,
	}, nil
}

// Start consumes until ctx is cancelled
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Kafka consumer stopped")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to fetch message")
				continue
			}

			var event map[string]interface{}
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Error().
					Err(err).
					Int64("offset", msg.Offset).
					Msg("Failed to parse message")
				// Still commit to avoid getting stuck
				c.commit(ctx, msg)
				continue
			}

			if err := c.processor.Process(ctx, event); err != nil {
				log.Warn().
					Err(err).
					Int64("offset", msg.Offset).
					Msg("Failed to process event")
			}

			c.commit(ctx, msg)
		}
	}
}

func (c *KafkaConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Failed to commit message")
	}
}

// Close closes the consumer
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
