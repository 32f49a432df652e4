package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/session"
)

const defaultRescueTopic = "gosight.friction.rescue"

// Notification tells UI surfaces that Rescue Mode was offered or withdrawn
type Notification struct {
	SessionID string    `json:"session_id"`
	ProjectID string    `json:"project_id"`
	Kind      string    `json:"kind"`
	Score     float64   `json:"score"`
	At        time.Time `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier publishes rescue transitions to Kafka, one message per crossing
type Notifier struct {
	writer messageWriter
}

// NewNotifier returns nil when no brokers are configured; a nil notifier
// drops notifications.
func NewNotifier(cfg config.KafkaConfig) *Notifier {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	topic := cfg.Topics["rescue"]
	if topic == "" {
		topic = defaultRescueTopic
	}

	return &Notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: time.Millisecond * 100,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Error().Err(err).Int("count", len(messages)).Msg("Failed to write rescue notifications")
				}
			},
		},
	}
}

func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if n == nil {
		return nil
	}
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}

	// Keyed by session so transitions of one session stay ordered
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(note.SessionID),
		Value: data,
	})
}

// OnRescue adapts the notifier to session rescue events
func (n *Notifier) OnRescue(ev session.RescueEvent) {
	err := n.Notify(context.Background(), Notification{
		SessionID: ev.SessionID,
		ProjectID: ev.ProjectID,
		Kind:      ev.Transition.String(),
		Score:     ev.Score,
		At:        ev.At,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", ev.SessionID).Msg("Failed to send rescue notification")
	}
}

func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.writer.Close()
}
