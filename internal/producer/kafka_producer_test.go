package producer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/rescue"
	"github.com/gosight/gosight/friction/internal/session"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestOnRescueWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	n := &Notifier{writer: w}
	at := time.UnixMilli(1_709_285_400_000).UTC()

	n.OnRescue(session.RescueEvent{
		SessionID:  "s1",
		ProjectID:  "p1",
		Transition: rescue.Offered,
		Score:      84.5,
		At:         at,
	})

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "s1", string(w.msgs[0].Key))

	var note Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &note))
	assert.Equal(t, Notification{
		SessionID: "s1",
		ProjectID: "p1",
		Kind:      "rescue_offered",
		Score:     84.5,
		At:        at,
	}, note)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestNilNotifier(t *testing.T) {
	n := NewNotifier(config.KafkaConfig{})
	require.Nil(t, n)
	assert.NoError(t, n.Notify(context.Background(), Notification{SessionID: "s1"}))
	assert.NotPanics(t, func() { n.OnRescue(session.RescueEvent{SessionID: "s1"}) })
	assert.NoError(t, n.Close())
}
