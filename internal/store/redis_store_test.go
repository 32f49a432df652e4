package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/session"
)

func TestEncodeDecode(t *testing.T) {
	snap := Snapshot{
		SessionID:  "s1",
		ProjectID:  "p1",
		Score:      83.4,
		Rescue:     true,
		LastSignal: friction.SignalRageClick,
		UpdatedAt:  time.UnixMilli(1_709_285_400_123),
	}

	fields := encode(snap)
	raw := make(map[string]string, len(fields))
	for k, v := range fields {
		raw[k] = fmt.Sprint(v)
	}

	got := decode("s1", raw)
	assert.Equal(t, snap.Score, got.Score)
	assert.True(t, got.Rescue)
	assert.Equal(t, friction.SignalRageClick, got.LastSignal)
	assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, "p1", got.ProjectID)
}

func TestDecodeToleratesMissingFields(t *testing.T) {
	got := decode("s1", map[string]string{"score": "garbage"})
	assert.Equal(t, Snapshot{SessionID: "s1"}, got)
}

func TestFromView(t *testing.T) {
	v := session.View{
		SessionID: "s1",
		ProjectID: "p1",
		Score:     12,
		Cursor:    &friction.Point{X: 1, Y: 2},
	}
	assert.Equal(t, Snapshot{SessionID: "s1", ProjectID: "p1", Score: 12}, FromView(v))
}

func TestNilStoreIsNoop(t *testing.T) {
	s := NewScoreStore(config.RedisConfig{}, time.Second)
	require.Nil(t, s)

	ctx := context.Background()
	assert.NoError(t, s.Publish(ctx, session.View{SessionID: "s1"}))
	_, err := s.Read(ctx, "s1")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = s.Subscribe(ctx, "s1")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.NoError(t, s.Close())
}
