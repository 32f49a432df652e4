package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/session"
)

// ErrNoSnapshot is returned when a session has no live score
var ErrNoSnapshot = errors.New("no stress snapshot")

// Snapshot is the live stress state read by out-of-process consumers
type Snapshot struct {
	SessionID  string              `json:"session_id"`
	ProjectID  string              `json:"project_id"`
	Score      float64             `json:"score"`
	Rescue     bool                `json:"rescue"`
	LastSignal friction.SignalKind `json:"last_signal,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// ScoreStore keeps the latest score of every session in Redis. Keys expire
// quickly: this is a live value, not history.
type ScoreStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewScoreStore connects to Redis. It returns nil when no address is
// configured; a nil store is a no-op.
func NewScoreStore(redisCfg config.RedisConfig, ttl time.Duration) *ScoreStore {
	if redisCfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	return &ScoreStore{redis: rdb, ttl: ttl}
}

func key(sessionID string) string {
	return "stress:" + sessionID
}

// Publish writes the view's snapshot hash and announces it on the session
// channel.
func (s *ScoreStore) Publish(ctx context.Context, v session.View) error {
	if s == nil || s.redis == nil {
		return nil
	}

	snap := FromView(v)
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	k := key(v.SessionID)

	// Use Redis pipeline for efficiency
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, k, encode(snap))
	pipe.Expire(ctx, k, s.ttl)
	pipe.Publish(ctx, k, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", v.SessionID, err)
	}
	return nil
}

// Read returns the latest snapshot of a session
func (s *ScoreStore) Read(ctx context.Context, sessionID string) (Snapshot, error) {
	if s == nil || s.redis == nil {
		return Snapshot{}, ErrNoSnapshot
	}

	data, err := s.redis.HGetAll(ctx, key(sessionID)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	if len(data) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return decode(sessionID, data), nil
}

// Subscribe streams snapshots published for a session until ctx is done
func (s *ScoreStore) Subscribe(ctx context.Context, sessionID string) (<-chan Snapshot, error) {
	if s == nil || s.redis == nil {
		return nil, ErrNoSnapshot
	}

	sub := s.redis.Subscribe(ctx, key(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var snap Snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *ScoreStore) Close() error {
	if s == nil || s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// FromView extracts the consumer snapshot of a session view
func FromView(v session.View) Snapshot {
	return Snapshot{
		SessionID:  v.SessionID,
		ProjectID:  v.ProjectID,
		Score:      v.Score,
		Rescue:     v.Rescue,
		LastSignal: v.LastSignal,
		UpdatedAt:  v.UpdatedAt,
	}
}

func encode(s Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"project_id":  s.ProjectID,
		"score":       strconv.FormatFloat(s.Score, 'f', -1, 64),
		"rescue":      strconv.FormatBool(s.Rescue),
		"last_signal": string(s.LastSignal),
		"updated_at":  s.UpdatedAt.UnixMilli(),
	}
}

func decode(sessionID string, data map[string]string) Snapshot {
	s := Snapshot{
		SessionID:  sessionID,
		ProjectID:  data["project_id"],
		LastSignal: friction.SignalKind(data["last_signal"]),
	}
	if v, err := strconv.ParseFloat(data["score"], 64); err == nil {
		s.Score = v
	}
	if v, err := strconv.ParseBool(data["rescue"]); err == nil {
		s.Rescue = v
	}
	if v, err := strconv.ParseInt(data["updated_at"], 10, 64); err == nil {
		s.UpdatedAt = time.UnixMilli(v)
	}
	return s
}
