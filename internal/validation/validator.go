package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosight/gosight/friction/internal/config"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrKeyFormat     = errors.New("invalid API key format")
)

const keyCacheTTL = 5 * time.Minute

// Validator resolves project keys and enforces per-project rate limits.
// PostgreSQL and Redis are both optional.
type Validator struct {
	db    *pgxpool.Pool
	redis *redis.Client

	staticKeys map[string]string
	rps        int
	burst      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewValidator(cfg *config.Config) (*Validator, error) {
	v := &Validator{
		staticKeys: cfg.Auth.StaticKeys,
		rps:        cfg.RateLimit.RequestsPerSecond,
		burst:      cfg.RateLimit.Burst,
		limiters:   make(map[string]*rate.Limiter),
	}

	// Connect to PostgreSQL
	if cfg.Postgres.DSN != "" {
		db, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		v.db = db
	}

	// Connect to Redis
	if cfg.Redis.Addr != "" {
		v.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if v.db == nil && len(v.staticKeys) == 0 {
		log.Warn().Msg("No API key source configured, every key will be rejected")
	}
	return v, nil
}

// ValidateAPIKey returns the project id owning apiKey
func (v *Validator) ValidateAPIKey(ctx context.Context, apiKey string) (string, error) {
	if projectID, ok := v.staticKeys[apiKey]; ok {
		return projectID, nil
	}
	if len(apiKey) < 12 {
		return "", ErrKeyFormat
	}

	// Check cache first
	cacheKey := "apikey:" + apiKey[:12]
	if v.redis != nil {
		projectID, err := v.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			return projectID, nil
		}
	}

	if v.db == nil {
		return "", ErrInvalidAPIKey
	}

	// Hash the key
	hash := sha256.Sum256([]byte(apiKey))
	keyHash := hex.EncodeToString(hash[:])

	var id string
	err := v.db.QueryRow(ctx, `
		SELECT project_id::text FROM api_keys
		WHERE key_hash = $1 AND is_active = true
		AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(&id)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Error().Err(err).Msg("API key lookup failed")
		}
		return "", ErrInvalidAPIKey
	}

	if v.redis != nil {
		v.redis.Set(ctx, cacheKey, id, keyCacheTTL)
	}

	// Update last used
	go func() {
		if _, err := v.db.Exec(context.Background(), `
			UPDATE api_keys
			SET last_used_at = NOW(), request_count = request_count + 1
			WHERE key_hash = $1
		`, keyHash); err != nil {
			log.Debug().Err(err).Msg("Failed to touch API key")
		}
	}()

	return id, nil
}

// CheckRateLimit reports whether projectID may send another request. Redis
// counts requests per second across instances; without Redis a token bucket
// per project is used. Errors allow the request.
func (v *Validator) CheckRateLimit(ctx context.Context, projectID string) bool {
	if v.rps <= 0 {
		return true
	}
	if v.redis == nil {
		return v.limiter(projectID).Allow()
	}

	key := "ratelimit:" + projectID
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return true // Allow on error
	}

	// Set expiry on first request
	if count == 1 {
		v.redis.Expire(ctx, key, time.Second)
	}

	return count <= int64(v.rps)
}

func (v *Validator) limiter(projectID string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.limiters[projectID]
	if !ok {
		burst := v.burst
		if burst <= 0 {
			burst = v.rps
		}
		l = rate.NewLimiter(rate.Limit(v.rps), burst)
		v.limiters[projectID] = l
	}
	return l
}

func (v *Validator) Close() {
	if v.db != nil {
		v.db.Close()
	}
	if v.redis != nil {
		v.redis.Close()
	}
}
