package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	GeoIP     GeoIPConfig     `yaml:"geoip"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
	Engine    EngineConfig    `yaml:"engine"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	HTTPPort          int           `yaml:"http_port"`
	ScorePushInterval time.Duration `yaml:"score_push_interval"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// AuthConfig maps static project keys to project IDs. Keys listed here are
// accepted without a database lookup.
type AuthConfig struct {
	StaticKeys map[string]string `yaml:"static_keys"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ReapInterval    time.Duration `yaml:"reap_interval"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl"`
	HintBuffer      int           `yaml:"hint_buffer"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// EngineConfig holds every threshold and weight of the friction engine.
type EngineConfig struct {
	TickRate        time.Duration   `yaml:"tick_rate"`
	DecayPerTick    float64         `yaml:"decay_per_tick"`
	MaxScore        float64         `yaml:"max_score"`
	HintThreshold   float64         `yaml:"hint_threshold"`
	HintRefresh     time.Duration   `yaml:"hint_refresh"`
	RescueThreshold float64         `yaml:"rescue_threshold"`
	InboxSize       int             `yaml:"inbox_size"`
	DeadClick       DeadClickConfig `yaml:"dead_click"`
	RageClick       RageClickConfig `yaml:"rage_click"`
	Scrubbing       ScrubbingConfig `yaml:"scrubbing"`
	Scroll          ScrollConfig    `yaml:"scroll"`
	Hints           HintsConfig     `yaml:"hints"`
}

type DeadClickConfig struct {
	Weight float64 `yaml:"weight"`
}

type RageClickConfig struct {
	Weight    float64       `yaml:"weight"`
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

type ScrubbingConfig struct {
	Weight            float64       `yaml:"weight"`
	Window            time.Duration `yaml:"window"`
	MinSamples        int           `yaml:"min_samples"`
	MinPathPx         float64       `yaml:"min_path_px"`
	MaxDisplacementPx float64       `yaml:"max_displacement_px"`
	CompactAbove      int           `yaml:"compact_above"`
	CompactEvery      int           `yaml:"compact_every"`
}

type ScrollConfig struct {
	Weight float64 `yaml:"weight"`
}

type HintsConfig struct {
	RadiusPx float64       `yaml:"radius_px"`
	Cycle    time.Duration `yaml:"cycle"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8090
	}
	if cfg.Server.ScorePushInterval == 0 {
		cfg.Server.ScorePushInterval = 500 * time.Millisecond
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	SetSessionDefaults(&cfg.Session)
	SetEngineDefaults(&cfg.Engine)

	return &cfg, nil
}

func SetSessionDefaults(s *SessionConfig) {
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 30 * time.Minute
	}
	if s.ReapInterval == 0 {
		s.ReapInterval = time.Minute
	}
	if s.PublishInterval == 0 {
		s.PublishInterval = time.Second
	}
	if s.SnapshotTTL == 0 {
		s.SnapshotTTL = 10 * time.Second
	}
	if s.HintBuffer == 0 {
		s.HintBuffer = 64
	}
}

// SetEngineDefaults fills every zero field with the stock engine tuning.
func SetEngineDefaults(e *EngineConfig) {
	if e.TickRate == 0 {
		e.TickRate = 100 * time.Millisecond
	}
	if e.DecayPerTick == 0 {
		e.DecayPerTick = 0.1
	}
	if e.MaxScore == 0 {
		e.MaxScore = 100
	}
	if e.HintThreshold == 0 {
		e.HintThreshold = 50
	}
	if e.HintRefresh == 0 {
		e.HintRefresh = 100 * time.Millisecond
	}
	if e.RescueThreshold == 0 {
		e.RescueThreshold = 80
	}
	if e.InboxSize == 0 {
		e.InboxSize = 256
	}

	if e.DeadClick.Weight == 0 {
		e.DeadClick.Weight = 20
	}

	if e.RageClick.Weight == 0 {
		e.RageClick.Weight = 40
	}
	if e.RageClick.Threshold == 0 {
		e.RageClick.Threshold = 3
	}
	if e.RageClick.Window == 0 {
		e.RageClick.Window = 1500 * time.Millisecond
	}

	if e.Scrubbing.Weight == 0 {
		e.Scrubbing.Weight = 10
	}
	if e.Scrubbing.Window == 0 {
		e.Scrubbing.Window = 500 * time.Millisecond
	}
	if e.Scrubbing.MinSamples == 0 {
		e.Scrubbing.MinSamples = 10
	}
	if e.Scrubbing.MinPathPx == 0 {
		e.Scrubbing.MinPathPx = 800
	}
	if e.Scrubbing.MaxDisplacementPx == 0 {
		e.Scrubbing.MaxDisplacementPx = 150
	}
	if e.Scrubbing.CompactAbove == 0 {
		e.Scrubbing.CompactAbove = 50
	}
	if e.Scrubbing.CompactEvery == 0 {
		e.Scrubbing.CompactEvery = 10
	}

	if e.Scroll.Weight == 0 {
		e.Scroll.Weight = 1
	}

	if e.Hints.RadiusPx == 0 {
		e.Hints.RadiusPx = 300
	}
	if e.Hints.Cycle == 0 {
		e.Hints.Cycle = 2 * time.Second
	}
}

// DefaultEngine returns the stock engine tuning.
func DefaultEngine() EngineConfig {
	var e EngineConfig
	SetEngineDefaults(&e)
	return e
}

// DefaultSession returns the stock session settings.
func DefaultSession() SessionConfig {
	var s SessionConfig
	SetSessionDefaults(&s)
	return s
}
