// Package session owns the per-tab friction engines of the service. Each
// session pairs an engine with the document mirror it classifies against and
// the bus it listens on.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/metrics"
	"github.com/gosight/gosight/friction/internal/page"
	"github.com/gosight/gosight/friction/internal/rescue"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrProjectMismatch = errors.New("session belongs to another project")
	ErrManagerClosed   = errors.New("session manager closed")
)

// Publisher receives session views on every publish interval
type Publisher interface {
	Publish(ctx context.Context, v View) error
}

// RescueEvent is emitted when a session crosses the rescue threshold
type RescueEvent struct {
	SessionID  string
	ProjectID  string
	Transition rescue.Transition
	Score      float64
	At         time.Time
}

// Options wires the manager to the rest of the service. Every field is
// optional.
type Options struct {
	Metrics   *metrics.Metrics
	Publisher Publisher
	Clock     func() time.Time
	// OnRescue runs on the engine goroutine and must not block
	OnRescue func(RescueEvent)
}

// Manager maps session ids to running sessions
type Manager struct {
	engineCfg config.EngineConfig
	cfg       config.SessionConfig
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager. Engines run until their session is closed
// or ctx is cancelled.
func NewManager(ctx context.Context, engineCfg config.EngineConfig, cfg config.SessionConfig, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	config.SetEngineDefaults(&engineCfg)
	config.SetSessionDefaults(&cfg)

	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		engineCfg: engineCfg,
		cfg:       cfg,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
}

// Open returns the session with the given id, creating and starting it when
// absent. An empty id gets a fresh one. The boolean reports creation.
func (m *Manager) Open(id string, meta Meta) (*Session, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrManagerClosed
	}
	if s, ok := m.sessions[id]; ok {
		if meta.ProjectID != "" && s.Meta.ProjectID != meta.ProjectID {
			return nil, false, ErrProjectMismatch
		}
		return s, false, nil
	}

	if meta.OpenedAt.IsZero() {
		meta.OpenedAt = m.opts.Clock()
	}
	s := m.newSession(id, meta)
	if err := s.Engine.Start(m.ctx); err != nil {
		return nil, false, err
	}
	m.sessions[id] = s
	m.opts.Metrics.SessionOpened()

	log.Info().
		Str("session_id", id).
		Str("project_id", meta.ProjectID).
		Str("device_type", meta.Client.DeviceType).
		Msg("Session opened")

	return s, true, nil
}

func (m *Manager) newSession(id string, meta Meta) *Session {
	s := &Session{
		ID:      id,
		Meta:    meta,
		Bus:     friction.NewBus(),
		advisor: rescue.NewAdvisor(m.engineCfg.RescueThreshold),
		metrics: m.opts.Metrics,
		clock:   m.opts.Clock,
		hints:   make(chan page.HintCommand, m.cfg.HintBuffer),
	}
	s.touch()
	s.Document = page.NewDocument(page.HintSinkFunc(s.sendHint))
	s.Engine = friction.NewEngine(s.Bus, s.Document, m.engineCfg, friction.Options{
		Clock: m.opts.Clock,
		OnSignal: func(sig friction.Signal) {
			m.opts.Metrics.ObserveSignal(string(sig.Kind))
			if sig.Kind != friction.SignalScroll {
				log.Debug().
					Str("session_id", id).
					Str("signal", string(sig.Kind)).
					Str("target", string(sig.Target)).
					Float64("weight", sig.Weight).
					Msg("Friction signal")
			}
		},
		OnTick: func(res friction.TickResult) {
			m.observeRescue(s, res)
		},
	})
	return s
}

func (m *Manager) observeRescue(s *Session, res friction.TickResult) {
	tr := s.advisor.Observe(res.Score)
	if tr == rescue.NoChange {
		return
	}
	if tr == rescue.Offered {
		m.opts.Metrics.RescueOffered()
	}

	log.Info().
		Str("session_id", s.ID).
		Str("transition", tr.String()).
		Float64("score", res.Score).
		Msg("Rescue mode changed")

	if m.opts.OnRescue != nil {
		m.opts.OnRescue(RescueEvent{
			SessionID:  s.ID,
			ProjectID:  s.Meta.ProjectID,
			Transition: tr,
			Score:      res.Score,
			At:         res.At,
		})
	}
}

// Get returns a running session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close stops the session's engine and forgets it
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.closeSession(s, "closed")
	return nil
}

func (m *Manager) closeSession(s *Session, reason string) {
	score := s.close()
	m.opts.Metrics.SessionClosed(score)
	log.Info().
		Str("session_id", s.ID).
		Str("reason", reason).
		Float64("final_score", score).
		Msg("Session closed")
}

// CloseAll stops every session and refuses new ones
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.closeSession(s, "shutdown")
	}
	m.cancel()
}

// Len returns the number of running sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) list() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Run reaps idle sessions and publishes views until ctx is cancelled, then
// closes every session.
func (m *Manager) Run(ctx context.Context) {
	reap := time.NewTicker(m.cfg.ReapInterval)
	defer reap.Stop()

	var publish <-chan time.Time
	if m.opts.Publisher != nil {
		t := time.NewTicker(m.cfg.PublishInterval)
		defer t.Stop()
		publish = t.C
	}

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-reap.C:
			m.ReapIdle()
		case <-publish:
			m.PublishAll(ctx)
		}
	}
}

// ReapIdle closes sessions without input for longer than the idle timeout.
// It returns how many were closed.
func (m *Manager) ReapIdle() int {
	now := m.opts.Clock()

	var idle []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen()) > m.cfg.IdleTimeout {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.closeSession(s, "idle")
	}
	return len(idle)
}

// PublishAll hands every session view to the publisher
func (m *Manager) PublishAll(ctx context.Context) {
	if m.opts.Publisher == nil {
		return
	}
	for _, s := range m.list() {
		if err := m.opts.Publisher.Publish(ctx, s.View()); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to publish stress snapshot")
		}
	}
}
