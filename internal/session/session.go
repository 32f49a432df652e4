package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/enricher"
	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/metrics"
	"github.com/gosight/gosight/friction/internal/page"
	"github.com/gosight/gosight/friction/internal/rescue"
)

// Meta is what the service knows about the client behind a session
type Meta struct {
	ProjectID string           `json:"project_id"`
	Client    enricher.Profile `json:"client"`
	OpenedAt  time.Time        `json:"opened_at"`
}

// View is the consumer-facing state of a session
type View struct {
	SessionID  string              `json:"session_id"`
	ProjectID  string              `json:"project_id"`
	Score      float64             `json:"score"`
	Rescue     bool                `json:"rescue"`
	LastSignal friction.SignalKind `json:"last_signal,omitempty"`
	Cursor     *friction.Point     `json:"cursor,omitempty"`
	Pulsing    []page.PulseState   `json:"pulsing,omitempty"`
	Client     enricher.Profile    `json:"client"`
	Ticks      uint64              `json:"ticks"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Session is one browser tab: its engine, its document mirror and the bus
// feeding the engine.
type Session struct {
	ID       string
	Meta     Meta
	Engine   *friction.Engine
	Document *page.Document
	Bus      *friction.Bus

	advisor *rescue.Advisor
	metrics *metrics.Metrics
	clock   func() time.Time

	lastSeen atomic.Int64

	hintMu   sync.RWMutex
	hints    chan page.HintCommand
	attached bool
	closed   bool

	clockMu      sync.Mutex
	clientOffset time.Duration
	hasOffset    bool

	closeOnce sync.Once
}

// Dispatch publishes normalized events to the engine. It returns the number
// of events delivered.
func (s *Session) Dispatch(events ...friction.InputEvent) int {
	s.touch()
	for _, ev := range events {
		s.Bus.Publish(ev)
	}
	return len(events)
}

// ApplyLayout merges a layout message into the document mirror
func (s *Session) ApplyLayout(l page.Layout) {
	s.touch()
	s.Document.Apply(l)
}

// Hints streams hint commands for the browser. Commands are only queued
// while a reader is attached. The channel is closed when the session closes.
func (s *Session) Hints() <-chan page.HintCommand {
	return s.hints
}

// Attach claims the hint stream for a single reader and replays the marks
// already on the page. It reports false when the stream is taken or the
// session is closed.
func (s *Session) Attach() bool {
	s.hintMu.Lock()
	defer s.hintMu.Unlock()
	if s.closed || s.attached {
		return false
	}
	s.attached = true

	for _, p := range s.Document.Pulsing() {
		s.enqueue(page.HintCommand{Op: page.HintPulse, Node: p.Node, DelayMs: p.DelayMs})
	}
	return true
}

// ClientTime maps a client timestamp (ms) onto server time for sources that
// deliver events one at a time. The offset follows the smallest lag seen, so
// client clock skew cancels out and gaps between events are kept.
func (s *Session) ClientTime(ts int64, now time.Time) time.Time {
	if ts <= 0 {
		return now
	}
	client := time.UnixMilli(ts)

	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if !s.hasOffset || client.Add(s.clientOffset).After(now) {
		s.clientOffset = now.Sub(client)
		s.hasOffset = true
	}
	return client.Add(s.clientOffset)
}

// Done is closed once the engine has stopped
func (s *Session) Done() <-chan struct{} {
	return s.Engine.Done()
}

// Rescue reports whether Rescue Mode is currently offered
func (s *Session) Rescue() bool {
	return s.advisor.Offered()
}

// LastSeen returns the time of the last input
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// View assembles the current consumer view
func (s *Session) View() View {
	snap := s.Engine.Snapshot()
	return View{
		SessionID:  s.ID,
		ProjectID:  s.Meta.ProjectID,
		Score:      snap.Score,
		Rescue:     s.advisor.Offered(),
		LastSignal: snap.LastSignal,
		Cursor:     snap.Cursor,
		Pulsing:    s.Document.Pulsing(),
		Client:     s.Meta.Client,
		Ticks:      snap.Ticks,
		UpdatedAt:  snap.UpdatedAt,
	}
}

func (s *Session) touch() {
	s.lastSeen.Store(s.clock().UnixNano())
}

// sendHint never blocks the engine: commands are dropped when the browser
// does not keep up. Without a reader the document state alone is kept.
func (s *Session) sendHint(cmd page.HintCommand) {
	s.hintMu.RLock()
	defer s.hintMu.RUnlock()
	if s.closed || !s.attached {
		return
	}
	s.enqueue(cmd)
}

// enqueue must be called with hintMu held
func (s *Session) enqueue(cmd page.HintCommand) {
	select {
	case s.hints <- cmd:
		s.metrics.ObserveHint(string(cmd.Op))
	default:
		s.metrics.HintDropped()
		log.Debug().Str("session_id", s.ID).Str("node", string(cmd.Node)).Msg("Hint command dropped")
	}
}

func (s *Session) close() float64 {
	var score float64
	s.closeOnce.Do(func() {
		s.Engine.Stop()
		score = s.Engine.Score()

		s.hintMu.Lock()
		s.closed = true
		close(s.hints)
		s.hintMu.Unlock()
	})
	return score
}
