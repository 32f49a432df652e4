// Package friction infers user frustration from raw pointer, click and
// scroll events. Classifiers turn buffered input into weighted signals, a
// fixed-rate tick folds them into a decaying stress score, and a hint
// renderer pulses interactive elements near the cursor while stress is high.
package friction

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/config"
)

var (
	ErrEngineRunning = errors.New("friction engine already started")
	ErrEngineStopped = errors.New("friction engine stopped")
)

// Options customizes an Engine. Callbacks run on the engine goroutine and
// must not block.
type Options struct {
	Clock    func() time.Time
	OnSignal func(Signal)
	OnTick   func(TickResult)
}

// Snapshot is a point-in-time view of the engine for consumers and debug
// overlays.
type Snapshot struct {
	Score      float64    `json:"score"`
	LastSignal SignalKind `json:"last_signal,omitempty"`
	Cursor     *Point     `json:"cursor,omitempty"`
	Ticks      uint64     `json:"ticks"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Engine owns one tracker and serializes every event and tick on a single
// goroutine, so ticks never overlap and the buffers need no locking.
type Engine struct {
	cfg    config.EngineConfig
	source EventSource
	opts   Options
	t      *tracker

	inbox chan InputEvent

	scoreBits atomic.Uint64
	snapMu    sync.RWMutex
	snap      Snapshot

	mu      sync.Mutex
	started bool
	stopped bool
	detach  []func()
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates an engine reading from source and marking surface
func NewEngine(source EventSource, surface Surface, cfg config.EngineConfig, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	e := &Engine{
		cfg:    cfg,
		source: source,
		opts:   opts,
		inbox:  make(chan InputEvent, cfg.InboxSize),
		done:   make(chan struct{}),
	}
	e.t = newTracker(surface, cfg, e.signal)
	return e
}

// Start attaches one handler per event kind and starts the tick loop. The
// engine stops when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}
	if e.started {
		return ErrEngineRunning
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for _, kind := range []EventKind{PointerDown, PointerMove, Scroll} {
		e.detach = append(e.detach, e.source.Subscribe(kind, e.enqueue))
	}

	go e.run(ctx)
	return nil
}

// Stop detaches the handlers, stops the timer and waits for the loop to
// exit. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	started := e.started
	e.detachAll()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	if started {
		<-e.done
	}
}

func (e *Engine) detachAll() {
	for _, fn := range e.detach {
		fn()
	}
	e.detach = nil
}

// Done is closed once the tick loop has exited
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Score returns the latest stress score in [0, MaxScore]
func (e *Engine) Score() float64 {
	return math.Float64frombits(e.scoreBits.Load())
}

// LastSignal returns the most recently raised signal kind
func (e *Engine) LastSignal() SignalKind {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap.LastSignal
}

// Snapshot returns the state published by the last tick
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	s := e.snap
	if s.Cursor != nil {
		c := *s.Cursor
		s.Cursor = &c
	}
	return s
}

func (e *Engine) enqueue(ev InputEvent) {
	select {
	case e.inbox <- ev:
	case <-e.done:
	}
}

func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickRate)
	defer func() {
		ticker.Stop()
		e.mu.Lock()
		e.detachAll()
		e.mu.Unlock()
		close(e.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbox:
			e.handle(ev)
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) handle(ev InputEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("kind", ev.Kind.String()).Msg("Friction handler failed")
		}
	}()

	if ev.Time.IsZero() {
		ev.Time = e.opts.Clock()
	}

	switch ev.Kind {
	case PointerDown:
		e.t.handleClick(ev)
	case PointerMove:
		e.t.handleMove(ev)
	case Scroll:
		e.t.handleScroll(ev)
		e.publish(false)
	}
}

func (e *Engine) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Friction tick failed")
		}
	}()

	res := e.t.tick(e.opts.Clock())
	e.publish(true)
	if e.opts.OnTick != nil {
		e.opts.OnTick(res)
	}
}

func (e *Engine) signal(sig Signal) {
	if e.opts.OnSignal != nil {
		e.opts.OnSignal(sig)
	}
}

func (e *Engine) publish(ticked bool) {
	score := e.t.score()
	e.scoreBits.Store(math.Float64bits(score))

	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	e.snap.Score = score
	e.snap.LastSignal = e.t.lastSignal
	if e.t.hasCursor {
		c := e.t.cursor
		e.snap.Cursor = &c
	}
	if ticked {
		e.snap.Ticks++
	}
	e.snap.UpdatedAt = e.opts.Clock()
}
