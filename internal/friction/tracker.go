package friction

import (
	"time"

	"github.com/gosight/gosight/friction/internal/config"
)

// TickResult summarizes one interpreter tick
type TickResult struct {
	At             time.Time
	Previous       float64
	Score          float64
	Increase       float64
	Signals        []Signal
	HintsRefreshed bool
	HintsCleared   bool
}

// tracker is the synchronous engine state. Every method must be called from
// one goroutine; Engine guarantees that.
type tracker struct {
	cfg     config.EngineConfig
	surface Surface
	hints   *HintRenderer

	clicks *clickBuffer
	moves  *movementBuffer
	agg    *aggregator

	cursor      Point
	hasCursor   bool
	lastRefresh time.Time
	lastSignal  SignalKind

	onSignal func(Signal)
}

func newTracker(s Surface, cfg config.EngineConfig, onSignal func(Signal)) *tracker {
	return &tracker{
		cfg:      cfg,
		surface:  s,
		hints:    NewHintRenderer(s, cfg.Hints),
		clicks:   newClickBuffer(cfg.RageClick.Window),
		moves:    newMovementBuffer(cfg.Scrubbing.Window, cfg.Scrubbing.CompactAbove, cfg.Scrubbing.CompactEvery),
		agg:      newAggregator(cfg.DecayPerTick, cfg.MaxScore),
		onSignal: onSignal,
	}
}

func (t *tracker) emit(sig Signal) {
	t.lastSignal = sig.Kind
	if t.onSignal != nil {
		t.onSignal(sig)
	}
}

// handleClick raises a dead click for non-interactive targets and a rage
// click when the same target reaches the threshold inside the window.
func (t *tracker) handleClick(ev InputEvent) []Signal {
	var raised []Signal

	if IsDeadClick(t.surface, ev.Target) {
		sig := Signal{Kind: SignalDeadClick, Weight: t.cfg.DeadClick.Weight, Target: ev.Target, At: ev.Time}
		t.agg.raise(sig.Weight)
		t.emit(sig)
		raised = append(raised, sig)
	}

	count := t.clicks.add(ClickRecord{Time: ev.Time, Target: ev.Target})
	if IsRageClick(count, t.cfg.RageClick) {
		sig := Signal{Kind: SignalRageClick, Weight: t.cfg.RageClick.Weight, Target: ev.Target, At: ev.Time}
		t.agg.raise(sig.Weight)
		t.emit(sig)
		raised = append(raised, sig)
	}

	return raised
}

func (t *tracker) handleMove(ev InputEvent) {
	t.moves.add(MovementSample{X: ev.X, Y: ev.Y, Time: ev.Time})
	t.cursor = Point{X: ev.X, Y: ev.Y}
	t.hasCursor = true
}

// handleScroll applies the scroll weight directly to the score
func (t *tracker) handleScroll(ev InputEvent) Signal {
	sig := Signal{Kind: SignalScroll, Weight: t.cfg.Scroll.Weight, At: ev.Time}
	t.agg.bump(sig.Weight)
	t.emit(sig)
	return sig
}

// refreshDue allows a quarter tick of slack so ticker jitter does not skip
// every other refresh.
func (t *tracker) refreshDue(now time.Time) bool {
	return now.Sub(t.lastRefresh)+t.cfg.TickRate/4 >= t.cfg.HintRefresh
}

func (t *tracker) tick(now time.Time) TickResult {
	res := TickResult{At: now}

	// The window is measured in event time, anchored on the newest sample,
	// so batches that arrive late are judged on their own timeline.
	if _, ok := DetectScrubbing(t.moves.recent(t.moves.newest()), t.cfg.Scrubbing); ok {
		sig := Signal{Kind: SignalScrubbing, Weight: t.cfg.Scrubbing.Weight, At: now}
		t.agg.raise(sig.Weight)
		t.moves.reset()
		t.emit(sig)
		res.Signals = append(res.Signals, sig)
	}

	res.Previous, res.Score, res.Increase = t.agg.tick()

	threshold := t.cfg.HintThreshold
	if res.Score > threshold && t.hasCursor && t.refreshDue(now) {
		t.hints.PulseNearCursor(now, t.cursor)
		t.lastRefresh = now
		res.HintsRefreshed = true
	}
	if res.Previous > threshold && res.Score <= threshold {
		t.hints.ClearAllHints()
		res.HintsCleared = true
	}

	return res
}

func (t *tracker) score() float64 {
	return t.agg.score
}
