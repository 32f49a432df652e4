package friction

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/friction/internal/config"
)

func fastEngineConfig() config.EngineConfig {
	cfg := config.DefaultEngine()
	cfg.TickRate = 5 * time.Millisecond
	return cfg
}

func TestEngineAttachesOneHandlerPerKind(t *testing.T) {
	bus := NewBus()
	e := NewEngine(bus, newFakeSurface(), fastEngineConfig(), Options{})

	require.NoError(t, e.Start(context.Background()))
	for _, kind := range []EventKind{PointerDown, PointerMove, Scroll} {
		assert.Equal(t, 1, bus.Subscribers(kind), kind.String())
	}

	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineRunning)

	e.Stop()
	for _, kind := range []EventKind{PointerDown, PointerMove, Scroll} {
		assert.Equal(t, 0, bus.Subscribers(kind), kind.String())
	}

	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineStopped)
	assert.NotPanics(t, e.Stop)
}

func TestEngineStopsWithContext(t *testing.T) {
	bus := NewBus()
	e := NewEngine(bus, newFakeSurface(), fastEngineConfig(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	cancel()

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, 0, bus.Subscribers(PointerDown))
}

func TestEngineScoresRageClicks(t *testing.T) {
	bus := NewBus()
	surface := newFakeSurface()
	surface.addButton("submit", 100, 100)

	var mu sync.Mutex
	var signals []Signal
	e := NewEngine(bus, surface, fastEngineConfig(), Options{
		OnSignal: func(sig Signal) {
			mu.Lock()
			signals = append(signals, sig)
			mu.Unlock()
		},
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	now := time.Now()
	for i := 0; i < 4; i++ {
		bus.Publish(InputEvent{Kind: PointerDown, Target: "submit", Time: now.Add(time.Duration(i) * 100 * time.Millisecond)})
	}

	require.Eventually(t, func() bool {
		return e.Score() > 30
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, signals, 1)
	assert.Equal(t, SignalRageClick, signals[0].Kind)
	assert.Equal(t, SignalRageClick, e.LastSignal())
	assert.LessOrEqual(t, e.Score(), 40.0)
}

func TestEngineSnapshotTracksCursor(t *testing.T) {
	bus := NewBus()
	e := NewEngine(bus, newFakeSurface(), fastEngineConfig(), Options{})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	bus.Publish(InputEvent{Kind: PointerMove, X: 42, Y: 24})

	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.Cursor != nil && snap.Ticks > 0
	}, time.Second, 5*time.Millisecond)

	snap := e.Snapshot()
	assert.Equal(t, Point{X: 42, Y: 24}, *snap.Cursor)
	assert.Equal(t, 0.0, snap.Score)
}

func TestEngineScrollAppliesBeforeTick(t *testing.T) {
	bus := NewBus()
	cfg := config.DefaultEngine()
	cfg.TickRate = time.Hour
	e := NewEngine(bus, newFakeSurface(), cfg, Options{})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	bus.Publish(InputEvent{Kind: Scroll})
	bus.Publish(InputEvent{Kind: Scroll})

	require.Eventually(t, func() bool {
		return e.Score() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, SignalScroll, e.LastSignal())
}

func TestEngineSurvivesPanickingCallback(t *testing.T) {
	var ticks atomic.Int32
	e := NewEngine(NewBus(), newFakeSurface(), fastEngineConfig(), Options{
		OnTick: func(TickResult) {
			ticks.Add(1)
			panic("consumer bug")
		},
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}
