package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/friction"
	"github.com/gosight/gosight/friction/internal/metrics"
	"github.com/gosight/gosight/friction/internal/session"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *session.Manager, *metrics.Metrics) {
	t.Helper()
	engineCfg := config.DefaultEngine()
	engineCfg.TickRate = 5 * time.Millisecond
	engineCfg.DecayPerTick = 0.001

	reg := metrics.New()
	m := session.NewManager(context.Background(), engineCfg, config.DefaultSession(), session.Options{Metrics: reg})
	t.Cleanup(m.CloseAll)
	return NewDispatcher(m, reg, nil), m, reg
}

func layoutEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"type": "layout",
		"payload": map[string]interface{}{
			"replace": true,
			"nodes": []interface{}{
				map[string]interface{}{"id": "hero", "tag": "img"},
				map[string]interface{}{"id": "cta", "tag": "a"},
			},
		},
	}
}

func clickEnvelope(target string, ts int64) map[string]interface{} {
	return map[string]interface{}{
		"type":      "click",
		"timestamp": float64(ts),
		"payload":   map[string]interface{}{"target_id": target},
	}
}

func TestDispatchBatch(t *testing.T) {
	d, m, reg := newTestDispatcher(t)
	s, _, err := m.Open("s1", session.Meta{ProjectID: "p1"})
	require.NoError(t, err)

	res := d.DispatchBatch(s, []map[string]interface{}{
		layoutEnvelope(),
		clickEnvelope("hero", 1_000),
		clickEnvelope("hero", 1_100),
		{"type": "page_view"},
		clickEnvelope("hero", 1_200),
		{"payload": map[string]interface{}{}},
	}, 1_300, "http")

	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 2, s.Document.Len())

	require.Eventually(t, func() bool {
		return s.Engine.Score() > 80
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(reg.EventsIngested.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.EventsDropped))
}

func TestDispatchBatchInteractiveTarget(t *testing.T) {
	d, m, _ := newTestDispatcher(t)
	s, _, err := m.Open("s1", session.Meta{})
	require.NoError(t, err)

	d.DispatchBatch(s, []map[string]interface{}{
		layoutEnvelope(),
		clickEnvelope("cta", 0),
	}, 0, "ws")

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, s.Engine.Score())
}

func TestProcessOpensSession(t *testing.T) {
	d, m, _ := newTestDispatcher(t)

	err := d.Process(context.Background(), map[string]interface{}{
		"type":             "EVENT_TYPE_CLICK",
		"session_id":       "k1",
		"project_id":       "p9",
		"device_type":      "mobile",
		"browser":          "Safari",
		"timestamp":        float64(10_000),
		"server_timestamp": float64(10_040),
		"payload":          map[string]interface{}{"target_id": "nowhere"},
	})
	require.NoError(t, err)

	s, err := m.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, "p9", s.Meta.ProjectID)
	assert.Equal(t, "mobile", s.Meta.Client.DeviceType)
	assert.Equal(t, "Safari", s.Meta.Client.Browser)

	require.Eventually(t, func() bool {
		return s.Engine.Score() > 19
	}, time.Second, 5*time.Millisecond)
}

func TestProcessSkipsUnsupported(t *testing.T) {
	d, m, _ := newTestDispatcher(t)

	require.NoError(t, d.Process(context.Background(), map[string]interface{}{
		"type":       "page_view",
		"session_id": "k1",
	}))
	assert.Zero(t, m.Len())

	err := d.Process(context.Background(), map[string]interface{}{"type": "click"})
	assert.Error(t, err)
	assert.Zero(t, m.Len())
}

// scrubEnvelopes builds n zig-zag moves stepMs apart starting at startMs
func scrubEnvelopes(n int, startMs, stepMs int64) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		x := 100.0
		if i%2 == 1 {
			x += 120
		}
		out = append(out, map[string]interface{}{
			"type":      "mouse_move",
			"timestamp": float64(startMs + int64(i)*stepMs),
			"payload":   map[string]interface{}{"x": x, "y": float64(300)},
		})
	}
	return out
}

func TestDispatchBatchScrubbingSurvivesFlushDelay(t *testing.T) {
	for _, delay := range []int64{0, 200, 700} {
		t.Run(fmt.Sprintf("delay %dms", delay), func(t *testing.T) {
			d, m, _ := newTestDispatcher(t)
			s, _, err := m.Open("s1", session.Meta{})
			require.NoError(t, err)

			moves := scrubEnvelopes(12, 50_000, 40)
			res := d.DispatchBatch(s, moves, 50_000+11*40+delay, "http")
			require.Equal(t, 12, res.Accepted)

			require.Eventually(t, func() bool {
				return s.View().LastSignal == friction.SignalScrubbing
			}, time.Second, 5*time.Millisecond)
			assert.Greater(t, s.Engine.Score(), 9.0)
		})
	}
}

func TestProcessScrubbingWithSkewedClientClock(t *testing.T) {
	d, m, _ := newTestDispatcher(t)

	// Client clock far behind the ingestor's
	for _, raw := range scrubEnvelopes(12, 1_000, 40) {
		raw["session_id"] = "k1"
		raw["server_timestamp"] = float64(time.Now().UnixMilli())
		require.NoError(t, d.Process(context.Background(), raw))
	}

	s, err := m.Get("k1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.View().LastSignal == friction.SignalScrubbing
	}, time.Second, 5*time.Millisecond)
}

func TestDispatchBatchRejectsTargetlessClicks(t *testing.T) {
	d, m, reg := newTestDispatcher(t)
	s, _, err := m.Open("s1", session.Meta{})
	require.NoError(t, err)

	var clicks []map[string]interface{}
	for i := 0; i < 3; i++ {
		clicks = append(clicks, map[string]interface{}{
			"type":      "click",
			"timestamp": float64(1_000 + i*100),
			"payload":   map[string]interface{}{"x": float64(i * 300), "y": float64(40)},
		})
	}
	res := d.DispatchBatch(s, clicks, 1_300, "http")

	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, 3, res.Rejected)
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.EventsDropped))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, s.Engine.Score())
	assert.Empty(t, s.View().LastSignal)
}
