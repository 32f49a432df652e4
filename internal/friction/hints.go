package friction

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/config"
)

// HintRenderer marks interactive nodes near the cursor with a pulse whose
// phase is shared by every pulsing node.
type HintRenderer struct {
	surface Surface
	radius  float64
	cycle   time.Duration
}

// NewHintRenderer creates a renderer over the given surface
func NewHintRenderer(s Surface, cfg config.HintsConfig) *HintRenderer {
	return &HintRenderer{
		surface: s,
		radius:  cfg.RadiusPx,
		cycle:   cfg.Cycle,
	}
}

// PhaseDelay returns the negative animation delay that puts a pulse started
// at now on the shared global cycle.
func PhaseDelay(now time.Time, cycle time.Duration) time.Duration {
	ms := cycle.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return -time.Duration(now.UnixMilli()%ms) * time.Millisecond
}

// PulseNearCursor marks unmarked nodes within the radius of cursor and
// unmarks marked nodes that are now outside it. Nodes whose box cannot be
// read are treated as out of range.
func (h *HintRenderer) PulseNearCursor(now time.Time, cursor Point) (marked, unmarked int) {
	delay := PhaseDelay(now, h.cycle)
	for _, id := range h.query() {
		switch h.pulseOne(id, cursor, delay) {
		case 1:
			marked++
		case -1:
			unmarked++
		}
	}
	return marked, unmarked
}

func (h *HintRenderer) pulseOne(id NodeID, cursor Point, delay time.Duration) (change int) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Str("node", string(id)).Msg("Skipping node in hint pass")
			change = 0
		}
	}()

	box, ok := h.surface.BoundingBox(id)
	inRange := ok && box.Center().DistanceTo(cursor) <= h.radius
	pulsing := h.surface.IsPulsing(id)

	switch {
	case inRange && !pulsing:
		h.surface.SetPulse(id, delay)
		return 1
	case !inRange && pulsing:
		h.surface.ClearPulse(id)
		return -1
	}
	return 0
}

// ClearAllHints unmarks every interactive node
func (h *HintRenderer) ClearAllHints() int {
	cleared := 0
	for _, id := range h.query() {
		if h.clearOne(id) {
			cleared++
		}
	}
	return cleared
}

func (h *HintRenderer) clearOne(id NodeID) (was bool) {
	defer func() {
		if recover() != nil {
			was = false
		}
	}()
	was = h.surface.IsPulsing(id)
	h.surface.ClearPulse(id)
	return was
}

func (h *HintRenderer) query() (ids []NodeID) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("Interactive node query failed")
			ids = nil
		}
	}()
	return h.surface.QueryInteractive()
}
