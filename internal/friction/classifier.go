package friction

import (
	"github.com/gosight/gosight/friction/internal/config"
)

// Scrub describes a detected back-and-forth cursor motion
type Scrub struct {
	Samples      int
	PathLength   float64
	Displacement float64
	Center       Point
}

// IsDeadClick reports whether a click on target hit nothing interactive.
// A surface that fails while answering counts as interactive, so no signal
// is raised.
func IsDeadClick(s Surface, target NodeID) (dead bool) {
	defer func() {
		if recover() != nil {
			dead = false
		}
	}()
	return !s.IsInteractive(target)
}

// CountSameTarget counts clicks on target
func CountSameTarget(clicks []ClickRecord, target NodeID) int {
	n := 0
	for _, c := range clicks {
		if c.Target == target {
			n++
		}
	}
	return n
}

// IsRageClick fires only when the count equals the threshold, so a burst
// that keeps clicking past it does not fire again until the buffer ages
// out and refills.
func IsRageClick(count int, cfg config.RageClickConfig) bool {
	return count == cfg.Threshold
}

// DetectScrubbing evaluates samples that are already limited to the
// scrubbing window: a long path with little net movement.
func DetectScrubbing(samples []MovementSample, cfg config.ScrubbingConfig) (Scrub, bool) {
	if len(samples) < cfg.MinSamples || len(samples) < 2 {
		return Scrub{}, false
	}

	var path, sumX, sumY float64
	for i, s := range samples {
		sumX += s.X
		sumY += s.Y
		if i == 0 {
			continue
		}
		prev := samples[i-1]
		path += Point{X: prev.X, Y: prev.Y}.DistanceTo(Point{X: s.X, Y: s.Y})
	}

	first, last := samples[0], samples[len(samples)-1]
	net := Point{X: first.X, Y: first.Y}.DistanceTo(Point{X: last.X, Y: last.Y})

	scrub := Scrub{
		Samples:      len(samples),
		PathLength:   path,
		Displacement: net,
		Center: Point{
			X: sumX / float64(len(samples)),
			Y: sumY / float64(len(samples)),
		},
	}
	if path > cfg.MinPathPx && net < cfg.MaxDisplacementPx {
		return scrub, true
	}
	return scrub, false
}
