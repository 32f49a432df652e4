// Package rescue decides when a UI surface should offer Rescue Mode, the
// simplified layout suggested to users under high stress. It only reads the
// stress score.
package rescue

import "sync/atomic"

// ScoreReader exposes the current stress score
type ScoreReader interface {
	Score() float64
}

// Transition is an edge in the offer state
type Transition int

const (
	NoChange Transition = iota
	Offered
	Withdrawn
)

func (t Transition) String() string {
	switch t {
	case Offered:
		return "rescue_offered"
	case Withdrawn:
		return "rescue_withdrawn"
	}
	return "none"
}

// ShouldOffer reports whether the score is above the rescue threshold
func ShouldOffer(r ScoreReader, threshold float64) bool {
	return r.Score() > threshold
}

// Advisor tracks whether Rescue Mode is currently offered so callers can
// notify once per threshold crossing.
type Advisor struct {
	threshold float64
	offered   atomic.Bool
}

// NewAdvisor creates an advisor for the given threshold
func NewAdvisor(threshold float64) *Advisor {
	return &Advisor{threshold: threshold}
}

// Observe feeds a new score and returns the resulting transition
func (a *Advisor) Observe(score float64) Transition {
	want := score > a.threshold
	if a.offered.CompareAndSwap(!want, want) {
		if want {
			return Offered
		}
		return Withdrawn
	}
	return NoChange
}

// Offered reports the current offer state
func (a *Advisor) Offered() bool {
	return a.offered.Load()
}

// Threshold returns the configured threshold
func (a *Advisor) Threshold() float64 {
	return a.threshold
}
