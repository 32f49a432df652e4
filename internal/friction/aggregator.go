package friction

// aggregator holds the stress score and the weights raised since the last
// tick. It is owned by a single goroutine.
type aggregator struct {
	score   float64
	pending float64
	decay   float64
	max     float64
}

func newAggregator(decay, max float64) *aggregator {
	return &aggregator{decay: decay, max: max}
}

// raise queues a weight for the next tick
func (a *aggregator) raise(weight float64) {
	a.pending += weight
}

// bump applies a weight immediately, outside the tick batch
func (a *aggregator) bump(weight float64) {
	a.score = clamp(a.score+weight, 0, a.max)
}

// tick folds the pending weights into the score, applies one step of
// decay and resets the accumulator.
func (a *aggregator) tick() (prev, next, increase float64) {
	prev = a.score
	increase = a.pending
	a.score = clamp(prev+increase-a.decay, 0, a.max)
	a.pending = 0
	return prev, a.score, increase
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
