package friction

import "time"

// ClickRecord stores a single click in the rolling click buffer
type ClickRecord struct {
	Time   time.Time
	Target NodeID
}

// MovementSample represents a cursor position at a given time
type MovementSample struct {
	X    float64
	Y    float64
	Time time.Time
}

// clickBuffer keeps clicks younger than window. It is pruned on every insert.
type clickBuffer struct {
	window  time.Duration
	records []ClickRecord
}

func newClickBuffer(window time.Duration) *clickBuffer {
	return &clickBuffer{
		window:  window,
		records: make([]ClickRecord, 0, 16),
	}
}

// add appends rec, drops records older than the window and returns the
// number of remaining clicks on rec's target.
func (b *clickBuffer) add(rec ClickRecord) int {
	b.records = append(b.records, rec)
	b.prune(rec.Time)
	return CountSameTarget(b.records, rec.Target)
}

func (b *clickBuffer) prune(now time.Time) {
	kept := b.records[:0]
	for _, r := range b.records {
		if now.Sub(r.Time) <= b.window {
			kept = append(kept, r)
		}
	}
	// Release references held past the new length
	for i := len(kept); i < len(b.records); i++ {
		b.records[i] = ClickRecord{}
	}
	b.records = kept
}

func (b *clickBuffer) len() int {
	return len(b.records)
}

// movementBuffer keeps recent cursor samples. Compaction is amortized: it
// only runs once the buffer exceeds compactAbove samples, on every
// compactEvery-th insert. Readers filter by age themselves.
type movementBuffer struct {
	window       time.Duration
	compactAbove int
	compactEvery int
	inserts      int
	samples      []MovementSample
}

func newMovementBuffer(window time.Duration, compactAbove, compactEvery int) *movementBuffer {
	if compactEvery < 1 {
		compactEvery = 1
	}
	return &movementBuffer{
		window:       window,
		compactAbove: compactAbove,
		compactEvery: compactEvery,
		samples:      make([]MovementSample, 0, compactAbove+compactEvery),
	}
}

func (b *movementBuffer) add(s MovementSample) {
	b.samples = append(b.samples, s)
	b.inserts++
	if len(b.samples) > b.compactAbove && b.inserts%b.compactEvery == 0 {
		b.compact(s.Time)
	}
}

func (b *movementBuffer) compact(now time.Time) {
	kept := b.samples[:0]
	for _, s := range b.samples {
		if now.Sub(s.Time) < b.window {
			kept = append(kept, s)
		}
	}
	b.samples = kept
}

// recent returns a copy of the samples strictly younger than the window.
func (b *movementBuffer) recent(now time.Time) []MovementSample {
	out := make([]MovementSample, 0, len(b.samples))
	for _, s := range b.samples {
		if now.Sub(s.Time) < b.window {
			out = append(out, s)
		}
	}
	return out
}

// newest returns the time of the latest sample, zero when empty
func (b *movementBuffer) newest() time.Time {
	var t time.Time
	for _, s := range b.samples {
		if s.Time.After(t) {
			t = s.Time
		}
	}
	return t
}

func (b *movementBuffer) reset() {
	b.samples = b.samples[:0]
}

func (b *movementBuffer) len() int {
	return len(b.samples)
}
