package friction

import "time"

// SignalKind names a detected friction pattern.
type SignalKind string

const (
	SignalNone      SignalKind = ""
	SignalDeadClick SignalKind = "dead_click"
	SignalRageClick SignalKind = "rage_click"
	SignalScrubbing SignalKind = "scrubbing"
	SignalScroll    SignalKind = "scroll"
)

// Signal is a transient classifier result. It is folded into the score and
// then discarded.
type Signal struct {
	Kind   SignalKind
	Weight float64
	Target NodeID
	At     time.Time
}
