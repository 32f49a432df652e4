package friction

import (
	"math"
	"strings"
	"time"
)

// NodeID identifies a DOM node. It is only ever compared for equality.
type NodeID string

// Point is a viewport position in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance between p and q
func (p Point) DistanceTo(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Rect is an element bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the middle of the box
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Surface is the slice of the DOM the engine needs: interactivity tests,
// bounding boxes and the pulse mark.
type Surface interface {
	IsInteractive(id NodeID) bool
	QueryInteractive() []NodeID
	BoundingBox(id NodeID) (Rect, bool)
	SetPulse(id NodeID, delay time.Duration)
	ClearPulse(id NodeID)
	IsPulsing(id NodeID) bool
}

var interactiveTags = map[string]bool{
	"button":   true,
	"a":        true,
	"input":    true,
	"textarea": true,
	"select":   true,
	"video":    true,
	"audio":    true,
}

var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"menuitem": true,
}

// MatchesInteractive reports whether an element with the given tag and role
// matches the interactive selector set. Tags are case-insensitive.
func MatchesInteractive(tag, role string) bool {
	if interactiveTags[strings.ToLower(tag)] {
		return true
	}
	return interactiveRoles[strings.ToLower(role)]
}
