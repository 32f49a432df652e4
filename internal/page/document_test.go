package page

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/friction"
)

type recordingSink struct {
	mu   sync.Mutex
	cmds []HintCommand
}

func (r *recordingSink) SendHint(cmd HintCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
}

func (r *recordingSink) all() []HintCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HintCommand(nil), r.cmds...)
}

func box(x, y float64) *friction.Rect {
	return &friction.Rect{X: x - 10, Y: y - 10, Width: 20, Height: 20}
}

func plansPage() Layout {
	return Layout{
		Replace: true,
		Nodes: []Node{
			{ID: "body", Tag: "BODY"},
			{ID: "plan-card", Tag: "DIV", Role: "button", Parent: "body", Rect: box(100, 100)},
			{ID: "plan-title", Tag: "SPAN", Parent: "plan-card", Rect: box(100, 90)},
			{ID: "hero", Tag: "DIV", Parent: "body", Rect: box(500, 500)},
			{ID: "hero-text", Tag: "P", Parent: "hero", Rect: box(500, 510)},
			{ID: "buy", Tag: "BUTTON", Parent: "body", Rect: box(150, 100)},
			{ID: "partners", Tag: "A", Parent: "body", Rect: box(900, 100)},
			{ID: "video", Tag: "VIDEO", Parent: "body"},
		},
	}
}

func TestDocumentIsInteractiveWalksParents(t *testing.T) {
	d := NewDocument(nil)
	d.Apply(plansPage())

	tests := []struct {
		id       friction.NodeID
		expected bool
	}{
		{"buy", true},
		{"plan-card", true},
		{"plan-title", true},
		{"hero", false},
		{"hero-text", false},
		{"body", false},
		{"missing", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			assert.Equal(t, tt.expected, d.IsInteractive(tt.id))
		})
	}
}

func TestDocumentIsInteractiveSurvivesCycles(t *testing.T) {
	d := NewDocument(nil)
	d.Apply(Layout{Replace: true, Nodes: []Node{
		{ID: "a", Tag: "DIV", Parent: "b"},
		{ID: "b", Tag: "DIV", Parent: "a"},
	}})

	assert.False(t, d.IsInteractive("a"))
}

func TestDocumentQueryInteractive(t *testing.T) {
	d := NewDocument(nil)
	d.Apply(plansPage())

	assert.Equal(t, []friction.NodeID{"buy", "partners", "plan-card", "video"}, d.QueryInteractive())

	_, ok := d.BoundingBox("video")
	assert.False(t, ok)
	r, ok := d.BoundingBox("buy")
	require.True(t, ok)
	assert.Equal(t, friction.Point{X: 150, Y: 100}, r.Center())
}

func TestDocumentPulseSendsCommandsOnChange(t *testing.T) {
	sink := &recordingSink{}
	d := NewDocument(sink)
	d.Apply(plansPage())

	d.SetPulse("buy", -300*time.Millisecond)
	d.SetPulse("buy", -900*time.Millisecond)
	d.SetPulse("hero", 0)

	assert.True(t, d.IsPulsing("buy"))
	assert.False(t, d.IsPulsing("hero"))
	assert.Equal(t, []PulseState{{Node: "buy", DelayMs: -300}}, d.Pulsing())

	d.ClearPulse("buy")
	d.ClearPulse("buy")

	assert.Equal(t, []HintCommand{
		{Op: HintPulse, Node: "buy", DelayMs: -300},
		{Op: HintUnpulse, Node: "buy"},
	}, sink.all())
}

func TestDocumentApplyDropsStaleMarks(t *testing.T) {
	sink := &recordingSink{}
	d := NewDocument(sink)
	d.Apply(plansPage())
	d.SetPulse("buy", 0)
	d.SetPulse("partners", 0)

	// buy turns into a plain div; partners disappears
	d.Apply(Layout{Nodes: []Node{{ID: "buy", Tag: "DIV", Parent: "body", Rect: box(150, 100)}}, Removed: []friction.NodeID{"partners"}})

	assert.Empty(t, d.Pulsing())
	assert.Equal(t, []HintCommand{
		{Op: HintPulse, Node: "buy"},
		{Op: HintPulse, Node: "partners"},
		{Op: HintUnpulse, Node: "buy"},
		{Op: HintUnpulse, Node: "partners"},
	}, sink.all())
	_, ok := d.Node("partners")
	assert.False(t, ok)
}

func TestDocumentReplaceUnmarksMissingNodes(t *testing.T) {
	sink := &recordingSink{}
	d := NewDocument(sink)
	d.Apply(plansPage())
	d.SetPulse("buy", -200*time.Millisecond)
	d.SetPulse("partners", -200*time.Millisecond)

	// A visible-only snapshot that no longer lists either button
	d.Apply(Layout{Replace: true, Nodes: []Node{{ID: "body", Tag: "BODY"}}})

	assert.Empty(t, d.Pulsing())
	assert.Equal(t, []HintCommand{
		{Op: HintUnpulse, Node: "buy"},
		{Op: HintUnpulse, Node: "partners"},
	}, sink.all()[2:])
}

func TestDocumentRemoveUnmarksPulsingNode(t *testing.T) {
	sink := &recordingSink{}
	d := NewDocument(sink)
	d.Apply(plansPage())
	d.SetPulse("buy", 0)

	d.Remove("buy", "hero", "missing")

	assert.Equal(t, 6, d.Len())
	assert.Equal(t, []HintCommand{
		{Op: HintPulse, Node: "buy"},
		{Op: HintUnpulse, Node: "buy"},
	}, sink.all())
}

func TestDocumentReplaceKeepsPhaseOfSurvivingMarks(t *testing.T) {
	d := NewDocument(nil)
	d.Apply(plansPage())
	d.SetPulse("buy", -700*time.Millisecond)

	d.Apply(plansPage())

	assert.Equal(t, []PulseState{{Node: "buy", DelayMs: -700}}, d.Pulsing())
}

func TestDocumentDrivesHintRenderer(t *testing.T) {
	sink := &recordingSink{}
	d := NewDocument(sink)
	d.Apply(plansPage())

	h := friction.NewHintRenderer(d, config.DefaultEngine().Hints)
	h.PulseNearCursor(time.UnixMilli(2500), friction.Point{X: 120, Y: 100})

	assert.Equal(t, []PulseState{
		{Node: "buy", DelayMs: -500},
		{Node: "plan-card", DelayMs: -500},
	}, d.Pulsing())

	// Second pass with no change emits nothing
	before := len(sink.all())
	h.PulseNearCursor(time.UnixMilli(2600), friction.Point{X: 120, Y: 100})
	assert.Len(t, sink.all(), before)

	h.ClearAllHints()
	assert.Empty(t, d.Pulsing())
}
