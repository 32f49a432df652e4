// Package page mirrors the interactive layout of a browser tab so the
// friction engine can classify clicks and place hints without a real DOM.
package page

import (
	"sort"
	"sync"
	"time"

	"github.com/gosight/gosight/friction/internal/friction"
)

// maxAncestors bounds the parent walk in IsInteractive
const maxAncestors = 64

// Node is one element reported by the browser
type Node struct {
	ID     friction.NodeID `json:"id"`
	Tag    string          `json:"tag"`
	Role   string          `json:"role,omitempty"`
	Parent friction.NodeID `json:"parent,omitempty"`
	Rect   *friction.Rect  `json:"rect,omitempty"`
}

// Layout is a layout message. With Replace set the document is rebuilt from
// Nodes; otherwise Nodes are upserted and Removed are dropped.
type Layout struct {
	Replace bool              `json:"replace"`
	Nodes   []Node            `json:"nodes"`
	Removed []friction.NodeID `json:"removed,omitempty"`
}

// HintOp is the operation carried by a hint command
type HintOp string

const (
	HintPulse   HintOp = "pulse"
	HintUnpulse HintOp = "unpulse"
)

// HintCommand tells the browser to add or remove the pulse mark on a node
type HintCommand struct {
	Op      HintOp          `json:"op"`
	Node    friction.NodeID `json:"node"`
	DelayMs int64           `json:"delay_ms,omitempty"`
}

// HintSink receives hint commands as the marks change
type HintSink interface {
	SendHint(cmd HintCommand)
}

// HintSinkFunc adapts a function to HintSink
type HintSinkFunc func(cmd HintCommand)

func (f HintSinkFunc) SendHint(cmd HintCommand) { f(cmd) }

// PulseState describes a node currently carrying the pulse mark
type PulseState struct {
	Node    friction.NodeID `json:"node"`
	DelayMs int64           `json:"delay_ms"`
}

type entry struct {
	Node
	pulsing bool
	delay   time.Duration
}

// Document is a concurrency-safe node table implementing friction.Surface.
type Document struct {
	mu    sync.RWMutex
	nodes map[friction.NodeID]*entry
	sink  HintSink
}

var _ friction.Surface = (*Document)(nil)

// NewDocument creates an empty document. sink may be nil.
func NewDocument(sink HintSink) *Document {
	return &Document{
		nodes: make(map[friction.NodeID]*entry),
		sink:  sink,
	}
}

// Apply merges a layout message into the document. Pulsing nodes that are
// dropped or stop matching the interactive set lose their mark, and the
// sink is told so.
func (d *Document) Apply(l Layout) {
	var cmds []HintCommand

	d.mu.Lock()
	if l.Replace {
		next := make(map[friction.NodeID]*entry, len(l.Nodes))
		for _, n := range l.Nodes {
			if n.ID == "" {
				continue
			}
			e := &entry{Node: n}
			if old, ok := d.nodes[n.ID]; ok && old.pulsing {
				if friction.MatchesInteractive(n.Tag, n.Role) {
					e.pulsing, e.delay = true, old.delay
				} else {
					cmds = append(cmds, HintCommand{Op: HintUnpulse, Node: n.ID})
				}
			}
			next[n.ID] = e
		}
		for id, old := range d.nodes {
			if _, kept := next[id]; !kept && old.pulsing {
				cmds = append(cmds, HintCommand{Op: HintUnpulse, Node: id})
			}
		}
		d.nodes = next
	} else {
		for _, n := range l.Nodes {
			if n.ID == "" {
				continue
			}
			e, ok := d.nodes[n.ID]
			if !ok {
				d.nodes[n.ID] = &entry{Node: n}
				continue
			}
			e.Node = n
			if e.pulsing && !friction.MatchesInteractive(n.Tag, n.Role) {
				e.pulsing, e.delay = false, 0
				cmds = append(cmds, HintCommand{Op: HintUnpulse, Node: n.ID})
			}
		}
		cmds = append(cmds, d.removeLocked(l.Removed)...)
	}
	d.mu.Unlock()

	sortCommands(cmds)
	d.send(cmds...)
}

// Remove drops nodes from the document. A dropped node that was pulsing is
// unmarked, since the browser element may still exist.
func (d *Document) Remove(ids ...friction.NodeID) {
	d.mu.Lock()
	cmds := d.removeLocked(ids)
	d.mu.Unlock()

	d.send(cmds...)
}

func (d *Document) removeLocked(ids []friction.NodeID) []HintCommand {
	var cmds []HintCommand
	for _, id := range ids {
		if e, ok := d.nodes[id]; ok && e.pulsing {
			cmds = append(cmds, HintCommand{Op: HintUnpulse, Node: id})
		}
		delete(d.nodes, id)
	}
	return cmds
}

func sortCommands(cmds []HintCommand) {
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Node < cmds[j].Node })
}

// Node returns a copy of the node with the given id
func (d *Document) Node(id friction.NodeID) (Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.nodes[id]
	if !ok {
		return Node{}, false
	}
	return e.Node, true
}

// Len returns the number of known nodes
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// IsInteractive walks from id up the parent chain and reports whether any
// element matches the interactive set. Unknown nodes are not interactive.
func (d *Document) IsInteractive(id friction.NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[friction.NodeID]bool, 8)
	for depth := 0; id != "" && depth < maxAncestors; depth++ {
		if seen[id] {
			return false
		}
		seen[id] = true

		e, ok := d.nodes[id]
		if !ok {
			return false
		}
		if friction.MatchesInteractive(e.Tag, e.Role) {
			return true
		}
		id = e.Parent
	}
	return false
}

// QueryInteractive returns every node matching the interactive set, sorted
// by id.
func (d *Document) QueryInteractive() []friction.NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]friction.NodeID, 0, len(d.nodes))
	for id, e := range d.nodes {
		if friction.MatchesInteractive(e.Tag, e.Role) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BoundingBox returns the node's last reported box. Nodes without a box
// are treated as detached.
func (d *Document) BoundingBox(id friction.NodeID) (friction.Rect, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.nodes[id]
	if !ok || e.Rect == nil {
		return friction.Rect{}, false
	}
	return *e.Rect, true
}

// SetPulse marks a node and notifies the sink. Marking an already pulsing
// node keeps its original phase and sends nothing.
func (d *Document) SetPulse(id friction.NodeID, delay time.Duration) {
	d.mu.Lock()
	e, ok := d.nodes[id]
	if !ok || e.pulsing || !friction.MatchesInteractive(e.Tag, e.Role) {
		d.mu.Unlock()
		return
	}
	e.pulsing, e.delay = true, delay
	d.mu.Unlock()

	d.send(HintCommand{Op: HintPulse, Node: id, DelayMs: delay.Milliseconds()})
}

// ClearPulse removes the mark and its delay
func (d *Document) ClearPulse(id friction.NodeID) {
	d.mu.Lock()
	e, ok := d.nodes[id]
	if !ok || !e.pulsing {
		d.mu.Unlock()
		return
	}
	e.pulsing, e.delay = false, 0
	d.mu.Unlock()

	d.send(HintCommand{Op: HintUnpulse, Node: id})
}

// IsPulsing reports whether the node carries the mark
func (d *Document) IsPulsing(id friction.NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.nodes[id]
	return ok && e.pulsing
}

// Pulsing lists the marked nodes, sorted by id
func (d *Document) Pulsing() []PulseState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []PulseState
	for id, e := range d.nodes {
		if e.pulsing {
			out = append(out, PulseState{Node: id, DelayMs: e.delay.Milliseconds()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

func (d *Document) send(cmds ...HintCommand) {
	if d.sink == nil {
		return
	}
	for _, c := range cmds {
		d.sink.SendHint(c)
	}
}
