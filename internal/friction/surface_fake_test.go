package friction

import (
	"sort"
	"sync"
	"time"
)

type fakeNode struct {
	interactive bool
	box         Rect
	hasBox      bool
	pulsing     bool
	delay       time.Duration
}

// fakeSurface is an in-memory Surface for tests
type fakeSurface struct {
	mu       sync.Mutex
	nodes    map[NodeID]*fakeNode
	setCalls int
	panicOn  NodeID
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{nodes: make(map[NodeID]*fakeNode)}
}

func (f *fakeSurface) addButton(id NodeID, x, y float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[id] = &fakeNode{
		interactive: true,
		box:         Rect{X: x - 10, Y: y - 10, Width: 20, Height: 20},
		hasBox:      true,
	}
}

func (f *fakeSurface) addPlain(id NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[id] = &fakeNode{}
}

func (f *fakeSurface) detach(id NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[id]; ok {
		n.hasBox = false
	}
}

func (f *fakeSurface) IsInteractive(id NodeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	return ok && n.interactive
}

func (f *fakeSurface) QueryInteractive() []NodeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []NodeID
	for id, n := range f.nodes {
		if n.interactive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeSurface) BoundingBox(id NodeID) (Rect, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.panicOn {
		panic("detached node")
	}
	n, ok := f.nodes[id]
	if !ok || !n.hasBox {
		return Rect{}, false
	}
	return n.box, true
}

func (f *fakeSurface) SetPulse(id NodeID, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if n, ok := f.nodes[id]; ok {
		n.pulsing = true
		n.delay = delay
	}
}

func (f *fakeSurface) ClearPulse(id NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[id]; ok {
		n.pulsing = false
		n.delay = 0
	}
}

func (f *fakeSurface) IsPulsing(id NodeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	return ok && n.pulsing
}

func (f *fakeSurface) pulsing() []NodeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []NodeID
	for id, n := range f.nodes {
		if n.pulsing {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeSurface) delayOf(id NodeID) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[id].delay
}
