package testutil

import (
	"context"
	"sync"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
)

// =============================================================================
// FAKE SURFACE
// =============================================================================

// FakeTextNode is a text node of a FakeSurface. Setting its text notifies
// the surface's mutation observers, like a DOM MutationObserver would.
type FakeTextNode struct {
	surface *FakeSurface
	text    string
	mu      sync.Mutex
}

// Text returns the node text.
func (n *FakeTextNode) Text() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

// SetText replaces the node text and notifies mutation observers.
func (n *FakeTextNode) SetText(text string) {
	n.mu.Lock()
	n.text = text
	n.mu.Unlock()

	if n.surface != nil {
		n.surface.Mutate()
	}
}

// FakeSurface implements orchestrator.Surface. Observers are notified
// synchronously on the calling goroutine.
type FakeSurface struct {
	nodes        []*FakeTextNode
	mutation     map[int]func()
	interaction  map[int]func()
	nextObserver int
	mutations    int
	mu           sync.Mutex
}

// NewFakeSurface creates a surface holding the given texts.
func NewFakeSurface(texts ...string) *FakeSurface {
	s := &FakeSurface{
		mutation:    make(map[int]func()),
		interaction: make(map[int]func()),
	}
	for _, text := range texts {
		s.nodes = append(s.nodes, &FakeTextNode{surface: s, text: text})
	}
	return s
}

// AddText appends a node and notifies mutation observers.
func (s *FakeSurface) AddText(text string) *FakeTextNode {
	node := &FakeTextNode{surface: s, text: text}
	s.mu.Lock()
	s.nodes = append(s.nodes, node)
	s.mu.Unlock()

	s.Mutate()
	return node
}

// TextNodes implements localizer.Tree.
func (s *FakeSurface) TextNodes() []localizer.TextNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]localizer.TextNode, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n
	}
	return out
}

// Texts returns the current text of every node.
func (s *FakeSurface) Texts() []string {
	nodes := s.TextNodes()
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Text()
	}
	return out
}

// Observe implements localizer.Observer.
func (s *FakeSurface) Observe(fn func()) func() {
	return s.register(s.mutation, fn)
}

// ObserveInteraction implements orchestrator.Surface.
func (s *FakeSurface) ObserveInteraction(fn func()) func() {
	return s.register(s.interaction, fn)
}

// Mutate notifies mutation observers.
func (s *FakeSurface) Mutate() {
	s.mu.Lock()
	s.mutations++
	s.mu.Unlock()
	s.notify(s.mutation)
}

// Interact simulates a user interaction inside the widget.
func (s *FakeSurface) Interact() {
	s.notify(s.interaction)
}

// Mutations returns the number of mutation notifications so far.
func (s *FakeSurface) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// ObserverCounts returns the number of mutation and interaction observers.
func (s *FakeSurface) ObserverCounts() (mutation, interaction int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mutation), len(s.interaction)
}

func (s *FakeSurface) register(set map[int]func(), fn func()) func() {
	s.mu.Lock()
	s.nextObserver++
	id := s.nextObserver
	set[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(set, id)
		s.mu.Unlock()
	}
}

func (s *FakeSurface) notify(set map[int]func()) {
	s.mu.Lock()
	fns := make([]func(), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// =============================================================================
// FAKE WIDGET
// =============================================================================

// FakeWidget implements orchestrator.Widget around a FakeSurface.
type FakeWidget struct {
	Surface *FakeSurface

	// MountErr makes Mount fail.
	MountErr error

	mounts   []orchestrator.MountOptions
	unmounts int
	mu       sync.Mutex
}

// NewFakeWidget creates a widget that mounts surface.
func NewFakeWidget(surface *FakeSurface) *FakeWidget {
	if surface == nil {
		surface = NewFakeSurface()
	}
	return &FakeWidget{Surface: surface}
}

// Mount records the options and returns the surface.
func (w *FakeWidget) Mount(ctx context.Context, opts orchestrator.MountOptions) (orchestrator.Surface, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.mounts = append(w.mounts, opts)
	if w.MountErr != nil {
		return nil, w.MountErr
	}
	return w.Surface, nil
}

// Unmount records the call.
func (w *FakeWidget) Unmount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unmounts++
}

// MountCount returns the number of Mount calls.
func (w *FakeWidget) MountCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.mounts)
}

// UnmountCount returns the number of Unmount calls.
func (w *FakeWidget) UnmountCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unmounts
}

// LastMount returns the options of the latest Mount call.
func (w *FakeWidget) LastMount() (orchestrator.MountOptions, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.mounts) == 0 {
		return orchestrator.MountOptions{}, false
	}
	return w.mounts[len(w.mounts)-1], true
}

// Sink returns the event sink of the latest mount, or nil.
func (w *FakeWidget) Sink() orchestrator.EventSink {
	opts, ok := w.LastMount()
	if !ok {
		return nil
	}
	return opts.Sink
}

var (
	_ orchestrator.Surface = (*FakeSurface)(nil)
	_ orchestrator.Widget  = (*FakeWidget)(nil)
)
