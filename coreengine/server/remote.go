package server

import (
	"context"
	"errors"
	"sync"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
)

// ErrNotMounted is returned for widget traffic before mount or after unmount.
var ErrNotMounted = errors.New("widget not mounted")

// =============================================================================
// Remote Surface
// =============================================================================

// remoteText is one text node mirrored from the browser.
type remoteText struct {
	surface *RemoteSurface
	text    string
}

func (n *remoteText) Text() string {
	n.surface.mu.Lock()
	defer n.surface.mu.Unlock()
	return n.text
}

func (n *remoteText) SetText(text string) {
	n.surface.mu.Lock()
	changed := n.text != text
	n.text = text
	n.surface.mu.Unlock()

	if changed {
		n.surface.notify(kindMutation)
	}
}

type observerKind int

const (
	kindMutation observerKind = iota
	kindInteraction
)

// RemoteSurface mirrors the widget's text nodes as reported by the browser
// shim. Every report replaces the node list and counts as a subtree
// mutation, so an attached localizer rewrites the texts before the report
// is answered.
type RemoteSurface struct {
	nodes     []*remoteText
	observers map[observerKind]map[int]func()
	nextID    int
	mu        sync.Mutex

	// reportMu serializes reports so each one is answered after the
	// localizer has finished with its own nodes.
	reportMu sync.Mutex
}

// NewRemoteSurface creates an empty surface.
func NewRemoteSurface() *RemoteSurface {
	return &RemoteSurface{
		observers: map[observerKind]map[int]func(){
			kindMutation:    {},
			kindInteraction: {},
		},
	}
}

// TextNodes implements localizer.Tree.
func (s *RemoteSurface) TextNodes() []localizer.TextNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]localizer.TextNode, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n
	}
	return out
}

// Observe implements localizer.Observer.
func (s *RemoteSurface) Observe(fn func()) func() {
	return s.register(kindMutation, fn)
}

// ObserveInteraction implements orchestrator.Surface.
func (s *RemoteSurface) ObserveInteraction(fn func()) func() {
	return s.register(kindInteraction, fn)
}

// Report replaces the mirrored texts, notifies mutation observers and
// returns the texts as they stand afterwards.
func (s *RemoteSurface) Report(texts []string) []string {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	s.mu.Lock()
	s.nodes = make([]*remoteText, len(texts))
	for i, text := range texts {
		s.nodes[i] = &remoteText{surface: s, text: text}
	}
	s.mu.Unlock()

	s.notify(kindMutation)
	return s.Texts()
}

// Texts returns the current texts.
func (s *RemoteSurface) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.text
	}
	return out
}

// Interact notifies interaction observers.
func (s *RemoteSurface) Interact() {
	s.notify(kindInteraction)
}

func (s *RemoteSurface) register(kind observerKind, fn func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers[kind][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers[kind], id)
		s.mu.Unlock()
	}
}

func (s *RemoteSurface) notify(kind observerKind) {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.observers[kind]))
	for _, fn := range s.observers[kind] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// =============================================================================
// Remote Widget
// =============================================================================

// RemoteWidget is the capture widget running in the browser. Mounting only
// records the options; the shim learns them from the INIT response and
// reports back through the widget routes.
type RemoteWidget struct {
	surface *RemoteSurface
	opts    orchestrator.MountOptions
	mounted bool
	mu      sync.Mutex
}

// NewRemoteWidget creates an unmounted widget.
func NewRemoteWidget() *RemoteWidget {
	return &RemoteWidget{surface: NewRemoteSurface()}
}

// Mount implements orchestrator.Widget.
func (w *RemoteWidget) Mount(ctx context.Context, opts orchestrator.MountOptions) (orchestrator.Surface, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.opts = opts
	w.mounted = true
	return w.surface, nil
}

// Unmount implements orchestrator.Widget.
func (w *RemoteWidget) Unmount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mounted = false
}

// Mounted reports whether the widget is mounted.
func (w *RemoteWidget) Mounted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mounted
}

// Options returns the mount options.
func (w *RemoteWidget) Options() orchestrator.MountOptions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts
}

// Sink returns the event sink while mounted.
func (w *RemoteWidget) Sink() (orchestrator.EventSink, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.mounted || w.opts.Sink == nil {
		return nil, ErrNotMounted
	}
	return w.opts.Sink, nil
}

// Surface returns the surface while mounted.
func (w *RemoteWidget) Surface() (*RemoteSurface, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.mounted {
		return nil, ErrNotMounted
	}
	return w.surface, nil
}

var (
	_ orchestrator.Widget  = (*RemoteWidget)(nil)
	_ orchestrator.Surface = (*RemoteSurface)(nil)
)
