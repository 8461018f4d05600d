package server

import (
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/livenessflow/commbus"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
)

// Run is one orchestration run served by the relay.
type Run struct {
	ID           string
	Orchestrator *orchestrator.Orchestrator
	Bridge       *commbus.Bridge
	Widget       *RemoteWidget
	CreatedAt    time.Time
}

// Finished reports whether the run has ended or was closed.
func (r *Run) Finished() bool {
	select {
	case <-r.Orchestrator.Done():
		return true
	default:
		return false
	}
}

// lastActivity is the end time of a finished run, else its creation time.
func (r *Run) lastActivity() time.Time {
	if ended := r.Orchestrator.Snapshot().Session.EndedAt; !ended.IsZero() {
		return ended
	}
	return r.CreatedAt
}

// close tears the run down.
func (r *Run) close() {
	r.Orchestrator.Close()
	r.Bridge.Close()
}

// Registry holds the active runs by id.
type Registry struct {
	runs map[string]*Run
	mu   sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Add registers a run.
func (r *Registry) Add(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
}

// Get returns a run by id.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// Remove unregisters and closes a run. Returns false if it was unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	run, ok := r.runs[id]
	delete(r.runs, id)
	r.mu.Unlock()

	if ok {
		run.close()
	}
	return ok
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// IDs returns the registered run ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupStale closes and removes runs whose last activity is older than
// retention: finished runs after they ended, abandoned runs after they were
// created. Returns the number removed.
func (r *Registry) CleanupStale(now time.Time, retention time.Duration) int {
	r.mu.Lock()
	var stale []*Run
	for id, run := range r.runs {
		if now.Sub(run.lastActivity()) > retention {
			stale = append(stale, run)
			delete(r.runs, id)
		}
	}
	r.mu.Unlock()

	for _, run := range stale {
		run.close()
	}
	return len(stale)
}

// CloseAll closes and removes every run.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	runs := r.runs
	r.runs = make(map[string]*Run)
	r.mu.Unlock()

	for _, run := range runs {
		run.close()
	}
}
