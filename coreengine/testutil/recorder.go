package testutil

import (
	"fmt"
	"sync"

	"github.com/jeeves-cluster-organization/livenessflow/commbus"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
)

// Callback names recorded by CallbackRecorder.
const (
	CallbackSuccess = "success"
	CallbackFailed  = "failed"
	CallbackError   = "error"
	CallbackCancel  = "cancel"
)

// =============================================================================
// CALLBACK RECORDER
// =============================================================================

// CallbackRecorder records caller callbacks and hooks.
type CallbackRecorder struct {
	calls       []string
	verdicts    []liveness.Verdict
	errs        []error
	warnings    int
	ticks       []int
	transitions []string
	mu          sync.Mutex
}

// NewCallbackRecorder creates an empty recorder.
func NewCallbackRecorder() *CallbackRecorder {
	return &CallbackRecorder{}
}

// Callbacks returns callbacks that record into r.
func (r *CallbackRecorder) Callbacks() orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnSuccess: func(v liveness.Verdict) { r.record(CallbackSuccess, &v, nil) },
		OnFailed:  func(v liveness.Verdict) { r.record(CallbackFailed, &v, nil) },
		OnError:   func(err error) { r.record(CallbackError, nil, err) },
		OnCancel:  func() { r.record(CallbackCancel, nil, nil) },
	}
}

// Hooks returns hooks that record into r.
func (r *CallbackRecorder) Hooks() orchestrator.Hooks {
	return orchestrator.Hooks{
		OnInactivityWarning: func() {
			r.mu.Lock()
			r.warnings++
			r.mu.Unlock()
		},
		OnTick: func(remaining int) {
			r.mu.Lock()
			r.ticks = append(r.ticks, remaining)
			r.mu.Unlock()
		},
		OnStateChange: func(from, to liveness.State) {
			r.mu.Lock()
			r.transitions = append(r.transitions, fmt.Sprintf("%s->%s", from, to))
			r.mu.Unlock()
		},
	}
}

func (r *CallbackRecorder) record(name string, v *liveness.Verdict, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, name)
	if v != nil {
		r.verdicts = append(r.verdicts, *v)
	}
	if err != nil {
		r.errs = append(r.errs, err)
	}
}

// Calls returns the recorded callback names in order.
func (r *CallbackRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// LastVerdict returns the latest verdict passed to OnSuccess or OnFailed.
func (r *CallbackRecorder) LastVerdict() (liveness.Verdict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.verdicts) == 0 {
		return liveness.Verdict{}, false
	}
	return r.verdicts[len(r.verdicts)-1], true
}

// LastError returns the latest error passed to OnError.
func (r *CallbackRecorder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

// Warnings returns the number of inactivity warnings.
func (r *CallbackRecorder) Warnings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warnings
}

// Ticks returns the remaining values reported by the countdown.
func (r *CallbackRecorder) Ticks() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...)
}

// Transitions returns the recorded state changes as "from->to".
func (r *CallbackRecorder) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

// =============================================================================
// BRIDGE HELPERS
// =============================================================================

// MessageTypes returns the wire types of msgs.
func MessageTypes(msgs []commbus.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = commbus.GetMessageType(m)
	}
	return out
}
