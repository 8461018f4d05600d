package orchestrator

import (
	"context"
	"errors"

	"github.com/jeeves-cluster-organization/livenessflow/commbus"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/identity"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
)

// Errors returned by Start.
var (
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrClosed         = errors.New("orchestrator closed")
)

// =============================================================================
// Collaborators
// =============================================================================

// Backend is the Backend Liveness Service.
type Backend interface {
	CreateSession(ctx context.Context, token string) (liveness.SessionInfo, error)
	GetResult(ctx context.Context, token, sessionID, subjectID string) (liveness.Verdict, error)
}

// IdentityConfigurer performs the one-time identity initialization.
type IdentityConfigurer interface {
	Configure(ctx context.Context, poolID, region string) (identity.Settings, error)
}

// EventSink receives the capture widget's signals.
type EventSink interface {
	AnalysisComplete()
	UserCancel()
	Error(detail any)
}

// Surface is the mounted widget as the orchestrator sees it: its text nodes,
// a subtree mutation observer and an interaction observer.
type Surface interface {
	localizer.Tree
	localizer.Observer
	// ObserveInteraction registers fn for user interactions inside the widget
	// (pointer, key or click) and returns the function that unregisters it.
	ObserveInteraction(fn func()) (unsubscribe func())
}

// MountOptions configures a widget mount.
type MountOptions struct {
	SessionID string
	Region    string
	Identity  identity.Settings
	Sink      EventSink
}

// Widget is the external capture widget.
type Widget interface {
	Mount(ctx context.Context, opts MountOptions) (Surface, error)
	Unmount()
}

// Bridge carries outbound messages to the hosting page.
type Bridge interface {
	Open(ctx context.Context) error
	Publish(ctx context.Context, msg commbus.Message) error
}

// =============================================================================
// Caller callbacks
// =============================================================================

// Callbacks are the caller's terminal callbacks. Exactly one of them runs per
// session, at most once. Any field may be nil.
type Callbacks struct {
	OnSuccess func(verdict liveness.Verdict)
	OnFailed  func(verdict liveness.Verdict)
	OnError   func(cause error)
	OnCancel  func()
}

// Hooks are optional non-terminal notifications.
type Hooks struct {
	// OnInactivityWarning runs when the user has not interacted in time.
	OnInactivityWarning func()
	// OnTick receives the remaining countdown seconds.
	OnTick func(remaining int)
	// OnStateChange runs after every state transition.
	OnStateChange func(from, to liveness.State)
}

// sink forwards widget signals to the orchestrator.
type sink struct {
	o *Orchestrator
}

func (s sink) AnalysisComplete() { s.o.AnalysisComplete() }
func (s sink) UserCancel()       { s.o.UserCancel() }
func (s sink) Error(detail any)  { s.o.WidgetError(detail) }

var _ EventSink = sink{}
