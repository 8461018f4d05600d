// Package orchestrator runs one face-liveness check end to end.
//
// The Orchestrator:
//   - Creates the remote session and performs the one-time identity setup
//   - Mounts the capture widget and attaches the localizer to it
//   - Arms the inactivity warning and, after the first interaction, the
//     completion countdown
//   - Polls for the verdict once analysis completes
//   - Maps every ending onto exactly one Outcome, one bridge message (when
//     the outcome has one) and exactly one caller callback
//
// All entry points are safe for concurrent use. State lives behind a single
// mutex; network calls, bridge messages and callbacks run outside it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/livenessflow/commbus"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/classify"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/identity"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/watchdog"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the per-run settings.
type Config struct {
	// RunID identifies the run. Generated when empty.
	RunID string
	// IdentityPoolID is passed to the identity initializer, which may resolve
	// an empty one itself. Without an initializer the identity step is
	// skipped and the widget only receives the region.
	IdentityPoolID string
	// InactivityDelay defaults to watchdog.DefaultInactivityDelay.
	InactivityDelay time.Duration
	// CountdownBudget is the number of ticks; defaults to watchdog.DefaultCountdownBudget.
	CountdownBudget int
	// Tick defaults to watchdog.DefaultTick.
	Tick time.Duration
	// Rules are the localizer rules applied to the widget text.
	Rules []localizer.Rule
}

// Deps are the collaborators of a run. Backend and Widget are required.
type Deps struct {
	Backend  Backend
	Widget   Widget
	Bridge   Bridge
	Identity IdentityConfigurer
	Clock    watchdog.Clock
	Logger   observability.Logger
}

// StartRequest carries the INIT payload.
type StartRequest struct {
	Token     string
	SubjectID string
}

// Snapshot is the external representation of a run.
type Snapshot struct {
	Session  liveness.Session  `json:"session"`
	Watchdog watchdog.State    `json:"watchdog"`
	Identity identity.Settings `json:"identity"`
	Verdict  *liveness.Verdict `json:"verdict,omitempty"`
	Error    string            `json:"error,omitempty"`
	Polling  bool              `json:"polling"`
	Closed   bool              `json:"closed"`
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator drives a single liveness session.
type Orchestrator struct {
	cfg       Config
	backend   Backend
	widget    Widget
	bridge    Bridge
	identity  IdentityConfigurer
	clock     watchdog.Clock
	logger    observability.Logger
	callbacks Callbacks
	hooks     Hooks

	watchdogs *watchdog.Set
	localizer *localizer.Localizer

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	session   liveness.Session
	token     string
	settings  identity.Settings
	verdict   *liveness.Verdict
	cause     error
	started   bool
	polling   bool
	closed    bool
	mounted   bool
	unobserve func()
	span      oteltrace.Span
	mu        sync.Mutex
}

// New creates an orchestrator in the Idle state.
func New(cfg Config, deps Deps, callbacks Callbacks, hooks Hooks) (*Orchestrator, error) {
	if deps.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if deps.Widget == nil {
		return nil, errors.New("widget is required")
	}
	if deps.Clock == nil {
		deps.Clock = watchdog.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	o := &Orchestrator{
		cfg:       cfg,
		backend:   deps.Backend,
		widget:    deps.Widget,
		bridge:    deps.Bridge,
		identity:  deps.Identity,
		clock:     deps.Clock,
		logger:    deps.Logger,
		callbacks: callbacks,
		hooks:     hooks,
		done:      make(chan struct{}),
		session: liveness.Session{
			RunID:     cfg.RunID,
			State:     liveness.StateIdle,
			CreatedAt: deps.Clock.Now(),
		},
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.localizer = localizer.New(cfg.Rules, observability.RecordLocalizerRewrites)
	o.watchdogs = watchdog.NewSet(deps.Clock, cfg.InactivityDelay, cfg.CountdownBudget, cfg.Tick, watchdog.Hooks{
		OnInactivityWarning: o.onInactivityWarning,
		OnTick:              o.onTick,
		OnCountdownExpired:  o.onCountdownExpired,
	})
	return o, nil
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

// Done is closed once the run reached a terminal state and its callback
// returned, or when the orchestrator was closed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() liveness.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.State
}

// Outcome returns the terminal outcome, or OutcomeNone while running.
func (o *Orchestrator) Outcome() liveness.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Outcome
}

// Snapshot returns the current state of the run.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Session:  o.session,
		Watchdog: o.watchdogs.Snapshot(),
		Identity: o.settings,
		Polling:  o.polling,
		Closed:   o.closed,
	}
	if o.verdict != nil {
		v := *o.verdict
		snap.Verdict = &v
	}
	if o.cause != nil {
		snap.Error = o.cause.Error()
	}
	return snap
}

// =============================================================================
// Session creation
// =============================================================================

// Start creates the remote session and mounts the widget. It may be called
// once. A creation, identity or mount failure ends the run with UnknownError,
// is reported to OnError and is also returned.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.token = req.Token
	o.session.SubjectID = req.SubjectID

	_, span := observability.Tracer().Start(ctx, "liveness.run",
		oteltrace.WithAttributes(attribute.String("liveness.run_id", o.cfg.RunID)))
	o.span = span
	runCtx := oteltrace.ContextWithSpan(o.ctx, span)

	if err := o.transitionLocked(liveness.StateCreatingSession); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	observability.RecordSessionStarted()
	o.notifyStateChange(liveness.StateIdle, liveness.StateCreatingSession)
	o.logger.Info("session_creating", "run_id", o.cfg.RunID, "subject_id", req.SubjectID)

	if o.bridge != nil {
		if err := o.bridge.Open(runCtx); err != nil {
			o.logger.Warn("bridge_open_failed", "run_id", o.cfg.RunID, "error", err.Error())
		}
	}

	info, err := o.backend.CreateSession(runCtx, req.Token)
	if err != nil {
		return o.startFailed("create session", err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.session.State.IsTerminal() {
		o.mu.Unlock()
		return nil
	}
	o.session.SessionID = info.SessionID
	o.session.Region = info.RegionOrDefault()
	region := o.session.Region
	o.mu.Unlock()

	span.SetAttributes(attribute.String("liveness.session_id", info.SessionID))
	o.logger.Info("session_created", "run_id", o.cfg.RunID, "session_id", info.SessionID, "region", region)

	settings := identity.Settings{Region: region}
	if o.identity != nil {
		settings, err = o.identity.Configure(runCtx, o.cfg.IdentityPoolID, region)
		if err != nil {
			return o.startFailed("configure identity", err)
		}
	}

	surface, err := o.widget.Mount(runCtx, MountOptions{
		SessionID: info.SessionID,
		Region:    region,
		Identity:  settings,
		Sink:      sink{o: o},
	})
	if err != nil {
		return o.startFailed("mount widget", err)
	}

	o.mu.Lock()
	o.mounted = true
	if o.closed || o.session.State.IsTerminal() {
		closed := o.closed
		o.mu.Unlock()
		o.unmount()
		if closed {
			return ErrClosed
		}
		return nil
	}
	o.settings = settings
	if err := o.transitionLocked(liveness.StateAwaitingStart); err != nil {
		o.mu.Unlock()
		return err
	}
	o.watchdogs.Reset()
	o.mu.Unlock()
	o.notifyStateChange(liveness.StateCreatingSession, liveness.StateAwaitingStart)

	o.localizer.Attach(surface, surface)
	unobserve := surface.ObserveInteraction(o.Interaction)

	o.mu.Lock()
	if o.closed || o.session.State.IsTerminal() {
		o.mu.Unlock()
		unobserve()
		o.localizer.Detach()
		return nil
	}
	o.unobserve = unobserve
	o.mu.Unlock()

	o.logger.Info("widget_mounted", "run_id", o.cfg.RunID, "session_id", info.SessionID)
	return nil
}

// startFailed ends the run with UnknownError. The error callback receives
// cause as is; the returned error names the failed operation.
func (o *Orchestrator) startFailed(op string, cause error) error {
	o.logger.Error("session_start_failed", "run_id", o.cfg.RunID, "operation", op, "error", cause.Error())
	o.finish(terminal{outcome: liveness.OutcomeUnknownError, cause: cause})
	return fmt.Errorf("%s: %w", op, cause)
}

// =============================================================================
// Widget and timer signals
// =============================================================================

// Interaction records a user interaction with the widget. The first one
// cancels the inactivity warning and starts the completion countdown.
func (o *Orchestrator) Interaction() {
	o.mu.Lock()
	if o.closed || o.session.State != liveness.StateAwaitingStart {
		o.mu.Unlock()
		return
	}
	if !o.watchdogs.MarkInteracted() {
		o.mu.Unlock()
		return
	}
	if err := o.transitionLocked(liveness.StateChallengeActive); err != nil {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.logger.Debug("challenge_started", "run_id", o.cfg.RunID, "budget", o.watchdogs.Budget())
	o.notifyStateChange(liveness.StateAwaitingStart, liveness.StateChallengeActive)
}

// AnalysisComplete polls the backend for the verdict. Calls made while a
// poll is in flight, or outside AwaitingStart and ChallengeActive, are
// ignored.
func (o *Orchestrator) AnalysisComplete() {
	o.mu.Lock()
	from := o.session.State
	if o.closed || o.polling || (from != liveness.StateAwaitingStart && from != liveness.StateChallengeActive) {
		o.mu.Unlock()
		return
	}
	o.polling = true
	if err := o.transitionLocked(liveness.StatePolling); err != nil {
		o.polling = false
		o.mu.Unlock()
		return
	}
	o.watchdogs.Stop()
	token, sessionID, subjectID := o.token, o.session.SessionID, o.session.SubjectID
	ctx := o.ctx
	if o.span != nil {
		ctx = oteltrace.ContextWithSpan(ctx, o.span)
	}
	o.mu.Unlock()

	o.notifyStateChange(from, liveness.StatePolling)
	o.logger.Info("poll_started", "run_id", o.cfg.RunID, "session_id", sessionID)

	verdict, err := o.backend.GetResult(ctx, token, sessionID, subjectID)

	o.mu.Lock()
	o.polling = false
	discard := o.closed || o.session.State.IsTerminal()
	o.mu.Unlock()
	if discard {
		o.logger.Debug("poll_result_discarded", "run_id", o.cfg.RunID)
		return
	}

	if err != nil {
		o.logger.Error("poll_failed", "run_id", o.cfg.RunID, "session_id", sessionID, "operation", "get result", "error", err.Error())
		if isNetworkFailure(err) {
			o.finish(terminal{outcome: liveness.OutcomeNetworkError, cause: err, reportError: true})
			return
		}
		o.finish(terminal{outcome: liveness.OutcomeUnknownError, cause: err})
		return
	}

	verdict = verdict.Normalize()
	o.logger.Info("verdict_received",
		"run_id", o.cfg.RunID,
		"session_id", sessionID,
		"status", string(verdict.Status),
		"approved", verdict.Approved,
		"summary", verdict.Summary(),
	)
	o.finish(terminal{outcome: verdict.Outcome(), verdict: &verdict})
}

// UserCancel ends a non-terminal run with UserCancelled.
func (o *Orchestrator) UserCancel() {
	o.logger.Info("user_cancelled", "run_id", o.cfg.RunID)
	o.finish(terminal{outcome: liveness.OutcomeUserCancelled})
}

// WidgetError classifies a widget error. Expired, timeout and network
// errors end the run on the cancel path; anything else is forwarded to
// OnError unchanged. Errors outside the mounted states are ignored.
func (o *Orchestrator) WidgetError(detail any) {
	o.mu.Lock()
	accepts := !o.closed && o.session.State.AcceptsWidgetEvents()
	state := o.session.State
	o.mu.Unlock()
	if !accepts {
		o.logger.Debug("widget_error_ignored", "run_id", o.cfg.RunID, "state", string(state))
		return
	}

	outcome := classify.Classify(detail)
	o.logger.Warn("widget_error",
		"run_id", o.cfg.RunID,
		"outcome", string(outcome),
		"detail", classify.Describe(detail),
	)

	switch outcome {
	case liveness.OutcomeSessionExpired, liveness.OutcomeAnalysisTimeout, liveness.OutcomeNetworkError:
		o.finish(terminal{outcome: outcome})
	default:
		o.finish(terminal{outcome: liveness.OutcomeUnknownError, cause: classify.Cause(detail)})
	}
}

func (o *Orchestrator) onInactivityWarning() {
	o.mu.Lock()
	active := !o.closed && o.session.State == liveness.StateAwaitingStart
	o.mu.Unlock()
	if !active {
		return
	}

	observability.RecordInactivityWarning()
	o.logger.Info("inactivity_warning", "run_id", o.cfg.RunID)
	_ = safeInvoke(o.logger, "on_inactivity_warning", o.hooks.OnInactivityWarning)
}

func (o *Orchestrator) onTick(remaining int) {
	o.mu.Lock()
	active := !o.closed && o.session.State == liveness.StateChallengeActive
	o.mu.Unlock()
	if !active || o.hooks.OnTick == nil {
		return
	}
	_ = safeInvoke(o.logger, "on_tick", func() { o.hooks.OnTick(remaining) })
}

func (o *Orchestrator) onCountdownExpired() {
	o.mu.Lock()
	state := o.session.State
	active := !o.closed && (state == liveness.StateAwaitingStart || state == liveness.StateChallengeActive)
	o.mu.Unlock()
	if !active {
		return
	}

	o.logger.Info("analysis_timeout", "run_id", o.cfg.RunID)
	o.finish(terminal{outcome: liveness.OutcomeAnalysisTimeout})
}

// =============================================================================
// Teardown
// =============================================================================

// Close tears the run down: timers are cleared, the widget is unmounted and
// an in-flight poll is discarded. No callback runs after Close returns.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.watchdogs.Stop()
	unobserve := o.detachLocked()
	span := o.span
	o.span = nil
	state := o.session.State
	o.mu.Unlock()

	o.cancel()
	o.teardown(unobserve)
	if span != nil {
		span.End()
	}
	o.doneOnce.Do(func() { close(o.done) })
	o.logger.Debug("orchestrator_closed", "run_id", o.cfg.RunID, "state", string(state))
}

// terminal describes how a run ends.
type terminal struct {
	outcome liveness.Outcome
	verdict *liveness.Verdict
	cause   error
	// reportError routes a NetworkError to OnError instead of OnCancel.
	reportError bool
}

// finish moves the run to Terminal once. Later calls are no-ops.
func (o *Orchestrator) finish(t terminal) bool {
	o.mu.Lock()
	if o.closed || o.session.State.IsTerminal() {
		o.mu.Unlock()
		return false
	}
	from := o.session.State
	if err := o.transitionLocked(liveness.StateTerminal); err != nil {
		o.mu.Unlock()
		return false
	}
	o.session.Outcome = t.outcome
	o.session.EndedAt = o.clock.Now()
	o.verdict = t.verdict
	o.cause = t.cause
	o.watchdogs.Stop()
	unobserve := o.detachLocked()
	session := o.session
	span := o.span
	o.span = nil
	o.mu.Unlock()

	o.teardown(unobserve)
	o.notifyStateChange(from, liveness.StateTerminal)

	durationMS := int(session.EndedAt.Sub(session.CreatedAt).Milliseconds())
	observability.RecordSessionOutcome(string(t.outcome), durationMS)
	o.logger.Info("session_finished",
		"run_id", session.RunID,
		"session_id", session.SessionID,
		"outcome", string(t.outcome),
		"duration_ms", durationMS,
	)

	o.publish(t)
	o.deliver(t)

	if span != nil {
		span.SetAttributes(attribute.String("liveness.outcome", string(t.outcome)))
		if t.cause != nil {
			span.RecordError(t.cause)
			span.SetStatus(codes.Error, t.cause.Error())
		}
		span.End()
	}
	o.doneOnce.Do(func() { close(o.done) })
	return true
}

// detachLocked takes ownership of the mounted widget and observers.
func (o *Orchestrator) detachLocked() (unobserve func()) {
	unobserve = o.unobserve
	o.unobserve = nil
	return unobserve
}

func (o *Orchestrator) teardown(unobserve func()) {
	if unobserve != nil {
		unobserve()
	}
	o.localizer.Detach()
	o.unmount()
}

func (o *Orchestrator) unmount() {
	o.mu.Lock()
	mounted := o.mounted
	o.mounted = false
	o.mu.Unlock()
	if mounted {
		_ = safeInvoke(o.logger, "widget_unmount", o.widget.Unmount)
	}
}

// publish sends the outcome's bridge message, if it has one.
func (o *Orchestrator) publish(t terminal) {
	if o.bridge == nil {
		return
	}
	var verdict liveness.Verdict
	if t.verdict != nil {
		verdict = *t.verdict
	}
	msg := commbus.ForOutcome(t.outcome, verdict)
	if msg == nil {
		return
	}
	if err := o.bridge.Publish(o.ctx, msg); err != nil {
		o.logger.Warn("bridge_publish_failed", "run_id", o.cfg.RunID, "type", commbus.GetMessageType(msg), "error", err.Error())
	}
}

// deliver invokes exactly one caller callback for the outcome.
func (o *Orchestrator) deliver(t terminal) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}

	cb := o.callbacks
	cause := t.cause
	if cause == nil {
		cause = errors.New(string(t.outcome))
	}

	var name string
	var fn func()
	switch {
	case t.outcome.IsVerdict() && t.verdict != nil:
		verdict := *t.verdict
		if t.outcome == liveness.OutcomeApproved {
			if cb.OnSuccess != nil {
				name, fn = "on_success", func() { cb.OnSuccess(verdict) }
			}
		} else if cb.OnFailed != nil {
			name, fn = "on_failed", func() { cb.OnFailed(verdict) }
		}
	case t.outcome == liveness.OutcomeUnknownError,
		t.outcome == liveness.OutcomeNetworkError && t.reportError:
		if cb.OnError != nil {
			name, fn = "on_error", func() { cb.OnError(cause) }
		}
	default:
		if cb.OnCancel != nil {
			name, fn = "on_cancel", cb.OnCancel
		}
	}
	_ = safeInvoke(o.logger, name, fn)
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) transitionLocked(to liveness.State) error {
	if err := o.session.Transition(to); err != nil {
		o.logger.Warn("invalid_transition", "run_id", o.cfg.RunID, "error", err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) notifyStateChange(from, to liveness.State) {
	if o.hooks.OnStateChange == nil {
		return
	}
	_ = safeInvoke(o.logger, "on_state_change", func() { o.hooks.OnStateChange(from, to) })
}

// isNetworkFailure reports whether err is a transport-level failure.
func isNetworkFailure(err error) bool {
	var nf classify.NetworkFailure
	return errors.As(err, &nf) && nf.NetworkFailure()
}
