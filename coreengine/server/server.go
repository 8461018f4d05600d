// Package server provides the HTTP relay between the browser and the
// liveness orchestrator.
//
// The browser shim posts the hosting page's INIT message, forwards the
// capture widget's events and text, and re-posts the outbound bridge
// messages it receives over a server-sent-events stream to the parent
// window. Each INIT starts one run, identified by a generated run id.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeeves-cluster-organization/livenessflow/commbus"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/identity"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/localizer"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/watchdog"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// sseBuffer is the per-stream message buffer. A run publishes at most two
// messages, so it never fills in practice.
const sseBuffer = 16

// Widget event types posted by the browser shim.
const (
	EventAnalysisComplete = "ANALYSIS_COMPLETE"
	EventUserCancel       = "USER_CANCEL"
	EventError            = "ERROR"
	EventInteraction      = "INTERACTION"
)

// =============================================================================
// Configuration
// =============================================================================

// Options are the per-run settings applied to every orchestrator.
type Options struct {
	IdentityPoolID  string
	InactivityDelay time.Duration
	CountdownBudget int
	Tick            time.Duration
	Rules           []localizer.Rule
	Gateway         commbus.GatewayConfig
}

// Deps are the shared collaborators. Backend is required.
type Deps struct {
	Backend  orchestrator.Backend
	Identity orchestrator.IdentityConfigurer
	Clock    watchdog.Clock
	Logger   observability.Logger
}

// =============================================================================
// Wire types
// =============================================================================

// InitResponse answers an accepted INIT.
type InitResponse struct {
	RunID     string            `json:"runId"`
	SessionID string            `json:"sessionId"`
	Region    string            `json:"region"`
	Identity  identity.Settings `json:"identity"`
}

// WidgetEvent is a capture widget signal forwarded by the shim.
type WidgetEvent struct {
	Type   string          `json:"type"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// TextReport carries the widget's current text nodes.
type TextReport struct {
	Texts []string `json:"texts"`
}

// StartError is returned when a run was created but failed to start.
type StartError struct {
	RunID string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP relay.
type Server struct {
	opts     Options
	backend  orchestrator.Backend
	identity orchestrator.IdentityConfigurer
	clock    watchdog.Clock
	logger   observability.Logger
	gateway  *commbus.Gateway
	registry *Registry
	handler  http.Handler
}

// New creates the relay and registers its INIT handler.
func New(opts Options, deps Deps) (*Server, error) {
	if deps.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if deps.Clock == nil {
		deps.Clock = watchdog.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger{}
	}

	s := &Server{
		opts:     opts,
		backend:  deps.Backend,
		identity: deps.Identity,
		clock:    deps.Clock,
		logger:   deps.Logger,
		gateway:  commbus.NewGateway(opts.Gateway, deps.Logger),
		registry: NewRegistry(),
	}
	if err := s.gateway.OnInit(s.startRun); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /bridge/init", s.handleInit)
	mux.HandleFunc("GET /bridge/{runId}", s.handleSnapshot)
	mux.HandleFunc("GET /bridge/{runId}/events", s.handleEvents)
	mux.HandleFunc("DELETE /bridge/{runId}", s.handleDelete)
	mux.HandleFunc("POST /widget/{runId}/events", s.handleWidgetEvent)
	mux.HandleFunc("POST /widget/{runId}/text", s.handleText)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = Chain(mux,
		RecoveryMiddleware(deps.Logger),
		LoggingMiddleware(deps.Logger),
		s.corsMiddleware,
	)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the run registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Close tears down every run.
func (s *Server) Close() {
	s.registry.CloseAll()
}

// startRun handles an accepted INIT: it creates, registers and starts a run.
func (s *Server) startRun(ctx context.Context, init *commbus.Init) (any, error) {
	if err := checkTokenExpiry(init.Token, s.clock.Now()); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	bridge := commbus.NewBridge(s.logger)
	widget := NewRemoteWidget()

	orch, err := orchestrator.New(orchestrator.Config{
		RunID:           runID,
		IdentityPoolID:  s.opts.IdentityPoolID,
		InactivityDelay: s.opts.InactivityDelay,
		CountdownBudget: s.opts.CountdownBudget,
		Tick:            s.opts.Tick,
		Rules:           s.opts.Rules,
	}, orchestrator.Deps{
		Backend:  s.backend,
		Widget:   widget,
		Bridge:   bridge,
		Identity: s.identity,
		Clock:    s.clock,
		Logger:   s.logger,
	}, s.callbacks(runID), orchestrator.Hooks{})
	if err != nil {
		return nil, err
	}

	s.registry.Add(&Run{
		ID:           runID,
		Orchestrator: orch,
		Bridge:       bridge,
		Widget:       widget,
		CreatedAt:    s.clock.Now(),
	})

	if err := orch.Start(ctx, orchestrator.StartRequest{Token: init.Token, SubjectID: init.SubjectID}); err != nil {
		return nil, &StartError{RunID: runID, Err: err}
	}

	mounted := widget.Options()
	return &InitResponse{
		RunID:     runID,
		SessionID: mounted.SessionID,
		Region:    mounted.Region,
		Identity:  mounted.Identity,
	}, nil
}

// callbacks log the outcome; the page learns it from the bridge stream.
func (s *Server) callbacks(runID string) orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnSuccess: func(v liveness.Verdict) {
			s.logger.Info("run_approved", "run_id", runID, "summary", v.Summary())
		},
		OnFailed: func(v liveness.Verdict) {
			s.logger.Info("run_rejected", "run_id", runID, "summary", v.Summary())
		},
		OnError: func(cause error) {
			s.logger.Warn("run_failed", "run_id", runID, "error", cause.Error())
		},
		OnCancel: func() {
			s.logger.Info("run_cancelled", "run_id", runID)
		},
	}
}

// =============================================================================
// Bridge routes
// =============================================================================

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.gateway.Deliver(r.Context(), raw, r.Header.Get("Origin"))
	if err != nil {
		var startErr *StartError
		if errors.As(err, &startErr) {
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error": startErr.Err.Error(),
				"runId": startErr.RunID,
			})
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Orchestrator.Snapshot())
}

// handleEvents streams the run's outbound bridge messages, starting with the
// backlog, until a terminal message was sent or the run is done.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	msgs := make(chan commbus.Message, sseBuffer)
	unsubscribe := run.Bridge.Subscribe(func(_ context.Context, msg commbus.Message) {
		select {
		case msgs <- msg:
		default:
			s.logger.Warn("sse_message_dropped", "run_id", run.ID, "type", commbus.GetMessageType(msg))
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(msg commbus.Message) (more bool) {
		if err := writeEvent(w, msg); err != nil {
			s.logger.Debug("sse_write_failed", "run_id", run.ID, "error", err.Error())
			return false
		}
		flusher.Flush()
		return commbus.GetMessageType(msg) == commbus.TypeReady
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-msgs:
			if !send(msg) {
				return
			}
		case <-run.Orchestrator.Done():
			for {
				select {
				case msg := <-msgs:
					if !send(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func writeEvent(w io.Writer, msg commbus.Message) error {
	data, err := commbus.Encode(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", commbus.GetMessageType(msg), data)
	return err
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Remove(r.PathValue("runId")) {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Widget routes
// =============================================================================

func (s *Server) handleWidgetEvent(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var event WidgetEvent
	if err := decodeBody(w, r, &event); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sink, err := run.Widget.Sink()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	switch event.Type {
	case EventAnalysisComplete:
		sink.AnalysisComplete()
	case EventUserCancel:
		sink.UserCancel()
	case EventError:
		var detail any
		if len(event.Detail) > 0 {
			if err := json.Unmarshal(event.Detail, &detail); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("decode detail: %w", err))
				return
			}
		}
		sink.Error(detail)
	case EventInteraction:
		surface, err := run.Widget.Surface()
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		surface.Interact()
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown widget event %q", event.Type))
		return
	}

	writeJSON(w, http.StatusOK, run.Orchestrator.Snapshot())
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var report TextReport
	if err := decodeBody(w, r, &report); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	surface, err := run.Widget.Surface()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, TextReport{Texts: surface.Report(report.Texts)})
}

// =============================================================================
// Health
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.gateway.Accepting() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "starting",
			"runs":   s.registry.Len(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.registry.Len(),
	})
}

// =============================================================================
// Helpers
// =============================================================================

// corsMiddleware lets allow-listed page origins call the relay.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.gateway.Allows(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Run, bool) {
	run, ok := s.registry.Get(r.PathValue("runId"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
	}
	return run, ok
}

// statusFor maps a bridge or start error onto an HTTP status.
func statusFor(err error) int {
	var (
		originErr   *commbus.OriginRejectedError
		throttleErr *commbus.ThrottledError
		decodeErr   *commbus.DecodeError
		timeoutErr  *commbus.QueryTimeoutError
	)
	switch {
	case errors.As(err, &originErr):
		return http.StatusForbidden
	case errors.As(err, &throttleErr):
		return http.StatusTooManyRequests
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
