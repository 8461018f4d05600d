// Package liveness defines the domain types of a face-liveness run.
//
// Key concepts:
//   - State: orchestrator lifecycle (IDLE -> CREATING_SESSION -> ... -> TERMINAL)
//   - Outcome: the closed set of terminal categories, exactly one per session
//   - Verdict: the backend's immutable judgment for a completed session
package liveness

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRegion is used when the backend does not return a region.
const DefaultRegion = "us-east-1"

// =============================================================================
// Lifecycle States
// =============================================================================

// State represents the lifecycle state of an orchestration run.
// State transitions:
//
//	IDLE -> CREATING_SESSION -> AWAITING_START -> CHALLENGE_ACTIVE -> POLLING -> TERMINAL
//	any non-terminal state -> TERMINAL (cancel, expiry, network, unknown error)
type State string

const (
	// StateIdle indicates the run has not been started.
	StateIdle State = "idle"
	// StateCreatingSession indicates the create-session call is in flight.
	StateCreatingSession State = "creating_session"
	// StateAwaitingStart indicates the widget is visible but the user has not interacted.
	StateAwaitingStart State = "awaiting_start"
	// StateChallengeActive indicates the user started the challenge; the countdown runs.
	StateChallengeActive State = "challenge_active"
	// StatePolling indicates the get-result call is in flight.
	StatePolling State = "polling"
	// StateTerminal is absorbing.
	StateTerminal State = "terminal"
)

// IsTerminal returns true if this is the terminal state.
func (s State) IsTerminal() bool {
	return s == StateTerminal
}

// AcceptsWidgetEvents returns true once the widget has been mounted and
// until the run ends.
func (s State) AcceptsWidgetEvents() bool {
	return s == StateAwaitingStart || s == StateChallengeActive || s == StatePolling
}

// =============================================================================
// Outcome Categories
// =============================================================================

// Outcome is the normalized terminal category of a session.
type Outcome string

const (
	OutcomeNone              Outcome = ""
	OutcomeApproved          Outcome = "approved"
	OutcomeRejected          Outcome = "rejected"
	OutcomeUserCancelled     Outcome = "user_cancelled"
	OutcomeInactivityTimeout Outcome = "inactivity_timeout"
	OutcomeSessionExpired    Outcome = "session_expired"
	OutcomeAnalysisTimeout   Outcome = "analysis_timeout"
	OutcomeNetworkError      Outcome = "network_error"
	OutcomeUnknownError      Outcome = "unknown_error"
)

// AllOutcomes lists every terminal category.
var AllOutcomes = []Outcome{
	OutcomeApproved,
	OutcomeRejected,
	OutcomeUserCancelled,
	OutcomeInactivityTimeout,
	OutcomeSessionExpired,
	OutcomeAnalysisTimeout,
	OutcomeNetworkError,
	OutcomeUnknownError,
}

// IsVerdict returns true for outcomes backed by a backend verdict.
func (o Outcome) IsVerdict() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

// IsCancellation returns true for classified signals the host should treat
// like a cancel with a tailored retry affordance.
func (o Outcome) IsCancellation() bool {
	switch o {
	case OutcomeUserCancelled, OutcomeAnalysisTimeout, OutcomeSessionExpired, OutcomeNetworkError:
		return true
	default:
		return false
	}
}

// =============================================================================
// Verdict
// =============================================================================

// Status is the backend's status tag for a session.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
)

// Verdict is the backend's final judgment for a session.
// Approved is derived from Confidence and Threshold by NewVerdict or
// Normalize and is never changed afterwards.
type Verdict struct {
	SessionID  string  `json:"sessionId"`
	Status     Status  `json:"status"`
	Liveness   bool    `json:"liveness"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
	Approved   bool    `json:"approved"`
}

// NewVerdict builds a verdict and derives its approval flag.
func NewVerdict(sessionID string, status Status, liveness bool, confidence, threshold float64) Verdict {
	v := Verdict{
		SessionID:  sessionID,
		Status:     status,
		Liveness:   liveness,
		Confidence: confidence,
		Threshold:  threshold,
	}
	return v.Normalize()
}

// IsApproved reports whether confidence meets the threshold (inclusive).
func IsApproved(confidence, threshold float64) bool {
	return confidence >= threshold
}

// Normalize returns a copy with the status upper-cased and Approved
// recomputed from Confidence and Threshold. The backend's own approved
// flag is not trusted.
func (v Verdict) Normalize() Verdict {
	v.Status = Status(strings.ToUpper(strings.TrimSpace(string(v.Status))))
	v.Approved = IsApproved(v.Confidence, v.Threshold)
	return v
}

// Outcome maps the verdict onto Approved or Rejected.
func (v Verdict) Outcome() Outcome {
	if v.Approved {
		return OutcomeApproved
	}
	return OutcomeRejected
}

// Expired reports whether the backend marked the session as expired.
func (v Verdict) Expired() bool {
	return v.Status == StatusExpired
}

// Summary renders confidence and threshold the way the result view shows them.
func (v Verdict) Summary() string {
	return fmt.Sprintf("confidence %.2f%% | threshold %.2f%%", v.Confidence, v.Threshold)
}

// =============================================================================
// Session
// =============================================================================

// SessionInfo is the backend's answer to create-session.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Region    string `json:"region"`
}

// RegionOrDefault returns the region, falling back to DefaultRegion.
func (s SessionInfo) RegionOrDefault() string {
	if strings.TrimSpace(s.Region) == "" {
		return DefaultRegion
	}
	return s.Region
}

// Session is the orchestrator's view of a remote liveness session.
type Session struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	Region    string    `json:"region,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	State     State     `json:"state"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}
