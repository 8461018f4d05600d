package testutil

import (
	"context"
	"sync"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
)

// =============================================================================
// MOCK BACKEND
// =============================================================================

// MockBackend implements orchestrator.Backend.
type MockBackend struct {
	// Session is returned by CreateSession.
	Session liveness.SessionInfo
	// CreateErr makes CreateSession fail.
	CreateErr error

	// Verdict is returned by GetResult.
	Verdict liveness.Verdict
	// ResultErr makes GetResult fail.
	ResultErr error

	// ResultGate, when set, blocks GetResult until it is closed or the
	// context is cancelled.
	ResultGate chan struct{}
	// ResultEntered receives a value whenever GetResult starts.
	ResultEntered chan struct{}

	createCalls int
	resultCalls int
	lastToken   string
	lastSubject string
	mu          sync.Mutex
}

// NewMockBackend creates a backend answering with sessionID and verdict.
func NewMockBackend(sessionID string, verdict liveness.Verdict) *MockBackend {
	return &MockBackend{
		Session:       liveness.SessionInfo{SessionID: sessionID, Region: "us-east-1"},
		Verdict:       verdict,
		ResultEntered: make(chan struct{}, 16),
	}
}

// CreateSession implements orchestrator.Backend.
func (m *MockBackend) CreateSession(ctx context.Context, token string) (liveness.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	m.lastToken = token
	if m.CreateErr != nil {
		return liveness.SessionInfo{}, m.CreateErr
	}
	return m.Session, nil
}

// GetResult implements orchestrator.Backend.
func (m *MockBackend) GetResult(ctx context.Context, token, sessionID, subjectID string) (liveness.Verdict, error) {
	m.mu.Lock()
	m.resultCalls++
	m.lastToken = token
	m.lastSubject = subjectID
	gate := m.ResultGate
	verdict, err := m.Verdict, m.ResultErr
	m.mu.Unlock()

	select {
	case m.ResultEntered <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return liveness.Verdict{}, ctx.Err()
		}
	}
	if err != nil {
		return liveness.Verdict{}, err
	}
	return verdict, nil
}

// CreateCalls returns the number of CreateSession calls.
func (m *MockBackend) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// ResultCalls returns the number of GetResult calls.
func (m *MockBackend) ResultCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultCalls
}

// LastToken returns the token of the latest call.
func (m *MockBackend) LastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastToken
}

// LastSubject returns the subject id of the latest GetResult call.
func (m *MockBackend) LastSubject() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSubject
}

var _ orchestrator.Backend = (*MockBackend)(nil)
