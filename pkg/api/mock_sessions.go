package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/adfharrison1/go-reql/pkg/domain"
)

// MockSessionService provides a mock implementation of domain.SessionService for testing
type MockSessionService struct {
	mu       sync.Mutex
	sessions map[string]bool
	nextID   int

	// Reply and Err are returned by Submit.
	Reply []byte
	Err   error

	submitCalls []SubmitCall
}

// SubmitCall records the arguments of one Submit call
type SubmitCall struct {
	SessionID string
	Seq       uint64
	Frame     []byte
}

// NewMockSessionService creates a new mock session service
func NewMockSessionService() *MockSessionService {
	return &MockSessionService{
		sessions: make(map[string]bool),
	}
}

func (m *MockSessionService) OpenSession() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("session-%d", m.nextID)
	m.sessions[id] = true
	return id, nil
}

func (m *MockSessionService) Submit(ctx context.Context, sessionID string, seq uint64, frame []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sessions[sessionID] {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	m.submitCalls = append(m.submitCalls, SubmitCall{SessionID: sessionID, Seq: seq, Frame: frame})
	return m.Reply, m.Err
}

func (m *MockSessionService) CloseSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sessions[sessionID] {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MockSessionService) Stats() domain.ServerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ServerStats{Sessions: len(m.sessions)}
}

// GetSubmitCalls returns the recorded Submit calls
func (m *MockSessionService) GetSubmitCalls() []SubmitCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SubmitCall(nil), m.submitCalls...)
}
