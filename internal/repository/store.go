package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatppt/internal/domain"
)

// ErrConflict is returned when a turn with the requested sequence already exists.
var ErrConflict = errors.New("repository: turn already appended")

var now = time.Now

func checkAppend(sessionID string, seq int, turn domain.Turn, state domain.State) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendTurn: session id is required")
	}
	if seq < 0 {
		return fmt.Errorf("repository: AppendTurn: negative seq %d", seq)
	}
	if turn.Role != domain.RoleUser && turn.Role != domain.RoleAssistant {
		return fmt.Errorf("repository: AppendTurn: invalid role %q", turn.Role)
	}
	if !state.Valid() {
		return fmt.Errorf("repository: AppendTurn: invalid state %q", state)
	}
	return nil
}

// MemoryStore is a process-local history store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

type memorySession struct {
	turns domain.History
	state domain.State
}

func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (m *MemoryStore) GetHistory(_ context.Context, sessionID string) (domain.History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return append(domain.History(nil), s.turns...), nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, sessionID string, seq int, turn domain.Turn, state domain.State) error {
	if err := checkAppend(sessionID, seq, turn, state); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &memorySession{}
		m.sessions[sessionID] = s
	}
	if seq != len(s.turns) {
		return fmt.Errorf("repository: AppendTurn %s seq %d: %w", sessionID, seq, ErrConflict)
	}
	s.turns = append(s.turns, turn)
	s.state = state
	return nil
}

func (m *MemoryStore) GetState(_ context.Context, sessionID string) (domain.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s.state, nil
	}
	return "", nil
}

func (m *MemoryStore) SetState(_ context.Context, sessionID string, state domain.State) error {
	if !state.Valid() {
		return fmt.Errorf("repository: SetState: invalid state %q", state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &memorySession{}
		m.sessions[sessionID] = s
	}
	s.state = state
	return nil
}
