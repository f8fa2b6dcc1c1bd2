package usecase

import (
	"calendar_helper_bot/internal/pkg/session/domain"
)

func (m *MemoryStorage) SavePendingState(sessionID int64, state *domain.PendingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, exists := m.pending[sessionID]; exists {
		delete(m.stateToChat, prev.Token)
	}

	stored := *state
	stored.SessionID = sessionID
	m.pending[sessionID] = &stored
	m.stateToChat[state.Token] = sessionID
	return nil
}

func (m *MemoryStorage) GetPendingState(sessionID int64) (*domain.PendingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.pending[sessionID]
	if !exists {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (m *MemoryStorage) GetSessionIDByState(state string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, exists := m.stateToChat[state]
	if !exists {
		return 0, domain.ErrStateNotFound
	}
	return sessionID, nil
}

func (m *MemoryStorage) DeletePendingState(sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, exists := m.pending[sessionID]; exists {
		delete(m.stateToChat, state.Token)
		delete(m.pending, sessionID)
	}
	return nil
}

func (m *MemoryStorage) CleanupExpiredStates() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for sessionID, state := range m.pending {
		if state.IsExpired(now) {
			delete(m.stateToChat, state.Token)
			delete(m.pending, sessionID)
		}
	}
	return nil
}
