package usecase

import "calendar_helper_bot/internal/pkg/session/domain"

func (m *MemoryStorage) GetCredentials(sessionID int64) (*domain.CredentialBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[sessionID]
	if !exists || session.Credentials == nil {
		return nil, nil
	}
	return copyBundle(session.Credentials), nil
}
