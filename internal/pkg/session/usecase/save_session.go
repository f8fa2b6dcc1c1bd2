package usecase

import "calendar_helper_bot/internal/pkg/session/domain"

func (m *MemoryStorage) SaveCredentials(sessionID int64, creds *domain.CredentialBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stored := copyBundle(creds)
	if session, exists := m.sessions[sessionID]; exists {
		session.Credentials = stored
		session.UpdatedAt = now
		return nil
	}
	m.sessions[sessionID] = &domain.UserSession{
		SessionID:   sessionID,
		Credentials: stored,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func copyBundle(creds *domain.CredentialBundle) *domain.CredentialBundle {
	cp := *creds
	cp.Scopes = append([]string(nil), creds.Scopes...)
	return &cp
}
