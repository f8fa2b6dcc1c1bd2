package usecase

func (m *MemoryStorage) DeleteCredentials(sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
