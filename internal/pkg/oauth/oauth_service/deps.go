package oauth_service

import (
	"calendar_helper_bot/internal/pkg/session/domain"
)

type Storage interface {
	// Методы для работы с учётными данными
	SaveCredentials(sessionID int64, creds *domain.CredentialBundle) error
	GetCredentials(sessionID int64) (*domain.CredentialBundle, error)
	DeleteCredentials(sessionID int64) error

	// Методы для работы с OAuth состояниями
	SavePendingState(sessionID int64, state *domain.PendingState) error
	GetPendingState(sessionID int64) (*domain.PendingState, error)
	GetSessionIDByState(state string) (int64, error)
	DeletePendingState(sessionID int64) error
	CleanupExpiredStates() error
}
