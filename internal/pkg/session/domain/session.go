package domain

import "time"

// PendingState ожидающий callback запрос авторизации пользователя
type PendingState struct {
	SessionID int64
	Token     string
	Verifier  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (p *PendingState) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// CredentialBundle набор токенов, полученный после успешного обмена кода
type CredentialBundle struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

type UserSession struct {
	SessionID   int64
	Credentials *CredentialBundle
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
