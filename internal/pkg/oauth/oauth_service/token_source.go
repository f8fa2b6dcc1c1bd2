package oauth_service

import (
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"calendar_helper_bot/internal/pkg/session/domain"
)

// persistingTokenSource сохраняет токен в хранилище после каждого обновления
type persistingTokenSource struct {
	base      oauth2.TokenSource
	sessionID int64
	storage   Storage

	mu    sync.Mutex
	creds *domain.CredentialBundle
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if token.AccessToken == p.creds.AccessToken {
		return token, nil
	}

	updated := *p.creds
	updated.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	if token.TokenType != "" {
		updated.TokenType = token.TokenType
	}
	updated.Expiry = token.Expiry

	if err := p.storage.SaveCredentials(p.sessionID, &updated); err != nil {
		log.Warn().Err(err).Int64("session_id", p.sessionID).Msg("failed to persist refreshed token")
		return token, nil
	}
	p.creds = &updated

	log.Debug().Int64("session_id", p.sessionID).Msg("refreshed token persisted")
	return token, nil
}
