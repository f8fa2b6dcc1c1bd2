package oauth_service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"calendar_helper_bot/internal/pkg/session/domain"
)

const (
	DefaultStateTTL            = 10 * time.Minute
	defaultMaxExchangeAttempts = 3
	defaultRetryBackoff        = 300 * time.Millisecond
)

type Options struct {
	StateTTL            time.Duration
	MaxExchangeAttempts int
	RetryBackoff        time.Duration
	// HTTPClient используется для обращений к token endpoint и API
	HTTPClient *http.Client
	Now        func() time.Time
}

type OAuthService struct {
	config   *oauth2.Config
	storage  Storage
	client   *http.Client
	locks    *keyedMutex
	stateTTL time.Duration
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

func NewOAuthService(config *oauth2.Config, storage Storage, opts Options) *OAuthService {
	s := &OAuthService{
		config:   config,
		storage:  storage,
		client:   opts.HTTPClient,
		locks:    newKeyedMutex(),
		stateTTL: opts.StateTTL,
		attempts: opts.MaxExchangeAttempts,
		backoff:  opts.RetryBackoff,
		now:      opts.Now,
	}
	if s.stateTTL <= 0 {
		s.stateTTL = DefaultStateTTL
	}
	if s.attempts <= 0 {
		s.attempts = defaultMaxExchangeAttempts
	}
	if s.backoff <= 0 {
		s.backoff = defaultRetryBackoff
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Begin создает новый state для сессии и возвращает ссылку на страницу согласия Google.
// Предыдущий state этой сессии перестает приниматься.
func (s *OAuthService) Begin(ctx context.Context, sessionID int64) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	state, err := GenerateState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	now := s.now()
	err = s.storage.SavePendingState(sessionID, &domain.PendingState{
		SessionID: sessionID,
		Token:     state,
		Verifier:  verifier,
		CreatedAt: now,
		ExpiresAt: now.Add(s.stateTTL),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to save state: %w", err)
	}

	authURL := s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	log.Info().Int64("session_id", sessionID).Msg("authorization started")
	return authURL, state, nil
}

// Complete проверяет state и обменивает код на токены
func (s *OAuthService) Complete(ctx context.Context, sessionID int64, returnedState, code string) (*domain.CredentialBundle, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	pending, err := s.storage.GetPendingState(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if pending == nil {
		return nil, fmt.Errorf("%w: no pending authorization", ErrStateMismatch)
	}
	if returnedState == "" || subtle.ConstantTimeCompare([]byte(returnedState), []byte(pending.Token)) != 1 {
		return nil, fmt.Errorf("%w: unexpected state", ErrStateMismatch)
	}
	if pending.IsExpired(s.now()) {
		if err := s.storage.DeletePendingState(sessionID); err != nil {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("failed to delete expired state")
		}
		return nil, fmt.Errorf("%w: state expired", ErrStateMismatch)
	}

	token, err := s.exchange(ctx, code, pending.Verifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	creds := s.bundleFromToken(token)
	if err := s.storage.SaveCredentials(sessionID, creds); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	if err := s.storage.DeletePendingState(sessionID); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("failed to delete used state")
	}

	log.Info().Int64("session_id", sessionID).Strs("scopes", creds.Scopes).Msg("authorization completed")
	return creds, nil
}

// CompleteCallback находит сессию по state из callback и завершает авторизацию
func (s *OAuthService) CompleteCallback(ctx context.Context, returnedState, code string) (int64, *domain.CredentialBundle, error) {
	if returnedState == "" {
		return 0, nil, fmt.Errorf("%w: state is missing", ErrStateMismatch)
	}

	sessionID, err := s.storage.GetSessionIDByState(returnedState)
	if errors.Is(err, domain.ErrStateNotFound) {
		return 0, nil, fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to resolve state: %w", err)
	}

	creds, err := s.Complete(ctx, sessionID, returnedState, code)
	return sessionID, creds, err
}

// Get возвращает сохраненные учётные данные или nil
func (s *OAuthService) Get(sessionID int64) (*domain.CredentialBundle, error) {
	return s.storage.GetCredentials(sessionID)
}

func (s *OAuthService) Logout(sessionID int64) error {
	return s.storage.DeleteCredentials(sessionID)
}

// HTTPClient возвращает клиент, подписывающий запросы токеном пользователя.
// Обновленные токены сохраняются обратно в хранилище.
func (s *OAuthService) HTTPClient(ctx context.Context, sessionID int64) (*http.Client, error) {
	creds, err := s.storage.GetCredentials(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || creds.AccessToken == "" {
		return nil, ErrNotAuthorized
	}

	ctx = s.clientContext(ctx)
	source := &persistingTokenSource{
		base:      s.config.TokenSource(ctx, tokenFromBundle(creds)),
		creds:     creds,
		sessionID: sessionID,
		storage:   s.storage,
	}
	return oauth2.NewClient(ctx, source), nil
}

func (s *OAuthService) exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx = s.clientContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		token, err := s.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err == nil {
			return token, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isTransient(err) || attempt == s.attempts {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("token exchange failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (s *OAuthService) clientContext(ctx context.Context) context.Context {
	if s.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

func (s *OAuthService) bundleFromToken(token *oauth2.Token) *domain.CredentialBundle {
	scopes := s.config.Scopes
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}

	return &domain.CredentialBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenURI:     s.config.Endpoint.TokenURL,
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		Scopes:       append([]string(nil), scopes...),
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
}

func tokenFromBundle(creds *domain.CredentialBundle) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.Expiry,
	}
}

// isTransient сетевые ошибки, 5xx и 429 от token endpoint
func isTransient(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response == nil {
			return false
		}
		code := retrieveErr.Response.StatusCode
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func GenerateState() (string, error) {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
