package oauth_service

import "errors"

var (
	ErrStateMismatch = errors.New("state mismatch")
	ErrTokenExchange = errors.New("token exchange failed")
	ErrNotAuthorized = errors.New("not authorized")
)
