package domain

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller extracted from a verified access token.
type Identity struct {
	UserID string
	Email  string
}

// Claims are the access token claims issued by the hosted auth provider.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Identity, error)
}

var (
	ErrMissingToken   = errors.New("missing_token")
	ErrInvalidToken   = errors.New("invalid_token")
	ErrMissingTokens  = errors.New("missing_tokens")
	ErrNotConfigured  = errors.New("auth_not_configured")
	ErrMissingSubject = errors.New("missing_subject")
)
