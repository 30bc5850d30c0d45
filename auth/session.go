// Package auth implements the session-identity capability from SPEC_FULL
// §6: bearer tokens are opaque JWTs minted by an upstream identity service;
// this package only verifies and decodes them.
package auth

import (
	"context"
	"fmt"

	"ocrforge.dev/apperr"
	"ocrforge.dev/security"
)

// Identity is what a SessionValidator extracts from a bearer token.
type Identity struct {
	UserID       string
	AuthProvider string
}

// SessionValidator verifies an opaque bearer token and returns the caller's
// identity, or an apperr.Unauthenticated error.
type SessionValidator interface {
	Validate(ctx context.Context, bearerToken string) (Identity, error)
}

// JWTValidator validates HS256 JWTs via security.JWTService.
type JWTValidator struct {
	jwtService *security.JWTService
	provider   string
}

// NewJWTValidator wraps an existing JWTService. provider is stamped onto
// every returned Identity (this deployment's upstream identity provider
// name, e.g. "internal").
func NewJWTValidator(jwtService *security.JWTService, provider string) *JWTValidator {
	return &JWTValidator{jwtService: jwtService, provider: provider}
}

// Validate parses and verifies bearerToken, returning the subject claim as
// UserID.
func (v *JWTValidator) Validate(ctx context.Context, bearerToken string) (Identity, error) {
	token, err := v.jwtService.ValidateToken(bearerToken)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.Unauthenticated, "invalid_token", err)
	}
	if token.Subject() == "" {
		return Identity{}, apperr.New(apperr.Unauthenticated, "missing_subject")
	}
	return Identity{UserID: token.Subject(), AuthProvider: v.provider}, nil
}

// StaticTokenValidator is a test double that maps fixed token strings to
// identities, used in unit tests that don't want to mint real JWTs.
type StaticTokenValidator struct {
	Tokens map[string]Identity
}

// NewStaticTokenValidator builds a StaticTokenValidator over the given map.
func NewStaticTokenValidator(tokens map[string]Identity) *StaticTokenValidator {
	return &StaticTokenValidator{Tokens: tokens}
}

// Validate looks up bearerToken in the fixed map.
func (v *StaticTokenValidator) Validate(_ context.Context, bearerToken string) (Identity, error) {
	id, ok := v.Tokens[bearerToken]
	if !ok {
		return Identity{}, apperr.New(apperr.Unauthenticated, fmt.Sprintf("unknown_token:%s", bearerToken))
	}
	return id, nil
}
