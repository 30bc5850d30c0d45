package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrforge.dev/apperr"
	"ocrforge.dev/security"
)

func TestJWTValidatorAcceptsValidToken(t *testing.T) {
	svc := security.NewJWTService("test-secret")
	token, err := svc.GenerateToken("user-42", time.Hour)
	require.NoError(t, err)

	validator := NewJWTValidator(svc, "internal")
	id, err := validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.UserID)
	assert.Equal(t, "internal", id.AuthProvider)
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	svc := security.NewJWTService("test-secret")
	token, err := svc.GenerateToken("user-42", -time.Minute)
	require.NoError(t, err)

	validator := NewJWTValidator(svc, "internal")
	_, err = validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Unauthenticated))
}

func TestJWTValidatorRejectsBadSignature(t *testing.T) {
	svc := security.NewJWTService("test-secret")
	other := security.NewJWTService("other-secret")
	token, err := other.GenerateToken("user-1", time.Hour)
	require.NoError(t, err)

	validator := NewJWTValidator(svc, "internal")
	_, err = validator.Validate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Unauthenticated))
}

func TestStaticTokenValidator(t *testing.T) {
	validator := NewStaticTokenValidator(map[string]Identity{
		"tok-a": {UserID: "user-a", AuthProvider: "test"},
	})
	id, err := validator.Validate(context.Background(), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, "user-a", id.UserID)

	_, err = validator.Validate(context.Background(), "unknown")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Unauthenticated))
}
