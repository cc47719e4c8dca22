package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestService() *JWTService {
	return NewJWTService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestJWTService_AccessTokenRoundTrip(t *testing.T) {
	svc := newTestService()
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := svc.VerifyAccessToken(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestJWTService_RefreshTokenRoundTrip(t *testing.T) {
	svc := newTestService()
	userID := uuid.New()

	token, err := svc.GenerateRefreshToken(userID)
	assert.NoError(t, err)

	claims, err := svc.VerifyRefreshToken(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, TokenTypeRefresh, claims.TokenType)
}

func TestJWTService_TypeConfusionRejected(t *testing.T) {
	svc := newTestService()
	userID := uuid.New()

	accessToken, err := svc.GenerateAccessToken(userID)
	assert.NoError(t, err)
	refreshToken, err := svc.GenerateRefreshToken(userID)
	assert.NoError(t, err)

	// A refresh token can never pass as an access token and vice versa:
	// the secrets differ, so verification fails before the type check.
	_, err = svc.VerifyAccessToken(refreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyRefreshToken(accessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_WrongSecretRejected(t *testing.T) {
	svc := newTestService()
	other := NewJWTService("other-access", "other-refresh", 15*time.Minute, 7*24*time.Hour)

	token, err := svc.GenerateAccessToken(uuid.New())
	assert.NoError(t, err)

	_, err = other.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ExpiredTokenRejected(t *testing.T) {
	svc := NewJWTService("access-secret", "refresh-secret", -time.Minute, -time.Minute)

	token, err := svc.GenerateAccessToken(uuid.New())
	assert.NoError(t, err)

	_, err = svc.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_GarbageRejected(t *testing.T) {
	svc := newTestService()

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.VerifyAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}
