package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim. Access and refresh tokens are
// signed with distinct secrets, so a refresh token can never be presented
// where an access token is expected even if the type claim were forged.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken is returned when a token fails signature verification, is
// expired, or carries the wrong token type. Callers cannot distinguish the
// causes.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims represents the JWT claim set for both token kinds.
type Claims struct {
	UserID    uuid.UUID `json:"userId"`
	TokenType string    `json:"tokenType"`
	jwt.RegisteredClaims
}

// JWTService issues and verifies signed, time-bounded tokens. It is a pure
// function of its secrets, TTLs, and the system clock.
type JWTService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewJWTService creates a token service with distinct access and refresh
// signing secrets.
func NewJWTService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *JWTService {
	return &JWTService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// GenerateAccessToken signs a short-lived access token for the user.
func (s *JWTService) GenerateAccessToken(userID uuid.UUID) (string, error) {
	return s.sign(userID, TokenTypeAccess, s.accessSecret, s.accessTTL)
}

// GenerateRefreshToken signs a long-lived refresh token for the user.
func (s *JWTService) GenerateRefreshToken(userID uuid.UUID) (string, error) {
	return s.sign(userID, TokenTypeRefresh, s.refreshSecret, s.refreshTTL)
}

// VerifyAccessToken verifies tokenString as an access token.
func (s *JWTService) VerifyAccessToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TokenTypeAccess, s.accessSecret)
}

// VerifyRefreshToken verifies tokenString as a refresh token.
func (s *JWTService) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TokenTypeRefresh, s.refreshSecret)
}

func (s *JWTService) sign(userID uuid.UUID, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (s *JWTService) verify(tokenString, wantType string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
