package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenManager signs and verifies the access/refresh token pair. The two
// secrets are distinct so a refresh token can never pass as an access token
// on a service that only knows the access secret.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}

	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// SignAccess mints a short-lived access token carrying the user's identity
// claims alongside the id.
func (m *TokenManager) SignAccess(user User) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"email":    user.Email,
		"fullName": user.FullName,
		"typ":      tokenTypeAccess,
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(m.accessTTL).Unix(),
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return encoded, nil
}

// SignRefresh mints a longer-lived refresh token carrying only the user id.
func (m *TokenManager) SignRefresh(user User) (string, error) {
	now := time.Now().UTC()
	// jti makes two tokens minted within the same second distinct, so a
	// rotation always produces a new string.
	claims := jwt.MapClaims{
		"sub": user.ID,
		"typ": tokenTypeRefresh,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(m.refreshTTL).Unix(),
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	return encoded, nil
}

// VerifyAccess validates an access token and returns its claims.
func (m *TokenManager) VerifyAccess(tokenStr string) (jwt.MapClaims, error) {
	claims, err := m.verify(tokenStr, m.accessSecret)
	if err != nil {
		return nil, err
	}
	if tokenType, _ := claims["typ"].(string); tokenType != tokenTypeAccess {
		return nil, fmt.Errorf("unexpected token type %q", tokenType)
	}

	return claims, nil
}

// VerifyRefresh validates a refresh token against the refresh secret and
// returns the embedded user id. Library verification errors pass through
// untouched.
func (m *TokenManager) VerifyRefresh(tokenStr string) (string, error) {
	claims, err := m.verify(tokenStr, m.refreshSecret)
	if err != nil {
		return "", err
	}
	if tokenType, _ := claims["typ"].(string); tokenType != tokenTypeRefresh {
		return "", fmt.Errorf("unexpected token type %q", tokenType)
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", fmt.Errorf("refresh token has no subject")
	}

	return userID, nil
}

func (m *TokenManager) verify(tokenStr string, secret []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}

	return claims, nil
}
