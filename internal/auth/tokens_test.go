package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() User {
	return User{
		ID:       "0191e3a2-0000-7000-8000-000000000001",
		FullName: "A B",
		Email:    "a@b.com",
		Username: "ab",
	}
}

func TestSignAccess_ClaimsRoundTrip(t *testing.T) {
	manager := NewTokenManager("access-secret", "refresh-secret", time.Minute, time.Hour)

	token, err := manager.SignAccess(testUser())
	require.NoError(t, err)

	claims, err := manager.VerifyAccess(token)
	require.NoError(t, err)

	assert.Equal(t, testUser().ID, claims["sub"])
	assert.Equal(t, "ab", claims["username"])
	assert.Equal(t, "a@b.com", claims["email"])
	assert.Equal(t, "A B", claims["fullName"])
	assert.Equal(t, "access", claims["typ"])
}

func TestSignRefresh_VerifyReturnsUserID(t *testing.T) {
	manager := NewTokenManager("access-secret", "refresh-secret", time.Minute, time.Hour)

	token, err := manager.SignRefresh(testUser())
	require.NoError(t, err)

	userID, err := manager.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, testUser().ID, userID)
}

func TestVerifyRefresh_RejectsWrongSecret(t *testing.T) {
	manager := NewTokenManager("access-secret", "refresh-secret", time.Minute, time.Hour)
	other := NewTokenManager("access-secret", "other-secret", time.Minute, time.Hour)

	token, err := other.SignRefresh(testUser())
	require.NoError(t, err)

	_, err = manager.VerifyRefresh(token)
	assert.Error(t, err)
}

func TestVerifyRefresh_RejectsAccessToken(t *testing.T) {
	// Same secret for both halves so only the typ check can reject.
	manager := NewTokenManager("shared-secret", "shared-secret", time.Minute, time.Hour)

	token, err := manager.SignAccess(testUser())
	require.NoError(t, err)

	_, err = manager.VerifyRefresh(token)
	assert.Error(t, err)
}

func TestVerifyAccess_RejectsRefreshToken(t *testing.T) {
	manager := NewTokenManager("shared-secret", "shared-secret", time.Minute, time.Hour)

	token, err := manager.SignRefresh(testUser())
	require.NoError(t, err)

	_, err = manager.VerifyAccess(token)
	assert.Error(t, err)
}

func TestVerifyRefresh_RejectsExpiredToken(t *testing.T) {
	manager := NewTokenManager("access-secret", "refresh-secret", time.Minute, -time.Minute)

	token, err := manager.SignRefresh(testUser())
	require.NoError(t, err)

	_, err = manager.VerifyRefresh(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSignRefresh_ConsecutiveTokensDiffer(t *testing.T) {
	manager := NewTokenManager("access-secret", "refresh-secret", time.Minute, time.Hour)

	first, err := manager.SignRefresh(testUser())
	require.NoError(t, err)
	second, err := manager.SignRefresh(testUser())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVerifyRefresh_RejectsUnsignedMethod(t *testing.T) {
	manager := NewTokenManager("access-secret", "refresh-secret", time.Minute, time.Hour)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": testUser().ID,
		"typ": "refresh",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = manager.VerifyRefresh(token)
	assert.Error(t, err)
}
