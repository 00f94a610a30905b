package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory Store for tests. It mirrors the repository
// contract, including sql.ErrNoRows on missing records.
type memStore struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]User)}
}

func (s *memStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *memStore) FindByEmailOrUsername(_ context.Context, email, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if (email != "" && user.Email == email) || (username != "" && user.Username == username) {
			return user, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (s *memStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = *user
	return nil
}

func (s *memStore) SetRefreshToken(_ context.Context, id, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil
	}
	expiry := expiresAt.UTC()
	user.RefreshToken = token
	user.RefreshTokenExpiresAt = &expiry
	user.UpdatedAt = time.Now().UTC()
	s.users[id] = user
	return nil
}

func (s *memStore) ClearRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil
	}
	user.RefreshToken = ""
	user.RefreshTokenExpiresAt = nil
	user.UpdatedAt = time.Now().UTC()
	s.users[id] = user
	return nil
}

func (s *memStore) ClearExpiredRefreshTokens(_ context.Context, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var cleared int64
	for id, user := range s.users {
		if user.RefreshToken != "" && user.RefreshTokenExpiresAt != nil && user.RefreshTokenExpiresAt.Before(now) {
			user.RefreshToken = ""
			user.RefreshTokenExpiresAt = nil
			s.users[id] = user
			cleared++
		}
	}
	return cleared, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func newTestService(t *testing.T) (*Service, *memStore, *TokenManager) {
	t.Helper()
	store := newMemStore()
	tokens := NewTokenManager("test-access-secret", "test-refresh-secret", 15*time.Minute, 7*24*time.Hour)
	return NewService(store, tokens), store, tokens
}

func TestRegister_StoresLowercaseUsernameAndHash(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "A B", "a@b.com", "AB", "secret")
	require.NoError(t, err)

	assert.Equal(t, "ab", user.Username)
	assert.Equal(t, "a@b.com", user.Email)
	assert.NotEmpty(t, user.ID)

	stored, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret")))
	assert.Empty(t, stored.RefreshToken)
}

func TestRegister_DuplicateEmailOrUsername(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)

	_, err = service.Register(ctx, "C D", "a@b.com", "cd", "secret")
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = service.Register(ctx, "C D", "c@d.com", "ab", "secret")
	assert.ErrorIs(t, err, ErrUserExists)

	assert.Equal(t, 1, store.count())
}

func TestLogin_UnknownUser(t *testing.T) {
	service, _, _ := newTestService(t)

	_, _, err := service.Login(context.Background(), "nobody@example.com", "", "secret")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLogin_WrongPassword(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)

	_, _, err = service.Login(ctx, "", "ab", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_IssuesVerifiableTokensAndPersistsRefresh(t *testing.T) {
	service, store, tokens := newTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)

	user, pair, err := service.Login(ctx, "", "ab", "secret")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	claims, err := tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims["sub"])

	refreshUserID, err := tokens.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, refreshUserID)

	stored, err := store.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored.RefreshToken)
}

func TestLogin_ByEmail(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)

	_, pair, err := service.Login(ctx, "a@b.com", "", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestRefresh_RotatesPairAndInvalidatesOldToken(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)
	_, pair, err := service.Login(ctx, "", "ab", "secret")
	require.NoError(t, err)

	renewed, err := service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, renewed.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, renewed.RefreshToken)

	stored, err := store.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, renewed.RefreshToken, stored.RefreshToken)

	// The rotated-out token is still validly signed but no longer stored.
	_, err = service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_ValidSignatureButNotStored(t *testing.T) {
	service, _, tokens := newTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)

	// Signed for the right user, but never persisted on the record.
	forged, err := tokens.SignRefresh(User{ID: registered.ID})
	require.NoError(t, err)

	_, err = service.Refresh(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_TamperedToken(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Refresh(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_UnknownUser(t *testing.T) {
	service, _, tokens := newTestService(t)

	token, err := tokens.SignRefresh(User{ID: uuid.NewString()})
	require.NoError(t, err)

	_, err = service.Refresh(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout_ClearsStoredTokenAndIsIdempotent(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)
	_, pair, err := service.Login(ctx, "", "ab", "secret")
	require.NoError(t, err)

	require.NoError(t, service.Logout(ctx, registered.ID))

	stored, err := store.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshToken)

	_, err = service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Logging out again succeeds silently.
	assert.NoError(t, service.Logout(ctx, registered.ID))
}

func TestClearExpiredRefreshTokens(t *testing.T) {
	service, store, tokens := newTestService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "A B", "a@b.com", "ab", "secret")
	require.NoError(t, err)

	token, err := tokens.SignRefresh(registered)
	require.NoError(t, err)
	require.NoError(t, store.SetRefreshToken(ctx, registered.ID, token, time.Now().UTC().Add(-time.Hour)))

	cleared, err := service.ClearExpiredRefreshTokens(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	stored, err := store.FindByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshToken)
}
