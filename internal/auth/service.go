package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists          = errors.New("user already exists with provided email or username")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

	// ErrTokenGeneration is the single opaque failure surfaced by token
	// issuance; the underlying cause stays wrapped for logs only.
	ErrTokenGeneration = errors.New("failed to generate tokens")

	errRegisterReadBack = errors.New("error occurred while registering user")
)

type Service struct {
	store  Store
	tokens *TokenManager
}

func NewService(store Store, tokens *TokenManager) *Service {
	return &Service{store: store, tokens: tokens}
}

// Register creates a new user after the duplicate check and returns the
// record re-read from the store. The username is stored lowercase.
func (s *Service) Register(ctx context.Context, fullName, email, username, password string) (User, error) {
	_, err := s.store.FindByEmailOrUsername(ctx, email, username)
	if err == nil {
		return User{}, ErrUserExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		FullName:     fullName,
		Email:        email,
		Username:     strings.ToLower(username),
		PasswordHash: string(hash),
	}
	if err := s.store.Create(ctx, &user); err != nil {
		return User{}, err
	}

	// Read-back guards against a create that silently did not take.
	created, err := s.store.FindByID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, errRegisterReadBack
		}
		return User{}, err
	}

	return created, nil
}

// Login authenticates by email or username and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, email, username, password string) (User, TokenPair, error) {
	user, err := s.store.FindByEmailOrUsername(ctx, email, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, TokenPair{}, ErrUserNotFound
		}
		return User{}, TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return User{}, TokenPair{}, err
	}

	details, err := s.store.FindByID(ctx, user.ID)
	if err != nil {
		return User{}, TokenPair{}, err
	}

	return details, pair, nil
}

// Logout clears the stored refresh token for the verified identity.
// Idempotent: logging out an already-logged-out user succeeds.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.store.ClearRefreshToken(ctx, userID)
}

// Refresh exchanges a presented refresh token for a new pair. The token must
// verify against the refresh secret and exactly match the one currently
// stored on the user; a rotated-out token and an unknown user fail the same
// way.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, err
	}

	if refreshToken != user.RefreshToken {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	return s.issueTokens(ctx, user.ID)
}

// issueTokens loads the user, signs both tokens and persists the refresh
// token via a targeted update of the token columns only. Any failure
// collapses into ErrTokenGeneration; the cause rides along wrapped.
func (s *Service) issueTokens(ctx context.Context, userID string) (TokenPair, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}

	access, err := s.tokens.SignAccess(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}

	refresh, err := s.tokens.SignRefresh(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}

	expiresAt := time.Now().UTC().Add(s.tokens.RefreshTTL())
	if err := s.store.SetRefreshToken(ctx, user.ID, refresh, expiresAt); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ClearExpiredRefreshTokens is the maintenance sweep entry point.
func (s *Service) ClearExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	return s.store.ClearExpiredRefreshTokens(ctx, batchSize)
}
