package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// TokenStore is the session's token storage. AccessToken returns "" when the
// user holds no token.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// RefreshFunc exchanges a refresh token for a new access/refresh pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)

// MemoryStore keeps the token pair in memory for the lifetime of a session.
type MemoryStore struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	refresh      RefreshFunc
}

// NewMemoryStore creates a store with the given refresh function. A nil
// refresh function makes Refresh fail.
func NewMemoryStore(refresh RefreshFunc) *MemoryStore {
	return &MemoryStore{refresh: refresh}
}

// Set replaces the stored token pair.
func (s *MemoryStore) Set(accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = accessToken
	s.refreshToken = refreshToken
}

// Clear drops both tokens.
func (s *MemoryStore) Clear() {
	s.Set("", "")
}

func (s *MemoryStore) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.accessToken, nil
}

func (s *MemoryStore) Refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	refreshToken := s.refreshToken
	s.mu.RUnlock()

	if s.refresh == nil {
		return "", fmt.Errorf("%w: no refresh function configured", ErrRefreshFailed)
	}
	if refreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	accessToken, newRefreshToken, err := s.refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	s.Set(accessToken, newRefreshToken)
	return accessToken, nil
}

// OAuth2Store refreshes through an OAuth2 refresh_token grant.
type OAuth2Store struct {
	mu     sync.RWMutex
	config *oauth2.Config
	token  *oauth2.Token
}

// NewOAuth2Store creates a store seeded with an initial token.
func NewOAuth2Store(config *oauth2.Config, token *oauth2.Token) *OAuth2Store {
	return &OAuth2Store{
		config: config,
		token:  token,
	}
}

// SetToken replaces the stored token.
func (s *OAuth2Store) SetToken(token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// Set stores a fresh access/refresh pair.
func (s *OAuth2Store) Set(accessToken, refreshToken string) {
	s.SetToken(&oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken})
}

// Clear drops the stored token.
func (s *OAuth2Store) Clear() {
	s.SetToken(nil)
}

func (s *OAuth2Store) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == nil {
		return "", nil
	}
	return s.token.AccessToken, nil
}

func (s *OAuth2Store) Refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	current := s.token
	s.mu.RUnlock()

	if current == nil || current.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	// A token without an access token is never Valid, so the source always
	// performs the refresh grant.
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return "", err
	}

	s.SetToken(token)
	return token.AccessToken, nil
}
