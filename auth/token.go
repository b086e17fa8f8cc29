package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrEmptyAccessToken is returned when a refresh response carries no access token.
	ErrEmptyAccessToken = errors.New("refresh response carried no access token")
	// ErrNotJWT is returned by InspectToken for opaque access tokens.
	ErrNotJWT = errors.New("access token is not a JWT")
)

// TokenPair is an access token together with the refresh token that renews it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// MemoryStore is an in-memory TokenStore. The zero value is ready to use.
type MemoryStore struct {
	mu   sync.RWMutex
	pair TokenPair
}

// NewMemoryStore returns a store seeded with pair.
func NewMemoryStore(pair TokenPair) *MemoryStore {
	return &MemoryStore{pair: pair}
}

func (s *MemoryStore) AccessToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken, nil
}

func (s *MemoryStore) RefreshToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken, nil
}

func (s *MemoryStore) SetTokens(_ context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	s.pair = TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearTokens(context.Context) error {
	s.mu.Lock()
	s.pair = TokenPair{}
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current pair.
func (s *MemoryStore) Snapshot() TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}
