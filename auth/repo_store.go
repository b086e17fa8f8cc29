package auth

import (
	"context"
	"fmt"

	"github.com/habedi/sessync/db"
	"github.com/rs/zerolog/log"
)

// repoStore adapts a db.TokenRepository to the TokenStore interface.
type repoStore struct{ repo db.TokenRepository }

// NewRepoStore returns a TokenStore persisted through repo.
func NewRepoStore(repo db.TokenRepository) TokenStore {
	return &repoStore{repo: repo}
}

func (s *repoStore) load(ctx context.Context) (*db.Token, error) {
	token, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve token record: %w", err)
	}
	return token, nil
}

func (s *repoStore) AccessToken(ctx context.Context) (string, error) {
	token, err := s.load(ctx)
	if err != nil || token == nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (s *repoStore) RefreshToken(ctx context.Context) (string, error) {
	token, err := s.load(ctx)
	if err != nil || token == nil {
		return "", err
	}
	return token.RefreshToken, nil
}

func (s *repoStore) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.repo.Upsert(ctx, &db.Token{AccessToken: accessToken, RefreshToken: refreshToken}); err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}
	log.Debug().Msg("Token pair saved")
	return nil
}

func (s *repoStore) ClearTokens(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear token pair: %w", err)
	}
	log.Debug().Msg("Token pair cleared")
	return nil
}
