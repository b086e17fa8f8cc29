package auth

import (
	"encoding/json"
	"fmt"
)

// Extractor maps a raw refresh-response body to a TokenPair.
type Extractor func(body []byte) (TokenPair, error)

type tokenShape struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshTokenSnake string `json:"refresh_token"`
}

func (s tokenShape) pair() TokenPair {
	p := TokenPair{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
	if p.AccessToken == "" {
		p.AccessToken = s.AccessTokenSnake
	}
	if p.RefreshToken == "" {
		p.RefreshToken = s.RefreshTokenSnake
	}
	return p
}

// DefaultExtractor reads {accessToken, refreshToken} (or the snake_case
// spelling), either at the top level or inside a "data" envelope.
func DefaultExtractor(body []byte) (TokenPair, error) {
	var envelope struct {
		tokenShape
		Data *tokenShape `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return TokenPair{}, fmt.Errorf("failed to parse token refresh response: %w", err)
	}

	pair := envelope.pair()
	if pair.AccessToken == "" && envelope.Data != nil {
		pair = envelope.Data.pair()
	}
	if pair.AccessToken == "" {
		return TokenPair{}, ErrEmptyAccessToken
	}
	return pair, nil
}
