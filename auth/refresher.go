package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog/log"
)

// RefreshStatusError reports a non-2xx answer from the refresh endpoint.
type RefreshStatusError struct {
	StatusCode int
	Body       string
}

func (e *RefreshStatusError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d: %s", e.StatusCode, e.Body)
}

type refreshCallKey struct{}

// WithRefreshCall marks ctx as belonging to a refresh call. Transports use the
// marker to avoid refreshing in response to the refresh call's own failure.
func WithRefreshCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshCallKey{}, true)
}

// IsRefreshCall reports whether ctx was marked by WithRefreshCall.
func IsRefreshCall(ctx context.Context) bool {
	marked, _ := ctx.Value(refreshCallKey{}).(bool)
	return marked
}

// HTTPRefresher posts the refresh token to an HTTP endpoint.
type HTTPRefresher struct {
	Endpoint string
	Client   *http.Client
	Extract  Extractor
}

// NewHTTPRefresher builds a refresher for endpoint. A nil client gets a
// pooled client with its own transport and a 30 second timeout; a nil
// extractor falls back to DefaultExtractor.
func NewHTTPRefresher(endpoint string, client *http.Client, extract Extractor) *HTTPRefresher {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = 30 * time.Second
	}
	if extract == nil {
		extract = DefaultExtractor
	}
	return &HTTPRefresher{Endpoint: endpoint, Client: client, Extract: extract}
}

// Refresh sends {"refreshToken": ...} to the endpoint and extracts the new pair.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(WithRefreshCall(ctx), http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("url", r.Endpoint).Msg("Sending token refresh request")
	resp, err := r.Client.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to send token refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to read token refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TokenPair{}, &RefreshStatusError{StatusCode: resp.StatusCode, Body: string(body[:min(len(body), 200)])}
	}

	extract := r.Extract
	if extract == nil {
		extract = DefaultExtractor
	}
	pair, err := extract(body)
	if err != nil {
		return TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return TokenPair{}, ErrEmptyAccessToken
	}
	return pair, nil
}
