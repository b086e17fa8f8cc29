package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/habedi/sessync/auth"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog/log"
)

// Transport is an http.RoundTripper that attaches the stored access token and
// hands unauthorized responses to a Coordinator.
type Transport struct {
	base  http.RoundTripper
	store auth.TokenStore
	coord *Coordinator
}

// NewTransport wraps base with token attachment and refresh-and-replay. A nil
// base gets a pooled transport that does not share http.DefaultTransport.
func NewTransport(base http.RoundTripper, store auth.TokenStore, cfg Config) (*Transport, error) {
	if base == nil {
		base = cleanhttp.DefaultPooledTransport()
	}
	t := &Transport{base: base, store: store}
	coord, err := NewCoordinator(store, t.RoundTrip, cfg)
	if err != nil {
		return nil, err
	}
	t.coord = coord
	return t, nil
}

// NewHTTPClient returns an http.Client whose requests go through a new Transport.
func NewHTTPClient(store auth.TokenStore, cfg Config) (*http.Client, *Coordinator, error) {
	t, err := NewTransport(nil, store, cfg)
	if err != nil {
		return nil, nil, err
	}
	return &http.Client{Transport: t, Timeout: 30 * time.Second}, t.coord, nil
}

// Coordinator returns the coordinator handling this transport's 401s.
func (t *Transport) Coordinator() *Coordinator { return t.coord }

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out := req
	// Replays already carry the refreshed token; refresh calls carry none.
	if !IsRetried(ctx) && !auth.IsRefreshCall(ctx) {
		token, err := t.store.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read access token: %w", err)
		}
		out = req.Clone(ctx)
		if token != "" {
			out.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		}
	}

	log.Debug().Str("method", out.Method).Str("url", out.URL.String()).Msg("Sending HTTP request")
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		log.Debug().Err(err).Str("method", out.Method).Str("url", out.URL.String()).Msg("HTTP request failed")
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	resp, err = t.coord.OnRequestFailure(ctx, &RequestError{Request: out, Response: resp})
	var terminal *RequestError
	if errors.As(err, &terminal) && terminal.Response != nil {
		// Terminal 401s reach the caller as the server sent them.
		return terminal.Response, nil
	}
	return resp, err
}
