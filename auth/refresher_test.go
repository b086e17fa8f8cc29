package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/habedi/sessync/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRefresher_Success(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"accessToken":"new-access","refreshToken":"new-refresh"}`))
	}))
	defer server.Close()

	refresher := auth.NewHTTPRefresher(server.URL, nil, nil)
	pair, err := refresher.Refresh(context.Background(), "old-refresh")

	require.NoError(t, err)
	assert.Equal(t, "old-refresh", got["refreshToken"])
	assert.Equal(t, auth.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, pair)
}

func TestHTTPRefresher_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"refresh token revoked"}`))
	}))
	defer server.Close()

	_, err := auth.NewHTTPRefresher(server.URL, nil, nil).Refresh(context.Background(), "r")

	var statusErr *auth.RefreshStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "revoked")
}

func TestHTTPRefresher_CustomExtractor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"jwt":"x","renew":"y"}}`))
	}))
	defer server.Close()

	extract := func(body []byte) (auth.TokenPair, error) {
		var env struct {
			Result struct {
				JWT   string `json:"jwt"`
				Renew string `json:"renew"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return auth.TokenPair{}, err
		}
		return auth.TokenPair{AccessToken: env.Result.JWT, RefreshToken: env.Result.Renew}, nil
	}

	pair, err := auth.NewHTTPRefresher(server.URL, nil, extract).Refresh(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, auth.TokenPair{AccessToken: "x", RefreshToken: "y"}, pair)
}

func TestHTTPRefresher_EmptyAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"refreshToken":"only"}`))
	}))
	defer server.Close()

	_, err := auth.NewHTTPRefresher(server.URL, nil, nil).Refresh(context.Background(), "r")
	assert.ErrorIs(t, err, auth.ErrEmptyAccessToken)
}

func TestHTTPRefresher_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := auth.NewHTTPRefresher(url, nil, nil).Refresh(context.Background(), "r")
	assert.Error(t, err)
}

func TestRefreshCallMarker(t *testing.T) {
	ctx := context.Background()
	assert.False(t, auth.IsRefreshCall(ctx))
	assert.True(t, auth.IsRefreshCall(auth.WithRefreshCall(ctx)))
}

func TestNewHTTPRefresher_Defaults(t *testing.T) {
	r := auth.NewHTTPRefresher("http://api.test/auth/refresh", nil, nil)

	require.NotNil(t, r.Client)
	assert.Equal(t, 30*time.Second, r.Client.Timeout)
	assert.NotSame(t, http.DefaultTransport, r.Client.Transport)
	assert.NotNil(t, r.Extract)
}
