package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/habedi/sessync/auth"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a backend with a rotating token pair and a refresh endpoint.
type fakeAPI struct {
	mu           sync.Mutex
	access       string
	refresh      string
	generation   int
	served       []string
	bodies       []string
	refreshCalls atomic.Int32
	gate         chan struct{}
	server       *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{access: "access-0", refresh: "refresh-0"}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", api.handleRefresh)
	mux.HandleFunc("/items/", api.handleItem)
	mux.HandleFunc("/always-401", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"revoked"}`))
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) refreshURL() string { return a.server.URL + "/auth/refresh" }

// expire rotates the valid access token without telling the client.
func (a *fakeAPI) expire() {
	a.mu.Lock()
	a.access = fmt.Sprintf("%s-expired", a.access)
	a.mu.Unlock()
}

func (a *fakeAPI) current() auth.TokenPair {
	a.mu.Lock()
	defer a.mu.Unlock()
	return auth.TokenPair{AccessToken: a.access, RefreshToken: a.refresh}
}

func (a *fakeAPI) servedPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.served...)
}

func (a *fakeAPI) receivedBodies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.bodies...)
}

func (a *fakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	a.refreshCalls.Add(1)
	if a.gate != nil {
		<-a.gate
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if body.RefreshToken != a.refresh {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	a.generation++
	a.access = fmt.Sprintf("access-%d", a.generation)
	a.refresh = fmt.Sprintf("refresh-%d", a.generation)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]string{"accessToken": a.access, "refreshToken": a.refresh},
	})
}

func (a *fakeAPI) handleItem(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	if len(body) > 0 {
		a.bodies = append(a.bodies, string(body))
	}
	valid := r.Header.Get("Authorization") == "Bearer "+a.access
	if valid {
		a.served = append(a.served, r.URL.Path)
	}
	a.mu.Unlock()

	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token expired"}`))
		return
	}
	_, _ = w.Write([]byte(strings.TrimPrefix(r.URL.Path, "/items/")))
}

// countingStore records how often credentials are cleared.
type countingStore struct {
	*auth.MemoryStore
	clears atomic.Int32
}

func (s *countingStore) ClearTokens(ctx context.Context) error {
	s.clears.Add(1)
	return s.MemoryStore.ClearTokens(ctx)
}

// recordingNotifier captures coordinator session events.
type recordingNotifier struct {
	mu        sync.Mutex
	refreshed []auth.TokenPair
	signedOut int
}

func (n *recordingNotifier) TokenRefreshed(pair auth.TokenPair) {
	n.mu.Lock()
	n.refreshed = append(n.refreshed, pair)
	n.mu.Unlock()
}

func (n *recordingNotifier) SignedOut() {
	n.mu.Lock()
	n.signedOut++
	n.mu.Unlock()
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.refreshed), n.signedOut
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range family.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want []string) bool {
	for i := 0; i+1 < len(want); i += 2 {
		found := false
		for _, p := range pairs {
			if p.GetName() == want[i] && p.GetValue() == want[i+1] {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func get(t *testing.T, httpClient *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return httpClient.Do(req)
}
