package tabsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorded is what a recorder has seen so far.
type recorded struct {
	logins      []loginEvent
	logouts     int
	refreshes   []string
	permissions [][]string
}

// recorder collects handler invocations for one bus.
type recorder struct {
	mu sync.Mutex
	recorded
}

type loginEvent struct {
	User  User
	Token string
}

func (r *recorder) config(open ChannelFactory) Config {
	return Config{
		ChannelName: "portal",
		Open:        open,
		OnLogin: func(u User, token string) {
			r.mu.Lock()
			r.logins = append(r.logins, loginEvent{User: u, Token: token})
			r.mu.Unlock()
		},
		OnLogout: func() {
			r.mu.Lock()
			r.logouts++
			r.mu.Unlock()
		},
		OnTokenRefresh: func(token string) {
			r.mu.Lock()
			r.refreshes = append(r.refreshes, token)
			r.mu.Unlock()
		},
		OnPermissionUpdate: func(p []string) {
			r.mu.Lock()
			r.permissions = append(r.permissions, p)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorded{
		logins:      append([]loginEvent(nil), r.logins...),
		logouts:     r.logouts,
		refreshes:   append([]string(nil), r.refreshes...),
		permissions: append([][]string(nil), r.permissions...),
	}
}

func (r *recorder) total() int {
	s := r.snapshot()
	return len(s.logins) + s.logouts + len(s.refreshes) + len(s.permissions)
}

func newBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	bus, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
