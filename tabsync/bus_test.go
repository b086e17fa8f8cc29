package tabsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Instance A announces a login; B's handler sees the payload, A's does not.
func TestBus_LoginReachesSiblingOnly(t *testing.T) {
	hub := NewHub()
	var a, b recorder
	busA := newBus(t, a.config(hub.Channel))
	newBus(t, b.config(hub.Channel))

	user := User{ID: "42", Username: "ada", Email: "ada@example.edu"}
	require.NoError(t, busA.BroadcastLogin(context.Background(), user, "access-1"))

	eventually(t, func() bool { return len(b.snapshot().logins) == 1 })
	assert.Equal(t, loginEvent{User: user, Token: "access-1"}, b.snapshot().logins[0])

	// Give A's listener the same chance to (wrongly) fire.
	require.NoError(t, busA.BroadcastLogout(context.Background()))
	eventually(t, func() bool { return b.snapshot().logouts == 1 })
	assert.Zero(t, a.total())
}

func TestBus_AllKindsDelivered(t *testing.T) {
	hub := NewHub()
	var a, b recorder
	busA := newBus(t, a.config(hub.Channel))
	newBus(t, b.config(hub.Channel))
	ctx := context.Background()

	require.NoError(t, busA.BroadcastTokenRefresh(ctx, "access-2"))
	require.NoError(t, busA.BroadcastPermissionUpdate(ctx, []string{"courses:read", "grades:write"}))
	require.NoError(t, busA.BroadcastLogout(ctx))

	eventually(t, func() bool { return b.total() == 3 })
	got := b.snapshot()
	assert.Equal(t, []string{"access-2"}, got.refreshes)
	assert.Equal(t, [][]string{{"courses:read", "grades:write"}}, got.permissions)
	assert.Equal(t, 1, got.logouts)
}

func TestBus_MissingHandlersAreSkipped(t *testing.T) {
	hub := NewHub()
	var b recorder
	busA := newBus(t, Config{ChannelName: "portal", Open: hub.Channel})
	cfg := b.config(hub.Channel)
	cfg.OnLogin = nil
	newBus(t, cfg)

	require.NoError(t, busA.BroadcastLogin(context.Background(), User{ID: "1"}, "t"))
	require.NoError(t, busA.BroadcastLogout(context.Background()))

	eventually(t, func() bool { return b.snapshot().logouts == 1 })
	assert.Empty(t, b.snapshot().logins)
}

func TestBus_ChannelsAreIsolatedByName(t *testing.T) {
	hub := NewHub()
	var admin, portal recorder
	adminCfg := admin.config(hub.Channel)
	adminCfg.ChannelName = "admin"
	newBus(t, adminCfg)
	newBus(t, portal.config(hub.Channel))

	sender := newBus(t, Config{ChannelName: "portal", Open: hub.Channel})
	require.NoError(t, sender.BroadcastLogout(context.Background()))

	eventually(t, func() bool { return portal.snapshot().logouts == 1 })
	assert.Zero(t, admin.total())
}

func TestBus_OrderPreservedPerSender(t *testing.T) {
	hub := NewHub()
	var b recorder
	sender := newBus(t, Config{ChannelName: "portal", Open: hub.Channel})
	newBus(t, b.config(hub.Channel))

	want := make([]string, 20)
	for i := range want {
		want[i] = fmt.Sprintf("access-%d", i)
		require.NoError(t, sender.BroadcastTokenRefresh(context.Background(), want[i]))
	}
	eventually(t, func() bool { return len(b.snapshot().refreshes) == len(want) })
	assert.Equal(t, want, b.snapshot().refreshes)
}

func TestBus_HandlerPanicDoesNotStopListener(t *testing.T) {
	hub := NewHub()
	var b recorder
	cfg := b.config(hub.Channel)
	cfg.OnLogin = func(User, string) { panic("boom") }
	newBus(t, cfg)
	sender := newBus(t, Config{ChannelName: "portal", Open: hub.Channel})

	require.NoError(t, sender.BroadcastLogin(context.Background(), User{ID: "1"}, "t"))
	require.NoError(t, sender.BroadcastLogout(context.Background()))

	eventually(t, func() bool { return b.snapshot().logouts == 1 })
}

func TestBus_MalformedPayloadIsDropped(t *testing.T) {
	hub := NewHub()
	var b recorder
	newBus(t, b.config(hub.Channel))
	raw, err := hub.Channel("portal")
	require.NoError(t, err)
	_, err = raw.Subscribe(context.Background())
	require.NoError(t, err)
	defer raw.Close()

	ctx := context.Background()
	require.NoError(t, raw.Publish(ctx, []byte("not json")))
	require.NoError(t, raw.Publish(ctx, []byte(`{"kind":"reboot","origin":"x"}`)))
	require.NoError(t, raw.Publish(ctx, []byte(`{"kind":"logout","origin":"x"}`)))

	eventually(t, func() bool { return b.snapshot().logouts == 1 })
	assert.Equal(t, 1, b.total())
}

func TestBus_DegradesWithoutChannel(t *testing.T) {
	tests := []struct {
		name string
		open ChannelFactory
	}{
		{"nil factory", nil},
		{"unsupported factory", Unsupported},
		{"unsupported subscribe", func(string) (Channel, error) { return unsupportedSubscribe{}, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r recorder
			bus, err := New(context.Background(), r.config(tt.open))
			require.NoError(t, err)
			assert.True(t, bus.Degraded())

			ctx := context.Background()
			assert.NoError(t, bus.BroadcastLogin(ctx, User{ID: "1"}, "t"))
			assert.NoError(t, bus.BroadcastLogout(ctx))
			assert.NoError(t, bus.BroadcastTokenRefresh(ctx, "t"))
			assert.NoError(t, bus.BroadcastPermissionUpdate(ctx, nil))
			assert.NoError(t, bus.Close())
			assert.NoError(t, bus.Close())
		})
	}
}

type unsupportedSubscribe struct{}

func (unsupportedSubscribe) Publish(context.Context, []byte) error { return nil }
func (unsupportedSubscribe) Subscribe(context.Context) (<-chan []byte, error) {
	return nil, ErrUnsupported
}
func (unsupportedSubscribe) Close() error { return nil }

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), Config{ChannelName: "bad name!"})
	assert.Error(t, err)

	broken := errors.New("socket closed")
	_, err = New(context.Background(), Config{Open: func(string) (Channel, error) { return nil, broken }})
	assert.ErrorIs(t, err, broken)
}

func TestBus_CloseStopsHandlers(t *testing.T) {
	hub := NewHub()
	var b recorder
	busB := newBus(t, b.config(hub.Channel))
	sender := newBus(t, Config{ChannelName: "portal", Open: hub.Channel})

	require.NoError(t, busB.Close())
	assert.ErrorIs(t, busB.BroadcastLogout(context.Background()), ErrChannelClosed)
	require.NoError(t, sender.BroadcastLogout(context.Background()))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, b.total())
}

func TestBus_DefaultChannelName(t *testing.T) {
	hub := NewHub()
	bus := newBus(t, Config{Open: hub.Channel})
	assert.Equal(t, DefaultChannelName, bus.name)
	assert.NotEmpty(t, bus.ID())
	assert.NotEqual(t, bus.ID(), newBus(t, Config{Open: hub.Channel}).ID())
}
