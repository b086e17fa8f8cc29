package tabsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/sessync/pkg/validation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultChannelName is used when Config.ChannelName is empty.
const DefaultChannelName = "sessync"

// Config configures a Bus. Every handler is optional.
type Config struct {
	ChannelName string
	// Open creates the channel. Nil, or a factory returning ErrUnsupported,
	// yields a bus whose broadcasts are no-ops.
	Open ChannelFactory

	OnLogin            func(user User, token string)
	OnLogout           func()
	OnTokenRefresh     func(token string)
	OnPermissionUpdate func(permissions []string)

	// Debug logs every sent and received message at info level.
	Debug bool
}

func (c *Config) applyDefaults() {
	if c.ChannelName == "" {
		c.ChannelName = DefaultChannelName
	}
}

func (c *Config) Validate() error {
	return validation.ValidateChannelName(c.ChannelName)
}

// Bus announces session events to sibling instances and runs the local
// handlers for events that siblings announce. A bus never reacts to its own
// messages.
type Bus struct {
	id      string
	name    string
	cfg     Config
	channel Channel
	stop    context.CancelFunc
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

// New opens the channel, subscribes and starts the listener. Only a
// configuration error or a failing channel makes it return an error.
func New(ctx context.Context, cfg Config) (*Bus, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tab sync config: %w", err)
	}

	b := &Bus{id: uuid.NewString(), name: cfg.ChannelName, cfg: cfg, done: make(chan struct{})}
	if cfg.Open == nil {
		b.degrade(ErrUnsupported)
		return b, nil
	}

	channel, err := cfg.Open(cfg.ChannelName)
	if errors.Is(err, ErrUnsupported) {
		b.degrade(err)
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open channel %q: %w", cfg.ChannelName, err)
	}

	messages, err := channel.Subscribe(ctx)
	if err != nil {
		_ = channel.Close()
		if errors.Is(err, ErrUnsupported) {
			b.degrade(err)
			return b, nil
		}
		return nil, fmt.Errorf("failed to subscribe to channel %q: %w", cfg.ChannelName, err)
	}

	listenCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	b.channel = channel
	b.stop = stop
	go b.listen(listenCtx, messages)

	log.Debug().Str("channel", b.name).Str("origin", b.id).Msg("Tab sync bus started")
	return b, nil
}

func (b *Bus) degrade(cause error) {
	close(b.done)
	log.Warn().Err(cause).Str("channel", b.name).Msg("Cross-instance broadcast unavailable; session events will not reach other instances")
}

// ID is the origin stamped on every message this bus sends.
func (b *Bus) ID() string { return b.id }

// Degraded reports whether the bus runs without a channel.
func (b *Bus) Degraded() bool { return b.channel == nil }

func (b *Bus) event() *zerolog.Event {
	if b.cfg.Debug {
		return log.Info()
	}
	return log.Debug()
}

func (b *Bus) BroadcastLogin(ctx context.Context, user User, token string) error {
	return b.publish(ctx, Message{Kind: KindLogin, User: &user, Token: token})
}

func (b *Bus) BroadcastLogout(ctx context.Context) error {
	return b.publish(ctx, Message{Kind: KindLogout})
}

func (b *Bus) BroadcastTokenRefresh(ctx context.Context, token string) error {
	return b.publish(ctx, Message{Kind: KindTokenRefresh, Token: token})
}

func (b *Bus) BroadcastPermissionUpdate(ctx context.Context, permissions []string) error {
	return b.publish(ctx, Message{Kind: KindPermissionUpdate, Permissions: permissions})
}

func (b *Bus) publish(ctx context.Context, msg Message) error {
	if b.channel == nil {
		return nil
	}
	if b.closed.Load() {
		return ErrChannelClosed
	}
	msg.Origin = b.id
	msg.SentAt = time.Now().UTC()
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := b.channel.Publish(ctx, payload); err != nil {
		return fmt.Errorf("failed to broadcast %s: %w", msg.Kind, err)
	}
	b.event().Str("channel", b.name).Str("kind", string(msg.Kind)).Msg("Broadcast session event")
	return nil
}

func (b *Bus) listen(ctx context.Context, messages <-chan []byte) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				return
			}
			b.dispatch(payload)
		}
	}
}

func (b *Bus) dispatch(payload []byte) {
	msg, err := decode(payload)
	if err != nil {
		log.Warn().Err(err).Str("channel", b.name).Msg("Dropping malformed session event")
		return
	}
	if msg.Origin == b.id {
		return
	}
	b.event().Str("channel", b.name).Str("kind", string(msg.Kind)).Str("origin", msg.Origin).Msg("Received session event")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", string(msg.Kind)).Msg("Session event handler panicked")
		}
	}()
	switch msg.Kind {
	case KindLogin:
		if b.cfg.OnLogin != nil {
			var user User
			if msg.User != nil {
				user = *msg.User
			}
			b.cfg.OnLogin(user, msg.Token)
		}
	case KindLogout:
		if b.cfg.OnLogout != nil {
			b.cfg.OnLogout()
		}
	case KindTokenRefresh:
		if b.cfg.OnTokenRefresh != nil {
			b.cfg.OnTokenRefresh(msg.Token)
		}
	case KindPermissionUpdate:
		if b.cfg.OnPermissionUpdate != nil {
			b.cfg.OnPermissionUpdate(msg.Permissions)
		}
	}
}

// Close stops the listener and closes the channel. Handlers are not invoked
// after Close returns. It is safe to call more than once, but not from
// inside a handler of the same bus.
func (b *Bus) Close() error {
	var err error
	b.once.Do(func() {
		b.closed.Store(true)
		if b.channel == nil {
			return
		}
		b.stop()
		err = b.channel.Close()
		<-b.done
		log.Debug().Str("channel", b.name).Str("origin", b.id).Msg("Tab sync bus closed")
	})
	return err
}
