// Package session binds one credential store, one refresh coordinator and one
// tab sync bus into an explicitly opened and closed unit.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/habedi/sessync/auth"
	"github.com/habedi/sessync/client"
	"github.com/habedi/sessync/db"
	"github.com/habedi/sessync/tabsync"
	"github.com/rs/zerolog/log"
)

// reactionTimeout bounds the store writes made in reaction to a sibling event.
const reactionTimeout = 5 * time.Second

// Options configures Open.
type Options struct {
	// Store holds the token pair. Nil uses an empty in-memory store.
	Store auth.TokenStore
	// Profiles caches the signed-in user and permissions. Optional.
	Profiles db.ProfileRepository
	// Client configures the refresh coordinator. Its Notifier is set by Open.
	Client client.Config

	ChannelName string
	Channel     tabsync.ChannelFactory
	// Manager owns the bus. Sessions sharing a manager replace each other's bus.
	Manager *tabsync.Manager

	OnSignedIn       func(user tabsync.User)
	OnSignedOut      func()
	OnTokenRefreshed func()
	OnPermissions    func(permissions []string)

	Debug bool
}

// Session is one instance of an authenticated session.
type Session struct {
	store    auth.TokenStore
	profiles db.ProfileRepository
	http     *http.Client
	coord    *client.Coordinator
	manager  *tabsync.Manager
	bus      *tabsync.Bus
	opts     Options
}

// Open builds the coordinator and joins the channel.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil {
		opts.Store = &auth.MemoryStore{}
	}
	if opts.Manager == nil {
		opts.Manager = &tabsync.Manager{}
	}

	s := &Session{store: opts.Store, profiles: opts.Profiles, manager: opts.Manager, opts: opts}

	cfg := opts.Client
	cfg.Notifier = s
	cfg.Debug = cfg.Debug || opts.Debug
	httpClient, coord, err := client.NewHTTPClient(opts.Store, cfg)
	if err != nil {
		return nil, err
	}
	s.http, s.coord = httpClient, coord

	bus, err := opts.Manager.Init(ctx, tabsync.Config{
		ChannelName:        opts.ChannelName,
		Open:               opts.Channel,
		OnLogin:            s.siblingLogin,
		OnLogout:           s.siblingLogout,
		OnTokenRefresh:     s.siblingTokenRefresh,
		OnPermissionUpdate: s.siblingPermissionUpdate,
		Debug:              opts.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start tab sync: %w", err)
	}
	s.bus = bus
	return s, nil
}

// Close leaves the channel. In-flight requests are not interrupted.
func (s *Session) Close() error {
	if s.manager.Current() == s.bus {
		s.manager.Destroy()
		return nil
	}
	// Another session on the same manager has taken over.
	return s.bus.Close()
}

// HTTPClient returns the client whose requests refresh and replay on 401.
func (s *Session) HTTPClient() *http.Client { return s.http }

func (s *Session) Coordinator() *client.Coordinator { return s.coord }

func (s *Session) Bus() *tabsync.Bus { return s.bus }

func (s *Session) Store() auth.TokenStore { return s.store }

// Profile returns the cached profile, or nil when none is stored.
func (s *Session) Profile(ctx context.Context) (*db.Profile, error) {
	if s.profiles == nil {
		return nil, nil
	}
	return s.profiles.Get(ctx)
}

// Login stores an already issued pair and announces it.
func (s *Session) Login(ctx context.Context, user tabsync.User, pair auth.TokenPair) error {
	if pair.AccessToken == "" {
		return auth.ErrEmptyAccessToken
	}
	if err := s.store.SetTokens(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return err
	}
	if err := s.saveProfile(ctx, user, pair.AccessToken); err != nil {
		return err
	}
	log.Info().Str("user", user.ID).Msg("Signed in")
	return s.bus.BroadcastLogin(ctx, user, pair.AccessToken)
}

// Logout clears local credentials and announces it.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.clearLocal(ctx); err != nil {
		return err
	}
	log.Info().Msg("Signed out")
	return s.bus.BroadcastLogout(ctx)
}

// UpdatePermissions caches permissions and announces them.
func (s *Session) UpdatePermissions(ctx context.Context, permissions []string) error {
	if s.profiles != nil {
		if err := s.profiles.SetPermissions(ctx, permissions); err != nil {
			return fmt.Errorf("failed to save permissions: %w", err)
		}
	}
	return s.bus.BroadcastPermissionUpdate(ctx, permissions)
}

// TokenRefreshed implements client.Notifier.
func (s *Session) TokenRefreshed(pair auth.TokenPair) {
	ctx, cancel := context.WithTimeout(context.Background(), reactionTimeout)
	defer cancel()
	if err := s.bus.BroadcastTokenRefresh(ctx, pair.AccessToken); err != nil {
		log.Warn().Err(err).Msg("Failed to announce refreshed token")
	}
}

// SignedOut implements client.Notifier. The coordinator has already cleared
// the tokens.
func (s *Session) SignedOut() {
	ctx, cancel := context.WithTimeout(context.Background(), reactionTimeout)
	defer cancel()
	if s.profiles != nil {
		if err := s.profiles.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear cached profile")
		}
	}
	if err := s.bus.BroadcastLogout(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to announce sign-out")
	}
}

func (s *Session) clearLocal(ctx context.Context) error {
	var errs []error
	if err := s.store.ClearTokens(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.profiles != nil {
		if err := s.profiles.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear profile: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) saveProfile(ctx context.Context, user tabsync.User, accessToken string) error {
	if s.profiles == nil {
		return nil
	}
	profile := &db.Profile{UserID: user.ID, Username: user.Username, Email: user.Email}
	if info, err := auth.InspectToken(accessToken); err == nil {
		profile.Permissions = info.Permissions
		if profile.UserID == "" {
			profile.UserID = info.Subject
		}
	}
	if err := s.profiles.Put(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// adoptAccessToken stores token next to the refresh token we already hold.
// A shared store has usually been written by the sibling already.
func (s *Session) adoptAccessToken(ctx context.Context, token string) error {
	current, err := s.store.AccessToken(ctx)
	if err != nil {
		return err
	}
	if current == token {
		return nil
	}
	refreshToken, err := s.store.RefreshToken(ctx)
	if err != nil {
		return err
	}
	return s.store.SetTokens(ctx, token, refreshToken)
}

func (s *Session) siblingLogin(user tabsync.User, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), reactionTimeout)
	defer cancel()
	if err := s.adoptAccessToken(ctx, token); err != nil {
		log.Error().Err(err).Msg("Failed to adopt token from sibling login")
		return
	}
	if err := s.saveProfile(ctx, user, token); err != nil {
		log.Warn().Err(err).Msg("Failed to cache profile from sibling login")
	}
	if s.opts.OnSignedIn != nil {
		s.opts.OnSignedIn(user)
	}
}

func (s *Session) siblingLogout() {
	ctx, cancel := context.WithTimeout(context.Background(), reactionTimeout)
	defer cancel()
	if err := s.clearLocal(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear credentials after sibling logout")
	}
	if s.opts.OnSignedOut != nil {
		s.opts.OnSignedOut()
	}
}

func (s *Session) siblingTokenRefresh(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), reactionTimeout)
	defer cancel()
	if err := s.adoptAccessToken(ctx, token); err != nil {
		log.Error().Err(err).Msg("Failed to adopt token from sibling refresh")
		return
	}
	if s.opts.OnTokenRefreshed != nil {
		s.opts.OnTokenRefreshed()
	}
}

// Permission updates apply at once, even while a refresh is in flight here.
func (s *Session) siblingPermissionUpdate(permissions []string) {
	if s.profiles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), reactionTimeout)
		defer cancel()
		if err := s.profiles.SetPermissions(ctx, permissions); err != nil {
			log.Warn().Err(err).Msg("Failed to cache permissions from sibling")
		}
	}
	if s.opts.OnPermissions != nil {
		s.opts.OnPermissions(permissions)
	}
}
