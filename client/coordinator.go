package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/habedi/sessync/auth"
	"github.com/habedi/sessync/pkg/pool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ReplayFunc re-sends a request that already carries its new Authorization header.
type ReplayFunc func(req *http.Request) (*http.Response, error)

// PendingRequest is an unauthorized request waiting for the refresh cycle it joined.
type PendingRequest struct {
	Request   *http.Request
	result    chan replayResult
	mu        sync.Mutex
	abandoned bool
}

type replayResult struct {
	resp *http.Response
	err  error
}

func (p *PendingRequest) settle(resp *http.Response, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		drain(resp)
		return
	}
	p.result <- replayResult{resp: resp, err: err}
}

// abandon is called when the caller stops waiting. A replay that already
// settled, or settles later, has its body closed here instead of leaking.
func (p *PendingRequest) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandoned = true
	select {
	case res := <-p.result:
		drain(res.resp)
	default:
	}
}

// refreshCycle is the one in-flight refresh shared by every request that
// failed while it runs.
type refreshCycle struct {
	done    chan struct{}
	started time.Time
	queue   []*PendingRequest
	err     error
	// signedOut is set when the store held no credentials at all, meaning a
	// previous cycle already signed the user out.
	signedOut bool
}

// Coordinator refreshes an expired access token once per burst of 401s and
// replays every request that was waiting for the new token.
type Coordinator struct {
	store      auth.TokenStore
	refresher  auth.Refresher
	replay     ReplayFunc
	refreshURL *url.URL
	onFailed   func(error)
	notifier   Notifier
	timeout    time.Duration
	workers    int
	debug      bool
	metrics    *metrics
	mu         sync.Mutex
	cycle      *refreshCycle
	exchange   singleflight.Group
}

// NewCoordinator builds a coordinator over store that re-sends requests with replay.
func NewCoordinator(store auth.TokenStore, replay ReplayFunc, cfg Config) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("token store is nil")
	}
	if replay == nil {
		return nil, fmt.Errorf("replay function is nil")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator config: %w", err)
	}

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	c := &Coordinator{
		store:     store,
		refresher: cfg.Refresher,
		replay:    replay,
		onFailed:  cfg.OnRefreshFailed,
		notifier:  cfg.Notifier,
		timeout:   cfg.RefreshTimeout,
		workers:   cfg.ReplayWorkers,
		debug:     cfg.Debug,
		metrics:   m,
	}
	if cfg.RefreshEndpoint != "" {
		c.refreshURL, _ = url.Parse(cfg.RefreshEndpoint)
		if c.refresher == nil {
			c.refresher = auth.NewHTTPRefresher(cfg.RefreshEndpoint, nil, cfg.Extract)
		}
	}
	return c, nil
}

func (c *Coordinator) event() *zerolog.Event {
	if c.debug {
		return log.Info()
	}
	return log.Debug()
}

// Refreshing reports whether a refresh cycle is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycle != nil
}

// Queued returns how many requests wait on the in-flight cycle.
func (c *Coordinator) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycle == nil {
		return 0
	}
	return len(c.cycle.queue)
}

// Wait blocks until the in-flight refresh cycle, if any, has settled and
// returns its error.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	cycle := c.cycle
	c.mu.Unlock()
	if cycle == nil {
		return nil
	}
	select {
	case <-cycle.done:
		return cycle.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRequestFailure takes over a failed request. A 401 on a request that has
// not been retried is queued behind a single refresh cycle and replayed with
// the new access token. Anything else is returned unchanged as the error.
func (c *Coordinator) OnRequestFailure(ctx context.Context, failure *RequestError) (*http.Response, error) {
	if failure == nil || failure.Request == nil {
		return nil, fmt.Errorf("request failure carries no request")
	}
	if failure.StatusCode() != http.StatusUnauthorized {
		return nil, failure
	}

	req := failure.Request
	switch {
	case c.isRefreshRequest(req):
		c.event().Str("url", req.URL.String()).Msg("Refresh call was unauthorized; not refreshing again")
		return nil, failure
	case IsRetried(req.Context()):
		c.event().Str("url", req.URL.String()).Msg("Request still unauthorized after refresh")
		return nil, failure
	case !replayable(req):
		log.Warn().Err(ErrBodyNotReplayable).Str("method", req.Method).Str("url", req.URL.String()).Msg("Cannot retry unauthorized request")
		return nil, failure
	}

	c.mu.Lock()
	cycle := c.cycle
	if cycle == nil {
		// The token this request carried may already have been replaced by a
		// cycle that settled after the request was sent.
		current, err := c.store.AccessToken(ctx)
		if err == nil && current != "" && current != bearerToken(req) {
			c.mu.Unlock()
			drain(failure.Response)
			c.event().Str("url", req.URL.String()).Msg("Retrying with the already refreshed token")
			return c.reissue(req, current)
		}
		cycle = c.startCycleLocked(ctx)
	}
	pending := &PendingRequest{Request: req, result: make(chan replayResult, 1)}
	cycle.queue = append(cycle.queue, pending)
	position := len(cycle.queue)
	c.mu.Unlock()

	drain(failure.Response)
	c.metrics.queued.Inc()
	c.event().Str("method", req.Method).Str("url", req.URL.String()).Int("position", position).Msg("Queued request behind token refresh")

	select {
	case res := <-pending.result:
		return res.resp, res.err
	case <-ctx.Done():
		pending.abandon()
		return nil, ctx.Err()
	}
}

// Refresh exchanges the stored refresh token now. It shares the exchange with
// a refresh cycle or another Refresh call already in flight. Unlike a failed
// cycle, a failed Refresh leaves the stored credentials alone.
func (c *Coordinator) Refresh(ctx context.Context) (auth.TokenPair, error) {
	return c.sharedRefresh(ctx)
}

// sharedRefresh runs at most one token exchange at a time; concurrent callers
// receive the same result.
func (c *Coordinator) sharedRefresh(ctx context.Context) (auth.TokenPair, error) {
	ch := c.exchange.DoChan("refresh", func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		pair, err := c.refresh(exCtx)
		if err != nil {
			return auth.TokenPair{}, err
		}
		if c.notifier != nil {
			c.notifier.TokenRefreshed(pair)
		}
		return pair, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return auth.TokenPair{}, res.Err
		}
		return res.Val.(auth.TokenPair), nil
	case <-ctx.Done():
		return auth.TokenPair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
	}
}

// startCycleLocked must be called with c.mu held.
func (c *Coordinator) startCycleLocked(ctx context.Context) *refreshCycle {
	cycle := &refreshCycle{done: make(chan struct{}), started: time.Now()}
	c.cycle = cycle

	// The refresh belongs to every queued caller, so the trigger's
	// cancellation must not abort it.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	go func() {
		defer cancel()
		c.runCycle(refreshCtx, cycle)
	}()
	return cycle
}

func (c *Coordinator) runCycle(ctx context.Context, cycle *refreshCycle) {
	log.Info().Msg("Access token expired, refreshing...")
	pair, err := c.sharedRefresh(ctx)
	if errors.Is(err, errAlreadySignedOut) {
		cycle.signedOut = true
		err = ErrNoRefreshToken
	}

	c.mu.Lock()
	queue := cycle.queue
	cycle.queue = nil
	cycle.err = err
	c.cycle = nil
	c.mu.Unlock()
	close(cycle.done)
	c.metrics.duration.Observe(time.Since(cycle.started).Seconds())

	if err != nil {
		c.fail(ctx, err, queue, cycle.signedOut)
		return
	}

	c.metrics.cycles.WithLabelValues("success").Inc()
	log.Info().Int("queued", len(queue)).Msg("Token refreshed and saved successfully.")

	// Replays are fed in arrival order; each one runs under its own request context.
	pool.Run(context.Background(), queue, c.workers, func(_ context.Context, p *PendingRequest) error {
		resp, err := c.reissue(p.Request, pair.AccessToken)
		p.settle(resp, err)
		return err
	})
}

// refresh reads the refresh token, exchanges it and persists the new pair.
func (c *Coordinator) refresh(ctx context.Context) (auth.TokenPair, error) {
	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if refreshToken == "" {
		if access, _ := c.store.AccessToken(ctx); access == "" {
			return auth.TokenPair{}, errAlreadySignedOut
		}
		return auth.TokenPair{}, ErrNoRefreshToken
	}

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if pair.RefreshToken == "" {
		// Servers that do not rotate refresh tokens only return a new access token.
		pair.RefreshToken = refreshToken
	}
	if err := c.store.SetTokens(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return auth.TokenPair{}, fmt.Errorf("%w: failed to save refreshed token: %w", ErrRefreshFailed, err)
	}
	return pair, nil
}

// fail ends a cycle: credentials are cleared, every queued request is
// rejected and the failure callback runs exactly once. When the user was
// already signed out only the rejections happen.
func (c *Coordinator) fail(ctx context.Context, err error, queue []*PendingRequest, signedOut bool) {
	outcome := "failure"
	if errors.Is(err, ErrNoRefreshToken) {
		outcome = "no_refresh_token"
	}
	c.metrics.cycles.WithLabelValues(outcome).Inc()

	if signedOut {
		log.Warn().Int("queued", len(queue)).Msg("Unauthorized requests arrived after sign-out")
		for _, p := range queue {
			c.metrics.rejected.Inc()
			p.settle(nil, err)
		}
		return
	}

	log.Error().Err(err).Int("queued", len(queue)).Msg("Token refresh failed, signing out")

	if clearErr := c.store.ClearTokens(ctx); clearErr != nil {
		log.Error().Err(clearErr).Msg("Failed to clear credentials after refresh failure")
	}
	for _, p := range queue {
		c.metrics.rejected.Inc()
		p.settle(nil, err)
	}
	if c.notifier != nil {
		c.notifier.SignedOut()
	}
	if c.onFailed != nil {
		c.onFailed(err)
	}
}

// reissue re-sends req once with accessToken, marked so it is never retried again.
func (c *Coordinator) reissue(req *http.Request, accessToken string) (*http.Response, error) {
	retry, err := retryRequest(req, accessToken)
	if err != nil {
		return nil, err
	}
	c.metrics.replayed.Inc()
	c.event().Str("method", req.Method).Str("url", req.URL.String()).Msg("Replaying request with refreshed token")
	return c.replay(retry)
}

func (c *Coordinator) isRefreshRequest(req *http.Request) bool {
	if auth.IsRefreshCall(req.Context()) {
		return true
	}
	if c.refreshURL == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Host, c.refreshURL.Host) &&
		strings.TrimSuffix(req.URL.Path, "/") == strings.TrimSuffix(c.refreshURL.Path, "/")
}

type retriedKey struct{}

// IsRetried reports whether ctx belongs to a request already replayed after a refresh.
func IsRetried(ctx context.Context) bool {
	marked, _ := ctx.Value(retriedKey{}).(bool)
	return marked
}

func retryRequest(req *http.Request, accessToken string) (*http.Request, error) {
	retry := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, ErrBodyNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBodyNotReplayable, err)
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+accessToken)
	return retry, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func bearerToken(req *http.Request) string {
	token, found := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return token
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
