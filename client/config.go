package client

import (
	"fmt"
	"time"

	"github.com/habedi/sessync/auth"
	"github.com/habedi/sessync/pkg/validation"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultRefreshTimeout = 30 * time.Second
	DefaultReplayWorkers  = 1
)

// Notifier is told about session changes made by the coordinator.
type Notifier interface {
	TokenRefreshed(pair auth.TokenPair)
	SignedOut()
}

// Config configures a Coordinator.
type Config struct {
	// RefreshEndpoint receives {"refreshToken": ...}. Required unless Refresher is set.
	RefreshEndpoint string
	// Extract maps the refresh response body to a pair. Defaults to auth.DefaultExtractor.
	Extract auth.Extractor
	// Refresher replaces the HTTP refresher built from RefreshEndpoint.
	Refresher auth.Refresher
	// OnRefreshFailed runs once per failed refresh cycle, typically to redirect to login.
	OnRefreshFailed func(err error)
	// Notifier receives refresh and sign-out events, usually to broadcast them.
	Notifier Notifier
	// RefreshTimeout bounds a single refresh call.
	RefreshTimeout time.Duration
	// ReplayWorkers is how many queued requests are re-sent at once. One keeps
	// completions in arrival order.
	ReplayWorkers int
	// Registerer receives the coordinator metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
	// Debug logs every queued and replayed request at info level.
	Debug bool
}

func (c *Config) applyDefaults() {
	if c.Extract == nil {
		c.Extract = auth.DefaultExtractor
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.ReplayWorkers == 0 {
		c.ReplayWorkers = DefaultReplayWorkers
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	// A custom refresher may run without an endpoint.
	if c.Refresher == nil || c.RefreshEndpoint != "" {
		if err := validation.ValidateEndpoint("refresh endpoint", c.RefreshEndpoint); err != nil {
			return err
		}
	}
	if err := validation.ValidateWorkerCount(c.ReplayWorkers); err != nil {
		return fmt.Errorf("replay workers: %w", err)
	}
	return nil
}
