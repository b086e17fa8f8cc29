package tabsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager owns at most one Bus. The zero value is ready to use.
type Manager struct {
	mu  sync.Mutex
	bus *Bus
}

// Init replaces the current bus with a new one built from cfg. The previous
// bus is closed before the new one subscribes, so its handlers never run
// again. On error the manager is left empty.
func (m *Manager) Init(ctx context.Context, cfg Config) (*Bus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()

	bus, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.bus = bus
	return bus, nil
}

// Destroy closes the current bus, if any.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// Current returns the live bus or nil.
func (m *Manager) Current() *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bus
}

func (m *Manager) teardownLocked() {
	if m.bus == nil {
		return
	}
	if err := m.bus.Close(); err != nil {
		log.Warn().Err(err).Str("channel", m.bus.name).Msg("Failed to close previous tab sync bus")
	}
	m.bus = nil
}
