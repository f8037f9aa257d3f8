// ABOUTME: Manager owns the registered channels and routes outbound messages
// ABOUTME: Starts and stops every surface together with the gateway

package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownChannel indicates an outbound message targets a channel that is
// not registered.
var ErrUnknownChannel = errors.New("unknown channel")

// Manager holds the registered channels and dispatches outbound messages to
// them by name.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *slog.Logger
}

// NewManager creates an empty channel manager. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Registering a duplicate name replaces the prior
// channel.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
	m.logger.Info("channel registered", "channel", ch.Name())
}

// Get returns the channel with the given name, if registered.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every registered channel. The first failure aborts.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("starting channel %q: %w", name, err)
		}
		m.logger.Debug("channel started", "channel", name)
	}
	return nil
}

// StopAll stops every registered channel, logging failures rather than
// aborting so all channels get a chance to shut down.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			m.logger.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
}

// Deliver routes an outbound message to the channel it names.
func (m *Manager) Deliver(ctx context.Context, msg OutboundMessage) error {
	ch, ok := m.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, msg.Channel)
	}
	if err := ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("delivering to channel %q: %w", msg.Channel, err)
	}
	return nil
}
