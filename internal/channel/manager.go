// ABOUTME: Registry and lifecycle coordinator for all protocol adapters
// ABOUTME: Fans connect/disconnect out in parallel and aggregates channel status

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/hearth-gateway/internal/events"
)

// ChannelStatus is one row of the manager's aggregate status report.
type ChannelStatus struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Icon         string `json:"icon"`
	Status       Status `json:"status"`
	Enabled      bool   `json:"enabled"`
	ContactCount int    `json:"contactCount"`
}

type managedChannel struct {
	channel      Channel
	enabled      bool
	statusHandle HandlerID
}

// Manager owns the set of registered channels. Registration is explicit;
// a disabled channel stays registered but is skipped by ConnectAll and
// rejected by lookups used for sending.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*managedChannel
	order    []string
	emitter  events.Emitter
	logger   *slog.Logger
}

// NewManager creates an empty channel manager.
func NewManager(emitter events.Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]*managedChannel),
		emitter:  emitter,
		logger:   logger.With("component", "channel-manager"),
	}
}

// Register adds a channel to the registry, enabled by default. The channel
// id must be unique.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ch.ID()
	if _, ok := m.channels[id]; ok {
		return fmt.Errorf("register %s: %w", id, ErrAlreadyRegistered)
	}
	handle := ch.OnStatusChange(func(s Status) {
		m.emitChannelStatus(id, s)
	})
	m.channels[id] = &managedChannel{channel: ch, enabled: true, statusHandle: handle}
	m.order = append(m.order, id)

	m.logger.Info("channel registered", "channel", id, "name", ch.DisplayName())
	return nil
}

// Unregister disconnects a channel and removes it from the registry.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	mc, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unregister %s: %w", id, ErrNotRegistered)
	}
	delete(m.channels, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	mc.channel.OffStatusChange(mc.statusHandle)
	if mc.channel.IsConnected() {
		if err := mc.channel.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnect during unregister failed", "channel", id, "error", err)
		}
	}
	m.logger.Info("channel unregistered", "channel", id)
	return nil
}

// Get returns a registered channel regardless of its enabled flag.
func (m *Manager) Get(id string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotRegistered)
	}
	return mc.channel, nil
}

// GetEnabled returns a channel only if it is registered and enabled.
func (m *Manager) GetEnabled(id string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotRegistered)
	}
	if !mc.enabled {
		return nil, fmt.Errorf("channel %s disabled: %w", id, ErrNotConnected)
	}
	return mc.channel, nil
}

// List returns all registered channels in registration order.
func (m *Manager) List() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.channels[id].channel)
	}
	return out
}

// Enable marks a channel eligible for sending and connects it if it is
// offline. A failed connect leaves the flag set; ConnectAll or a later
// Enable retries.
func (m *Manager) Enable(ctx context.Context, id string) error {
	ch, changed, err := m.setEnabled(id, true)
	if err != nil {
		return err
	}
	if !changed {
		m.logger.Debug("channel already enabled", "channel", id)
		return nil
	}
	m.logger.Info("channel enabled", "channel", id)

	if !ch.IsConnected() {
		if err := ch.Connect(ctx); err != nil {
			m.logger.Error("connect on enable failed", "channel", id, "error", err)
			return fmt.Errorf("connect %s: %w", id, err)
		}
	}
	return nil
}

// Disable marks a channel ineligible and disconnects it if connected.
func (m *Manager) Disable(ctx context.Context, id string) error {
	ch, changed, err := m.setEnabled(id, false)
	if err != nil {
		return err
	}
	if !changed {
		m.logger.Debug("channel already disabled", "channel", id)
		return nil
	}
	m.logger.Info("channel disabled", "channel", id)

	if ch.IsConnected() {
		if err := ch.Disconnect(ctx); err != nil {
			m.logger.Error("disconnect on disable failed", "channel", id, "error", err)
			return fmt.Errorf("disconnect %s: %w", id, err)
		}
	}
	return nil
}

// setEnabled flips the flag and reports whether it changed. The channel
// is returned so the caller can connect or disconnect outside the lock.
func (m *Manager) setEnabled(id string, enabled bool) (Channel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.channels[id]
	if !ok {
		return nil, false, fmt.Errorf("channel %s: %w", id, ErrNotRegistered)
	}
	changed := mc.enabled != enabled
	mc.enabled = enabled
	return mc.channel, changed, nil
}

// ConnectAll connects every enabled channel in parallel. Individual
// failures are collected; one failing channel never blocks the others.
func (m *Manager) ConnectAll(ctx context.Context) error {
	targets := m.snapshot(true)

	var wg sync.WaitGroup
	errCh := make(chan error, len(targets))
	for _, ch := range targets {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			if err := c.Connect(ctx); err != nil {
				m.logger.Error("channel connect failed", "channel", c.ID(), "error", err)
				errCh <- fmt.Errorf("connect %s: %w", c.ID(), err)
			}
		}(ch)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	m.emitStatus()
	if len(errs) > 0 {
		return fmt.Errorf("connect all: %d of %d channels failed: %v", len(errs), len(targets), errs)
	}
	return nil
}

// DisconnectAll disconnects every registered channel in parallel.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	targets := m.snapshot(false)

	var wg sync.WaitGroup
	errCh := make(chan error, len(targets))
	for _, ch := range targets {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			if !c.IsConnected() {
				return
			}
			if err := c.Disconnect(ctx); err != nil {
				m.logger.Error("channel disconnect failed", "channel", c.ID(), "error", err)
				errCh <- fmt.Errorf("disconnect %s: %w", c.ID(), err)
			}
		}(ch)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	m.emitStatus()
	if len(errs) > 0 {
		return fmt.Errorf("disconnect all: %d of %d channels failed: %v", len(errs), len(targets), errs)
	}
	return nil
}

// snapshot copies the registered channels, optionally only enabled ones.
func (m *Manager) snapshot(enabledOnly bool) []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.order))
	for _, id := range m.order {
		mc := m.channels[id]
		if enabledOnly && !mc.enabled {
			continue
		}
		out = append(out, mc.channel)
	}
	return out
}

// Status reports every registered channel with a live contact count for
// connected channels. Contact lookup failures degrade to a zero count.
func (m *Manager) Status(ctx context.Context) []ChannelStatus {
	m.mu.RLock()
	rows := make([]ChannelStatus, 0, len(m.order))
	chans := make([]Channel, 0, len(m.order))
	for _, id := range m.order {
		mc := m.channels[id]
		rows = append(rows, ChannelStatus{
			ID:          id,
			DisplayName: mc.channel.DisplayName(),
			Icon:        mc.channel.Icon(),
			Status:      mc.channel.Status(),
			Enabled:     mc.enabled,
		})
		chans = append(chans, mc.channel)
	}
	m.mu.RUnlock()

	for i, ch := range chans {
		if rows[i].Status != StatusConnected {
			continue
		}
		contacts, err := ch.Contacts(ctx)
		if err != nil {
			m.logger.Warn("contact count unavailable", "channel", rows[i].ID, "error", err)
			continue
		}
		rows[i].ContactCount = len(contacts)
	}
	return rows
}

// emitChannelStatus publishes one channel's transition as an
// observability event.
func (m *Manager) emitChannelStatus(id string, s Status) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(events.EventChannelStatus, map[string]any{
		"channelId": id,
		"status":    string(s),
	})
}

// emitStatus publishes the aggregate status as an observability event.
func (m *Manager) emitStatus() {
	if m.emitter == nil {
		return
	}
	m.mu.RLock()
	payload := make([]map[string]any, 0, len(m.order))
	for _, id := range m.order {
		mc := m.channels[id]
		payload = append(payload, map[string]any{
			"id":      id,
			"status":  string(mc.channel.Status()),
			"enabled": mc.enabled,
		})
	}
	m.mu.RUnlock()
	m.emitter.Emit(events.EventChannelManagerStatus, payload)
}
