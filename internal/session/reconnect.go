package session

import (
	"context"
	"strings"
	"time"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/provider"
)

// resolver is one reconnect strategy: given the announced providers, pick one.
// Strategies are ordered; the first match wins.
type resolver func(providers []provider.Descriptor) (provider.Descriptor, bool)

func byUUID(uuid string) resolver {
	return func(providers []provider.Descriptor) (provider.Descriptor, bool) {
		if uuid == "" {
			return provider.Descriptor{}, false
		}
		for _, d := range providers {
			if d.UUID == uuid {
				return d, true
			}
		}
		return provider.Descriptor{}, false
	}
}

func byName(name string) resolver {
	return func(providers []provider.Descriptor) (provider.Descriptor, bool) {
		if name == "" {
			return provider.Descriptor{}, false
		}
		for _, d := range providers {
			if d.Name == name {
				return d, true
			}
		}
		return provider.Descriptor{}, false
	}
}

func byFamilyToken(token string) resolver {
	return func(providers []provider.Descriptor) (provider.Descriptor, bool) {
		for _, d := range providers {
			if strings.Contains(strings.ToLower(d.Name), token) {
				return d, true
			}
		}
		return provider.Descriptor{}, false
	}
}

func resolveProvider(providers []provider.Descriptor, uuid, name string) (provider.Descriptor, bool) {
	for _, r := range []resolver{byUUID(uuid), byName(name), byFamilyToken(constants.WalletFamilyToken)} {
		if d, ok := r(providers); ok {
			return d, true
		}
	}
	return provider.Descriptor{}, false
}

// AutoReconnect silently re-establishes a previously persisted session. It runs
// at most once per process; a failed attempt clears persistence and permits
// exactly one further retry driven by provider registry updates. Zero providers
// announced within the wait window leaves the session Disconnected without
// error.
func (m *Manager) AutoReconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.autoAttempted || m.status != StatusDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	connected, _, err := m.store.Get(constants.KeyConnected)
	if err != nil || connected != "true" {
		return nil
	}

	if !m.waitForProviders(ctx) {
		m.log.Infow("no providers announced within wait window, staying disconnected")
		return nil
	}

	m.mu.Lock()
	if m.autoAttempted {
		m.mu.Unlock()
		return nil
	}
	m.autoAttempted = true
	m.mu.Unlock()

	if err := m.tryReconnect(ctx); err != nil {
		m.log.Warnw("silent reconnect failed", "error", err)
		m.clearPersistence()
		m.scheduleRetry(ctx)
	}
	return nil
}

func (m *Manager) waitForProviders(ctx context.Context) bool {
	if len(m.registry.Providers()) > 0 {
		return true
	}

	deadline := time.NewTimer(m.waitWindow)
	defer deadline.Stop()

	for {
		select {
		case <-m.registry.Updates():
			if len(m.registry.Providers()) > 0 {
				return true
			}
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (m *Manager) tryReconnect(ctx context.Context) error {
	uuid, _, _ := m.store.Get(constants.KeyConnectorID)
	name, _, _ := m.store.Get(constants.KeyConnectorName)

	d, ok := resolveProvider(m.registry.Providers(), uuid, name)
	if !ok {
		m.log.Infow("previously used provider not found", "uuid", uuid, "name", name)
		m.clearPersistence()
		return nil
	}

	// The resolver may have matched by name or family token; refresh the
	// stored identity so the next reconnect matches directly.
	if d.UUID != uuid {
		m.storeSet(constants.KeyConnectorID, d.UUID)
		m.storeSet(constants.KeyConnectorName, d.Name)
	}

	err := m.connectWith(ctx, d, false)
	if err == nil {
		m.log.Infow("silent reconnect succeeded", "provider", d.Name)
		return nil
	}
	if err == ErrNoAccounts {
		// Stale session: access was revoked since the last connect.
		m.log.Infow("silent reconnect found no accounts, clearing stale session")
		m.clearPersistence()
		return nil
	}
	return err
}

// scheduleRetry arms exactly one more reconnect attempt, fired by the next
// provider registry update.
func (m *Manager) scheduleRetry(ctx context.Context) {
	m.mu.Lock()
	if m.retryUsed {
		m.mu.Unlock()
		return
	}
	m.retryUsed = true
	m.mu.Unlock()

	go func() {
		select {
		case <-m.registry.Updates():
			if err := m.tryReconnect(ctx); err != nil {
				m.log.Warnw("scheduled reconnect retry failed", "error", err)
				m.clearPersistence()
			}
		case <-ctx.Done():
		}
	}()
}
