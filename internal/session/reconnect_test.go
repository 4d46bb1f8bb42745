package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/kvstore"
	"github.com/cipherpoll/cipherpoll-client/internal/provider"
)

func persistedSession(t *testing.T, uuid, name string) kvstore.Store {
	t.Helper()
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(constants.KeyConnected, "true"))
	require.NoError(t, store.Set(constants.KeyConnectorID, uuid))
	require.NoError(t, store.Set(constants.KeyConnectorName, name))
	require.NoError(t, store.Set(constants.KeyAccounts, `["0xAbC"]`))
	require.NoError(t, store.Set(constants.KeyChainID, "31337"))
	return store
}

func announceAndWait(t *testing.T, bus *provider.Bus, registry *provider.Registry, d provider.Descriptor) {
	t.Helper()
	bus.Announce(d)
	require.Eventually(t, func() bool {
		return len(registry.Providers()) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveProviderStrategyOrder(t *testing.T) {
	mm := provider.Descriptor{UUID: "c", Name: "MetaMask", Provider: newFakeProvider(nil, "0x1")}
	providers := []provider.Descriptor{
		{UUID: "a", Name: "Rabby", Provider: newFakeProvider(nil, "0x1")},
		{UUID: "b", Name: "TestWallet", Provider: newFakeProvider(nil, "0x1")},
		mm,
	}

	// exact uuid wins
	d, ok := resolveProvider(providers, "b", "Rabby")
	require.True(t, ok)
	assert.Equal(t, "b", d.UUID)

	// then name
	d, ok = resolveProvider(providers, "missing", "Rabby")
	require.True(t, ok)
	assert.Equal(t, "a", d.UUID)

	// then the wallet family token
	d, ok = resolveProvider(providers, "missing", "missing")
	require.True(t, ok)
	assert.Equal(t, "c", d.UUID)

	// nothing matches
	_, ok = resolveProvider(providers[:2], "missing", "missing")
	assert.False(t, ok)
}

func TestAutoReconnectNoProvidersStaysDisconnected(t *testing.T) {
	store := persistedSession(t, "uuid-1", "TestWallet")
	m, _, _ := newTestManager(t, store)

	err := m.AutoReconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestAutoReconnectByUUID(t *testing.T) {
	store := persistedSession(t, "uuid-1", "TestWallet")
	m, bus, registry := newTestManager(t, store)

	fp := newFakeProvider([]string{"0xAbC"}, "0x7a69")
	announceAndWait(t, bus, registry, provider.Descriptor{UUID: "uuid-1", Name: "TestWallet", Provider: fp})

	require.NoError(t, m.AutoReconnect(context.Background()))
	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, "0xAbC", m.Address())

	// silent path must not prompt
	assert.True(t, fp.called("eth_accounts"))
	assert.False(t, fp.called("eth_requestAccounts"))
}

func TestAutoReconnectFallsBackToName(t *testing.T) {
	store := persistedSession(t, "stale-uuid", "TestWallet")
	m, bus, registry := newTestManager(t, store)

	fp := newFakeProvider([]string{"0xAbC"}, "0x1")
	announceAndWait(t, bus, registry, provider.Descriptor{UUID: "new-uuid", Name: "TestWallet", Provider: fp})

	require.NoError(t, m.AutoReconnect(context.Background()))
	assert.Equal(t, StatusConnected, m.Status())

	// stored identity refreshed to the matched provider
	v, _, _ := store.Get(constants.KeyConnectorID)
	assert.Equal(t, "new-uuid", v)
}

func TestAutoReconnectFamilyTokenFallback(t *testing.T) {
	store := persistedSession(t, "stale-uuid", "GoneWallet")
	m, bus, registry := newTestManager(t, store)

	fp := newFakeProvider([]string{"0xAbC"}, "0x1")
	announceAndWait(t, bus, registry, provider.Descriptor{UUID: "mm", Name: "MetaMask", Provider: fp})

	require.NoError(t, m.AutoReconnect(context.Background()))
	assert.Equal(t, StatusConnected, m.Status())
}

func TestAutoReconnectStaleSessionClearsPersistence(t *testing.T) {
	store := persistedSession(t, "uuid-1", "TestWallet")
	m, bus, registry := newTestManager(t, store)

	// provider exists but access was revoked: zero accounts
	fp := newFakeProvider(nil, "0x1")
	announceAndWait(t, bus, registry, provider.Descriptor{UUID: "uuid-1", Name: "TestWallet", Provider: fp})

	require.NoError(t, m.AutoReconnect(context.Background()))
	assert.Equal(t, StatusDisconnected, m.Status())

	_, ok, _ := store.Get(constants.KeyConnected)
	assert.False(t, ok, "stale session must be cleared")
}

func TestAutoReconnectRunsOncePerLoad(t *testing.T) {
	store := persistedSession(t, "uuid-1", "TestWallet")
	m, bus, registry := newTestManager(t, store)

	fp := newFakeProvider([]string{"0xAbC"}, "0x1")
	announceAndWait(t, bus, registry, provider.Descriptor{UUID: "uuid-1", Name: "TestWallet", Provider: fp})

	require.NoError(t, m.AutoReconnect(context.Background()))
	require.Equal(t, StatusConnected, m.Status())

	m.Disconnect()

	// explicit disconnect re-arms reconnection, but the persisted flag is gone
	require.NoError(t, m.AutoReconnect(context.Background()))
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestAutoReconnectWithoutPersistedFlagIsNoOp(t *testing.T) {
	m, bus, registry := newTestManager(t, kvstore.NewMemory())

	fp := newFakeProvider([]string{"0xAbC"}, "0x1")
	announceAndWait(t, bus, registry, provider.Descriptor{UUID: "uuid-1", Name: "TestWallet", Provider: fp})

	require.NoError(t, m.AutoReconnect(context.Background()))
	assert.Equal(t, StatusDisconnected, m.Status())
}
