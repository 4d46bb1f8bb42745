package networks

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() []Network {
	return []Network{
		{Name: "hardhat", ChainID: 31337, RPCURL: "http://localhost:8545", Mock: true},
		{Name: "sepolia", ChainID: 11155111, RPCURL: "https://sepolia.example"},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManagerAt(filepath.Join(t.TempDir(), "networks.json"))
}

func TestEnsureFromConfigCreatesFile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureFromConfig(defaults()))

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "hardhat", list[0].Name)
	assert.Equal(t, "0x7a69", list[0].ChainIDHex)
}

func TestEnsureFromConfigFillsBlanksOnly(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureFromConfig(defaults()))

	// user edit: custom RPC must survive later merges
	reopened := NewManagerAt(m.Path())
	_, err := reopened.AddNetwork(Network{Name: "custom", ChainID: 777, RPCURL: "http://custom"})
	require.NoError(t, err)

	withACL := defaults()
	withACL[1].ACLAddress = "0xACL"
	require.NoError(t, reopened.EnsureFromConfig(withACL))

	n, found, err := reopened.FindByChainID(11155111)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://sepolia.example", n.RPCURL)
	assert.Equal(t, "0xacl", n.ACLAddress, "blank field filled and lowercased")

	_, found, _ = reopened.FindByChainID(777)
	assert.True(t, found, "user-added network preserved")
}

func TestAddNetworkRejectsDuplicates(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureFromConfig(defaults()))

	_, err := m.AddNetwork(Network{Name: "other", ChainID: 31337, RPCURL: "x"})
	assert.Error(t, err, "duplicate chain id")

	_, err = m.AddNetwork(Network{Name: "hardhat", ChainID: 999, RPCURL: "x"})
	assert.Error(t, err, "duplicate name")

	_, err = m.AddNetwork(Network{Name: "", ChainID: 999})
	assert.Error(t, err, "name required")
}

func TestRemoveNetworkIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureFromConfig(defaults()))

	require.NoError(t, m.RemoveNetwork(31337))
	require.NoError(t, m.RemoveNetwork(31337))

	_, found, err := m.FindByChainID(31337)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNormalizeSyncsChainIDForms(t *testing.T) {
	m := newTestManager(t)
	n, err := m.AddNetwork(Network{Name: "HexOnly", ChainIDHex: "0x7A69", RPCURL: "x"})
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), n.ChainID)
	assert.Equal(t, "0x7a69", n.ChainIDHex)
	assert.Equal(t, "hexonly", n.Name)
}
