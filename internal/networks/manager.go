// Package networks keeps the persisted chain registry: RPC endpoints, survey
// factory deployments, and the engine metadata each chain needs.
package networks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/securefile"
)

type Manager struct {
	path  string
	store Store
}

func NewManager() (*Manager, error) {
	path, err := resolveNetworksPath(constants.AppName)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, store: NewEmptyStore()}, nil
}

// NewManagerAt opens a manager against an explicit path.
func NewManagerAt(path string) *Manager {
	return &Manager{path: path, store: NewEmptyStore()}
}

func (m *Manager) Path() string { return m.path }

// EnsureFromConfig merges default networks into networks.json:
// first run creates the file; later runs add only missing networks and fill
// blank fields without overwriting user edits.
func (m *Manager) EnsureFromConfig(defaults []Network) error {
	if err := m.ensureLoadedIfExists(); err != nil {
		return err
	}
	if m.store.Schema == 0 {
		m.store.Schema = constants.SchemaV1
	}
	if m.store.Networks == nil {
		m.store.Networks = map[string]Network{}
	}

	changed := false

	byChain := map[uint64]string{} // chainId -> nameKey
	for nameKey, n := range m.store.Networks {
		if n.ChainID != 0 {
			byChain[n.ChainID] = nameKey
		}
	}

	for _, dn := range defaults {
		dn = normalize(dn)
		if dn.Name == "" || dn.ChainID == 0 {
			continue
		}

		key := dn.Name
		if existingKey, ok := byChain[dn.ChainID]; ok {
			key = existingKey
		} else if _, ok := m.store.Networks[key]; !ok {
			m.store.Networks[key] = dn
			byChain[dn.ChainID] = key
			changed = true
			continue
		}

		// fill blanks only
		updated := m.store.Networks[key]
		if fillBlanks(&updated, dn) {
			m.store.Networks[key] = updated
			changed = true
		}
	}

	if !exists(m.path) {
		changed = true
	}

	if changed {
		return m.persist()
	}
	return nil
}

// AddNetwork registers a new chain, rejecting duplicates by chain id or name.
func (m *Manager) AddNetwork(n Network) (Network, error) {
	if err := m.ensureLoadedIfExists(); err != nil {
		return Network{}, err
	}
	if m.store.Networks == nil {
		m.store.Networks = map[string]Network{}
	}

	n = normalize(n)
	if n.Name == "" {
		return Network{}, fmt.Errorf("network.name is required")
	}
	if n.ChainID == 0 {
		return Network{}, fmt.Errorf("network.chainId is required")
	}
	if key, ok := m.findKeyByChainID(n.ChainID); ok {
		return Network{}, fmt.Errorf("network already exists for chain %d (name: %s)", n.ChainID, key)
	}
	if _, exists := m.store.Networks[n.Name]; exists {
		return Network{}, fmt.Errorf("network name already exists: %s", n.Name)
	}

	m.store.Networks[n.Name] = n
	if err := m.persist(); err != nil {
		return Network{}, err
	}
	return n, nil
}

// RemoveNetwork deletes by chain id; removing an unknown chain is a no-op.
func (m *Manager) RemoveNetwork(chainID uint64) error {
	if err := m.ensureLoadedIfExists(); err != nil {
		return err
	}
	key, ok := m.findKeyByChainID(chainID)
	if !ok {
		return nil // idempotent
	}
	delete(m.store.Networks, key)
	return m.persist()
}

// List returns all networks sorted by name.
func (m *Manager) List() ([]Network, error) {
	if err := m.ensureLoadedIfExists(); err != nil {
		return nil, err
	}
	out := make([]Network, 0, len(m.store.Networks))
	for _, n := range m.store.Networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindByChainID looks a network up by numeric chain id.
func (m *Manager) FindByChainID(chainID uint64) (Network, bool, error) {
	if err := m.ensureLoadedIfExists(); err != nil {
		return Network{}, false, err
	}
	for _, n := range m.store.Networks {
		if n.ChainID == chainID {
			return n, true, nil
		}
	}
	return Network{}, false, nil
}

func (m *Manager) ensureLoadedIfExists() error {
	if len(m.store.Networks) > 0 {
		return nil
	}
	if exists(m.path) {
		return m.load()
	}
	m.store = NewEmptyStore()
	return nil
}

func (m *Manager) load() error {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read networks file: %w", err)
	}

	var s Store
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unmarshal networks file: %w", err)
	}
	if s.Schema == 0 {
		s.Schema = constants.SchemaV1
	}

	norm := NewEmptyStore()
	norm.Schema = s.Schema
	for k, n := range s.Networks {
		n = normalize(n)
		if n.Name == "" {
			n.Name = normalizeKey(k)
		}
		// unusable without a chain id
		if n.Name == "" || n.ChainID == 0 {
			continue
		}
		norm.Networks[n.Name] = n
	}

	m.store = norm
	return nil
}

func (m *Manager) persist() error {
	if err := os.MkdirAll(filepath.Dir(m.path), constants.DirectoryPerm); err != nil {
		return fmt.Errorf("mkdir networks dir: %w", err)
	}

	b, err := json.MarshalIndent(m.store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal networks store: %w", err)
	}

	return securefile.AtomicWriteFile(m.path, b, constants.FilePerm)
}

func (m *Manager) findKeyByChainID(chainID uint64) (string, bool) {
	for k, n := range m.store.Networks {
		if n.ChainID == chainID {
			return k, true
		}
	}
	return "", false
}

func normalize(n Network) Network {
	n.Name = normalizeKey(n.Name)
	n.RPCURL = strings.TrimSpace(n.RPCURL)
	n.Explorer = strings.TrimSpace(n.Explorer)
	n.FactoryAddress = strings.ToLower(strings.TrimSpace(n.FactoryAddress))
	n.ACLAddress = strings.ToLower(strings.TrimSpace(n.ACLAddress))
	n.InputVerifierAddress = strings.ToLower(strings.TrimSpace(n.InputVerifierAddress))
	n.KMSVerifierAddress = strings.ToLower(strings.TrimSpace(n.KMSVerifierAddress))

	if n.ChainID == 0 && n.ChainIDHex != "" {
		if v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(n.ChainIDHex), "0x"), 16, 64); err == nil {
			n.ChainID = v
		}
	}
	if n.ChainID != 0 {
		n.ChainIDHex = "0x" + strconv.FormatUint(n.ChainID, 16)
	}
	return n
}

func fillBlanks(dst *Network, src Network) bool {
	changed := false
	if dst.RPCURL == "" && src.RPCURL != "" {
		dst.RPCURL = src.RPCURL
		changed = true
	}
	if dst.Explorer == "" && src.Explorer != "" {
		dst.Explorer = src.Explorer
		changed = true
	}
	if dst.FactoryAddress == "" && src.FactoryAddress != "" {
		dst.FactoryAddress = src.FactoryAddress
		changed = true
	}
	if dst.ACLAddress == "" && src.ACLAddress != "" {
		dst.ACLAddress = src.ACLAddress
		changed = true
	}
	if dst.InputVerifierAddress == "" && src.InputVerifierAddress != "" {
		dst.InputVerifierAddress = src.InputVerifierAddress
		changed = true
	}
	if dst.KMSVerifierAddress == "" && src.KMSVerifierAddress != "" {
		dst.KMSVerifierAddress = src.KMSVerifierAddress
		changed = true
	}
	return changed
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func resolveNetworksPath(appName string) (string, error) {
	cands, err := securefile.ConfigPathCandidates(appName, constants.NetworksFile)
	if err != nil {
		return "", err
	}
	if len(cands) == 0 {
		return "", fmt.Errorf("no config path candidates returned")
	}
	for _, p := range cands {
		if exists(p) {
			return p, nil
		}
	}
	return cands[0], nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
