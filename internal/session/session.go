// Package session owns the wallet session lifecycle: connect, disconnect,
// silent reconnect, and reactions to account/chain change notifications.
//
// State machine: Disconnected -> Connecting -> Connected. A session drops back
// to Disconnected on explicit disconnect, a zero-account change event, or a
// provider-level disconnect signal. Account and chain changes mutate the
// Connected session in place.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/kvstore"
	"github.com/cipherpoll/cipherpoll-client/internal/provider"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Snapshot is a point-in-time view of the session. Consumers must re-check the
// snapshot after any suspension point before reusing a previously obtained
// engine instance.
type Snapshot struct {
	Status  Status
	Address string
	ChainID uint64
}

// Manager is the single live wallet session. All mutation is serialized
// through its mutex.
type Manager struct {
	mu       sync.Mutex
	log      *zap.SugaredLogger
	registry *provider.Registry
	store    kvstore.Store

	status   Status
	address  string
	accounts []string
	chainID  uint64
	desc     provider.Descriptor
	prov     provider.Provider
	unsub    func()

	// onReload is invoked after a chain change: chain-bound state (contract
	// addresses, engine instances) is not safely hot-swappable.
	onReload func()

	autoAttempted bool
	retryUsed     bool
	waitWindow    time.Duration
}

type Option func(*Manager)

// WithReloadFunc sets the full session-context reload hook run on chain change.
func WithReloadFunc(fn func()) Option {
	return func(m *Manager) { m.onReload = fn }
}

// WithReconnectWaitWindow bounds how long a silent reconnect waits for the
// first provider announcement.
func WithReconnectWaitWindow(d time.Duration) Option {
	return func(m *Manager) { m.waitWindow = d }
}

func NewManager(registry *provider.Registry, store kvstore.Store, log *zap.SugaredLogger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		log:        log,
		registry:   registry,
		store:      store,
		waitWindow: 5 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Connect requests account authorization from the chosen provider (may show a
// user prompt), reads the chain id, persists the session, and transitions to
// Connected.
func (m *Manager) Connect(ctx context.Context, d provider.Descriptor) error {
	return m.connectWith(ctx, d, true)
}

func (m *Manager) connectWith(ctx context.Context, d provider.Descriptor, requestAccounts bool) error {
	m.mu.Lock()
	if m.status == StatusConnecting {
		m.mu.Unlock()
		return fmt.Errorf("connect already in progress")
	}
	m.status = StatusConnecting
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		if m.status == StatusConnecting {
			m.status = StatusDisconnected
		}
		m.mu.Unlock()
		return err
	}

	method := "eth_requestAccounts"
	if !requestAccounts {
		method = "eth_accounts"
	}

	raw, err := d.Provider.Request(ctx, method)
	if err != nil {
		return fail(&ConnectionRejectedError{Err: err})
	}
	var accounts []string
	if err := provider.UnmarshalResult(raw, &accounts); err != nil {
		return fail(err)
	}
	if len(accounts) == 0 {
		return fail(ErrNoAccounts)
	}

	raw, err = d.Provider.Request(ctx, "eth_chainId")
	if err != nil {
		return fail(&ConnectionRejectedError{Err: err})
	}
	var chainIDHex string
	if err := provider.UnmarshalResult(raw, &chainIDHex); err != nil {
		return fail(err)
	}
	chainID, err := parseChainIDHex(chainIDHex)
	if err != nil {
		return fail(err)
	}

	events, unsub := d.Provider.Subscribe()

	m.mu.Lock()
	m.status = StatusConnected
	m.accounts = accounts
	m.address = accounts[0]
	m.chainID = chainID
	m.desc = d
	m.prov = d.Provider
	m.unsub = unsub
	m.mu.Unlock()

	m.persistSession(d, accounts, chainID)
	go m.handleEvents(events)

	m.log.Infow("wallet connected", "address", accounts[0], "chain", chainID, "provider", d.Name)
	return nil
}

// Disconnect resets the session, clears persistence, and re-enables future
// silent reconnect attempts.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	unsub := m.unsub
	m.reset()
	m.autoAttempted = false
	m.retryUsed = false
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.clearPersistence()
	m.log.Infow("wallet disconnected")
}

// reset assumes the mutex is held.
func (m *Manager) reset() {
	m.status = StatusDisconnected
	m.address = ""
	m.accounts = nil
	m.chainID = 0
	m.desc = provider.Descriptor{}
	m.prov = nil
	m.unsub = nil
}

// SwitchChain requests a chain switch through the active provider.
func (m *Manager) SwitchChain(ctx context.Context, targetChainID uint64) error {
	m.mu.Lock()
	prov := m.prov
	m.mu.Unlock()
	if prov == nil {
		return ErrNotConnected
	}

	param := map[string]string{"chainId": "0x" + strconv.FormatUint(targetChainID, 16)}
	_, err := prov.Request(ctx, "wallet_switchEthereumChain", param)
	if err != nil {
		if provider.ErrorCode(err) == provider.CodeUnknownChain {
			return &ChainNotConfiguredError{ChainID: targetChainID}
		}
		return err
	}
	return nil
}

// SignTypedData requests an EIP-712 signature over typedData from the session
// account. May block on user interaction.
func (m *Manager) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	m.mu.Lock()
	prov := m.prov
	addr := m.address
	m.mu.Unlock()
	if prov == nil {
		return nil, ErrNotConnected
	}

	payload, err := json.Marshal(typedData)
	if err != nil {
		return nil, fmt.Errorf("marshal typed data: %w", err)
	}

	raw, err := prov.Request(ctx, "eth_signTypedData_v4", addr, json.RawMessage(payload))
	if err != nil {
		return nil, err
	}
	var sigHex string
	if err := provider.UnmarshalResult(raw, &sigHex); err != nil {
		return nil, err
	}
	return decodeHexBytes(sigHex)
}

func (m *Manager) handleEvents(events <-chan provider.Event) {
	for ev := range events {
		switch ev.Type {
		case provider.EventAccountsChanged:
			m.accountsChanged(ev.Accounts)
		case provider.EventChainChanged:
			m.chainChanged(ev.ChainIDHex)
		case provider.EventDisconnect:
			m.providerDisconnected()
		}
	}
}

// accountsChanged mutates the session address in place for non-empty lists and
// fully resets the session for the empty list.
func (m *Manager) accountsChanged(accounts []string) {
	if len(accounts) == 0 {
		m.log.Infow("accounts changed to empty, resetting session")
		m.mu.Lock()
		unsub := m.unsub
		m.reset()
		m.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		m.clearPersistence()
		return
	}

	m.mu.Lock()
	m.accounts = accounts
	m.address = accounts[0]
	m.mu.Unlock()

	if b, err := json.Marshal(accounts); err == nil {
		m.storeSet(constants.KeyAccounts, string(b))
	}
	m.log.Infow("accounts changed", "address", accounts[0])
}

// chainChanged persists the new chain id and forces a full session-context
// reload.
func (m *Manager) chainChanged(chainIDHex string) {
	chainID, err := parseChainIDHex(chainIDHex)
	if err != nil {
		m.log.Warnw("ignoring malformed chain change", "chainIdHex", chainIDHex, "error", err)
		return
	}

	m.mu.Lock()
	m.chainID = chainID
	reload := m.onReload
	m.mu.Unlock()

	m.storeSet(constants.KeyChainID, strconv.FormatUint(chainID, 10))
	m.log.Infow("chain changed", "chain", chainID)

	if reload != nil {
		reload()
	}
}

func (m *Manager) providerDisconnected() {
	m.log.Infow("provider signaled disconnect")
	m.mu.Lock()
	unsub := m.unsub
	m.reset()
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	m.clearPersistence()
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Status: m.status, Address: m.address, ChainID: m.chainID}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

func (m *Manager) ChainID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainID
}

// Provider returns the raw capability handle of the connected provider, or nil.
func (m *Manager) Provider() provider.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prov
}

func (m *Manager) persistSession(d provider.Descriptor, accounts []string, chainID uint64) {
	m.storeSet(constants.KeyConnected, "true")
	m.storeSet(constants.KeyConnectorID, d.UUID)
	m.storeSet(constants.KeyConnectorName, d.Name)
	if b, err := json.Marshal(accounts); err == nil {
		m.storeSet(constants.KeyAccounts, string(b))
	}
	m.storeSet(constants.KeyChainID, strconv.FormatUint(chainID, 10))
}

func (m *Manager) clearPersistence() {
	for _, k := range []string{
		constants.KeyConnected,
		constants.KeyConnectorID,
		constants.KeyConnectorName,
		constants.KeyAccounts,
		constants.KeyChainID,
	} {
		if err := m.store.Delete(k); err != nil {
			m.log.Warnw("failed to clear session key", "key", k, "error", err)
		}
	}
}

// storeSet persists one key, logging failures. Session persistence is an
// optimization; a failed write only costs the next silent reconnect.
func (m *Manager) storeSet(key, value string) {
	if err := m.store.Set(key, value); err != nil {
		m.log.Warnw("failed to persist session key", "key", key, "error", err)
	}
}

func parseChainIDHex(s string) (uint64, error) {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if raw == "" {
		return 0, fmt.Errorf("empty chain id")
	}
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chain id %q: %w", s, err)
	}
	return v, nil
}

func decodeHexBytes(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(raw)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := fromHexChar(raw[i*2])
		lo, ok2 := fromHexChar(raw[i*2+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid hex char at %d", i*2)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
