package fhevm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/kvstore"
)

// DecryptionSignature is a cached user-decryption authorization: the keypair,
// the EIP-712 signature over it, and the validity window it covers. The
// private key never leaves the encrypted store.
type DecryptionSignature struct {
	PrivateKey        string   `json:"privateKey"`
	PublicKey         string   `json:"publicKey"`
	Signature         string   `json:"signature"`
	ContractAddresses []string `json:"contractAddresses"`
	UserAddress       string   `json:"userAddress"`
	StartTimestamp    int64    `json:"startTimestamp"`
	DurationDays      int64    `json:"durationDays"`
}

// validAt reports whether the signature's window covers t.
func (s *DecryptionSignature) validAt(t time.Time) bool {
	end := s.StartTimestamp + s.DurationDays*24*60*60
	return t.Unix() < end
}

// TypedSigner signs EIP-712 payloads for one address. The wallet session
// manager satisfies this.
type TypedSigner interface {
	Address() string
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// SignatureManager caches decryption signatures per (user, contract set). A
// valid cached signature is reused without prompting; an expired or absent one
// triggers keypair generation and a fresh signing round trip.
type SignatureManager struct {
	store        kvstore.Store
	log          *zap.SugaredLogger
	durationDays int64
	now          func() time.Time
}

type SignatureOption func(*SignatureManager)

// WithClock overrides the time source. Used by tests to exercise expiry.
func WithClock(now func() time.Time) SignatureOption {
	return func(m *SignatureManager) { m.now = now }
}

// WithDurationDays overrides the validity window requested for new signatures.
func WithDurationDays(days int64) SignatureOption {
	return func(m *SignatureManager) { m.durationDays = days }
}

func NewSignatureManager(store kvstore.Store, log *zap.SugaredLogger, opts ...SignatureOption) *SignatureManager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &SignatureManager{
		store:        store,
		log:          log,
		durationDays: 365,
		now:          time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// cacheKey is stable under contract-address ordering and casing.
func (m *SignatureManager) cacheKey(userAddress string, contractAddresses []string) string {
	sorted := make([]string, len(contractAddresses))
	for i, a := range contractAddresses {
		sorted[i] = strings.ToLower(a)
	}
	sort.Strings(sorted)

	digest := crypto.Keccak256([]byte(strings.Join(sorted, ",")))
	return constants.DecryptionSigPrefix + strings.ToLower(userAddress) + "." + hex.EncodeToString(digest[:8])
}

// LoadOrSign returns a decryption signature valid for the given contract set.
// The cache is consulted first; on miss or expiry a fresh keypair is generated
// and the user is asked to sign the authorization. A declined or failed
// signing round trip yields a SignatureUnavailableError and nothing is cached.
func (m *SignatureManager) LoadOrSign(ctx context.Context, inst Instance, contractAddresses []string, signer TypedSigner) (*DecryptionSignature, error) {
	user := signer.Address()
	key := m.cacheKey(user, contractAddresses)

	if cached := m.lookup(key); cached != nil {
		if cached.validAt(m.now()) {
			m.log.Infow("reusing cached decryption signature", "user", user)
			return cached, nil
		}
		m.log.Infow("cached decryption signature expired, regenerating", "user", user)
	}

	kp, err := inst.GenerateKeypair()
	if err != nil {
		return nil, &SignatureUnavailableError{Err: fmt.Errorf("generate keypair: %w", err)}
	}

	start := m.now().Unix()
	typed := inst.CreateEIP712(kp.PublicKey, contractAddresses, start, m.durationDays)

	sigBytes, err := signer.SignTypedData(ctx, typed)
	if err != nil {
		return nil, &SignatureUnavailableError{Err: err}
	}

	sig := &DecryptionSignature{
		PrivateKey:        kp.PrivateKey,
		PublicKey:         kp.PublicKey,
		Signature:         "0x" + hex.EncodeToString(sigBytes),
		ContractAddresses: lowerAll(contractAddresses),
		UserAddress:       strings.ToLower(user),
		StartTimestamp:    start,
		DurationDays:      m.durationDays,
	}

	if err := m.persist(key, sig); err != nil {
		// The signature is still usable this session.
		m.log.Warnw("failed to cache decryption signature", "error", err)
	}
	return sig, nil
}

func (m *SignatureManager) lookup(key string) *DecryptionSignature {
	raw, ok, err := m.store.Get(key)
	if err != nil {
		m.log.Warnw("decryption signature cache read failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var sig DecryptionSignature
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		m.log.Warnw("decryption signature cache entry corrupt, ignoring", "error", err)
		return nil
	}
	return &sig
}

func (m *SignatureManager) persist(key string, sig *DecryptionSignature) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signature: %w", err)
	}
	return m.store.Set(key, string(raw))
}

func lowerAll(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = strings.ToLower(a)
	}
	return out
}
