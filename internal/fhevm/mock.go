package fhevm

import (
	"context"
	"encoding/binary"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/handle"
)

// MockInstance is the engine variant used on local mock chains. Handles are
// derived deterministically and plaintexts kept in an in-memory ledger, so
// encrypt and decrypt round-trip without a relayer. It satisfies Instance and
// callers cannot tell it apart from the remote variant.
type MockInstance struct {
	chainID uint64

	mu     sync.Mutex
	ledger map[string]*big.Int
	nonce  uint64
}

func NewMockInstance(chainID uint64) *MockInstance {
	return &MockInstance{
		chainID: chainID,
		ledger:  map[string]*big.Int{},
	}
}

func (m *MockInstance) CreateEncryptedInput(contractAddress, userAddress string) EncryptedInputBuilder {
	return &mockInputBuilder{
		inst:     m,
		contract: strings.ToLower(contractAddress),
		user:     strings.ToLower(userAddress),
	}
}

func (m *MockInstance) GenerateKeypair() (Keypair, error) {
	return generateKeypair()
}

func (m *MockInstance) CreateEIP712(publicKey string, contractAddresses []string, startTimestamp, durationDays int64) apitypes.TypedData {
	return buildDecryptionTypedData(m.chainID, constants.ZeroAddress, publicKey, contractAddresses, startTimestamp, durationDays)
}

func (m *MockInstance) UserDecrypt(ctx context.Context, requests []HandleRequest, sig *DecryptionSignature) (map[string]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*big.Int, len(requests))
	for _, r := range requests {
		key := r.Handle.Hex()
		if v, ok := m.ledger[key]; ok {
			out[key] = new(big.Int).Set(v)
		} else {
			out[key] = big.NewInt(0)
		}
	}
	return out, nil
}

func (m *MockInstance) PublicKey() string    { return "" }
func (m *MockInstance) PublicParams() []byte { return nil }

// record stores a plaintext under a freshly derived handle.
func (m *MockInstance) record(contract, user string, value *big.Int) handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], m.nonce)
	m.nonce++

	digest := crypto.Keccak256([]byte(contract), []byte(user), nonce[:], value.Bytes())

	var h handle.Handle
	copy(h[:], digest)
	m.ledger[h.Hex()] = new(big.Int).Set(value)
	return h
}

type mockInputBuilder struct {
	inst     *MockInstance
	contract string
	user     string
	values   []*big.Int
}

func (b *mockInputBuilder) Add8(v uint8)   { b.values = append(b.values, new(big.Int).SetUint64(uint64(v))) }
func (b *mockInputBuilder) Add16(v uint16) { b.values = append(b.values, new(big.Int).SetUint64(uint64(v))) }
func (b *mockInputBuilder) Add32(v uint32) { b.values = append(b.values, new(big.Int).SetUint64(uint64(v))) }
func (b *mockInputBuilder) Add64(v uint64) { b.values = append(b.values, new(big.Int).SetUint64(v)) }

func (b *mockInputBuilder) Encrypt(ctx context.Context) (*EncryptedInputBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handles := make([]handle.Handle, len(b.values))
	for i, v := range b.values {
		handles[i] = b.inst.record(b.contract, b.user, v)
	}

	// The proof binds the batch; the mock ledger verifies nothing, so any
	// deterministic non-empty value serves.
	proof := crypto.Keccak256([]byte(b.contract), []byte(b.user))

	return &EncryptedInputBatch{Handles: handles, Proof: proof}, nil
}
