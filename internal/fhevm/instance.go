// Package fhevm owns the client-side encryption engine: bootstrapping against
// a chain and access-control contract, encrypted-input construction, and the
// authenticated user-decryption path.
package fhevm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cipherpoll/cipherpoll-client/internal/handle"
)

// Keypair is a user-decryption keypair, hex-encoded with a 0x prefix.
type Keypair struct {
	PublicKey  string
	PrivateKey string
}

// HandleRequest names one ciphertext to decrypt and the contract that owns it.
type HandleRequest struct {
	Handle          handle.Handle
	ContractAddress string
}

// EncryptedInputBatch is the finalized output of an input builder: one opaque
// handle per appended value plus a validity proof, consumed exactly once by a
// submission call. Immutable after creation.
type EncryptedInputBatch struct {
	Handles []handle.Handle
	Proof   []byte
}

// EncryptedInputBuilder accumulates plaintext values for one submission,
// scoped to (target contract, submitting address). Values are appended in
// order and the builder is finalized exactly once by Encrypt.
type EncryptedInputBuilder interface {
	Add8(v uint8)
	Add16(v uint16)
	Add32(v uint32)
	Add64(v uint64)
	Encrypt(ctx context.Context) (*EncryptedInputBatch, error)
}

// Instance is the engine capability object, scoped to one chain and one
// access-control contract. Invalidated whenever the underlying signing
// capability changes; callers are agnostic to whether the remote or the local
// variant produced it.
type Instance interface {
	CreateEncryptedInput(contractAddress, userAddress string) EncryptedInputBuilder

	// GenerateKeypair derives a fresh user-decryption keypair.
	GenerateKeypair() (Keypair, error)

	// CreateEIP712 builds the typed-data authorization payload for a
	// user-decryption request with a validity window starting at
	// startTimestamp.
	CreateEIP712(publicKey string, contractAddresses []string, startTimestamp int64, durationDays int64) apitypes.TypedData

	// UserDecrypt issues one batched user-decryption call and returns a map
	// from handle hex to plaintext value.
	UserDecrypt(ctx context.Context, requests []HandleRequest, sig *DecryptionSignature) (map[string]*big.Int, error)

	PublicKey() string
	PublicParams() []byte
}
