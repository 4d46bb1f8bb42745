package fhevm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/cloudflare/circl/kem/schemes"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const keypairSchemeName = "ML-KEM-768"

// generateKeypair derives a fresh user-decryption keypair using the
// post-quantum KEM the decryption gateway expects.
func generateKeypair() (Keypair, error) {
	scheme := schemes.ByName(keypairSchemeName)
	if scheme == nil {
		return Keypair{}, fmt.Errorf("KEM scheme %s not found", keypairSchemeName)
	}

	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}

	pkb, err := pk.MarshalBinary()
	if err != nil {
		return Keypair{}, fmt.Errorf("marshal public key: %w", err)
	}
	skb, err := sk.MarshalBinary()
	if err != nil {
		return Keypair{}, fmt.Errorf("marshal private key: %w", err)
	}

	return Keypair{
		PublicKey:  "0x" + hex.EncodeToString(pkb),
		PrivateKey: "0x" + hex.EncodeToString(skb),
	}, nil
}

// buildDecryptionTypedData constructs the EIP-712 payload a user signs to
// authorize batched decryption of handles owned by contractAddresses.
func buildDecryptionTypedData(chainID uint64, verifyingContract, publicKey string, contractAddresses []string, startTimestamp, durationDays int64) apitypes.TypedData {
	addrs := make([]any, len(contractAddresses))
	for i, a := range contractAddresses {
		addrs[i] = strings.ToLower(a)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"UserDecryptRequestVerification": {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: "UserDecryptRequestVerification",
		Domain: apitypes.TypedDataDomain{
			Name:              "Decryption",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(int64(chainID)),
			VerifyingContract: verifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         publicKey,
			"contractAddresses": addrs,
			"startTimestamp":    new(big.Int).SetInt64(startTimestamp).String(),
			"durationDays":      new(big.Int).SetInt64(durationDays).String(),
		},
	}
}
