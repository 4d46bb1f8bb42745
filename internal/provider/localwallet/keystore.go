// Package localwallet is an in-process wallet provider: an encrypted
// secp256k1 keystore plus a JSON-RPC passthrough, announced on the provider
// bus like any external wallet.
package localwallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/securefile"
)

type keystoreRecord struct {
	Version    int    `json:"version"`
	AddressHex string `json:"address"`
	PrivKeyHex string `json:"priv_key_hex"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func (k *keystoreRecord) address() common.Address {
	return common.HexToAddress(k.AddressHex)
}

func (k *keystoreRecord) privateKey() (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strip0x(k.PrivKeyHex))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("to ecdsa: %w", err)
	}
	return key, nil
}

// Keystore holds the encrypted key file location and its AAD binding.
type Keystore struct {
	Path string
	Opt  securefile.Options
}

// NewKeystore sets up the keystore at the canonical config path.
func NewKeystore() (*Keystore, error) {
	paths, err := securefile.ConfigPathCandidates(constants.AppName, constants.KeystoreFile)
	if err != nil {
		return nil, err
	}

	return &Keystore{
		Path: paths[0],
		Opt: securefile.Options{
			// Must be identical for read + write.
			AADFunc: func(_ string) []byte { return []byte(constants.KeystoreAAD) },
		},
	}, nil
}

// Ensure loads the encrypted keystore or creates and persists a fresh key if
// the file is missing.
func (s *Keystore) Ensure(password []byte) (*keystoreRecord, error) {
	rec, err := securefile.ReadEncryptedJSON[keystoreRecord](s.Path, password, s.Opt)
	if err == nil {
		return &rec, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		nw, err := newRandomKey()
		if err != nil {
			return nil, err
		}
		if err := securefile.WriteEncryptedJSON(s.Path, *nw, password, s.Opt); err != nil {
			return nil, err
		}
		return nw, nil
	}

	return nil, fmt.Errorf("load keystore %s: %w", s.Path, err)
}

func newRandomKey() (*keystoreRecord, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	return &keystoreRecord{
		Version:    constants.SchemaV1,
		AddressHex: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func strip0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
