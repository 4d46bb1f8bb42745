// Package handle defines the fixed-width ciphertext reference stored on the
// ledger. A handle points at one encrypted value; the all-zero handle means
// "no stored ciphertext" and must never be sent to the decryption engine.
package handle

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Handle is a 32-byte big-endian ciphertext identifier.
type Handle [32]byte

var zero Handle

// FromBig converts a non-negative integer reference into a handle,
// left-padded with zeros.
func FromBig(v *big.Int) (Handle, error) {
	var h Handle
	if v == nil || v.Sign() < 0 {
		return h, fmt.Errorf("handle must be a non-negative integer")
	}
	b := v.Bytes()
	if len(b) > 32 {
		return h, fmt.Errorf("handle overflows 32 bytes: %d bytes", len(b))
	}
	copy(h[32-len(b):], b)
	return h, nil
}

// FromHex parses a 0x-prefixed 64-character hex string.
func FromHex(s string) (Handle, error) {
	var h Handle
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 64 {
		return h, fmt.Errorf("handle hex must be 64 chars, got %d", len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return h, fmt.Errorf("decode handle hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Hex returns the canonical form: "0x" followed by exactly 64 hex characters.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether the handle is the all-zero "no stored ciphertext" value.
func (h Handle) IsZero() bool {
	return h == zero
}

// Big returns the handle as a big-endian integer.
func (h Handle) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}
