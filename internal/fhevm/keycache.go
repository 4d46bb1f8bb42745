package fhevm

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/kvstore"
)

// PublicKeyRecord holds the cached public key material for one access-control
// contract. Both fields empty means a cache miss.
type PublicKeyRecord struct {
	PublicKey    string `json:"publicKey"`
	PublicParams []byte `json:"publicParams,omitempty"`
}

// KeyCache stores public key material keyed by access-control contract
// address. Persistence failures degrade to a warning: the material is
// re-fetchable, so a broken cache must never block engine creation.
type KeyCache struct {
	store kvstore.Store
	log   *zap.SugaredLogger
}

func NewKeyCache(store kvstore.Store, log *zap.SugaredLogger) *KeyCache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KeyCache{store: store, log: log}
}

func keyCacheKey(aclAddress string) string {
	return constants.PublicKeyPrefix + strings.ToLower(aclAddress)
}

// Get returns the cached record for aclAddress, or an empty record on miss or
// read failure.
func (c *KeyCache) Get(aclAddress string) PublicKeyRecord {
	raw, ok, err := c.store.Get(keyCacheKey(aclAddress))
	if err != nil {
		c.log.Warnw("public key cache read failed", "acl", aclAddress, "error", err)
		return PublicKeyRecord{}
	}
	if !ok {
		return PublicKeyRecord{}
	}

	var rec PublicKeyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.log.Warnw("public key cache entry corrupt, ignoring", "acl", aclAddress, "error", err)
		return PublicKeyRecord{}
	}
	return rec
}

// Set stores the record for aclAddress. Failures are logged and swallowed.
func (c *KeyCache) Set(aclAddress string, rec PublicKeyRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		c.log.Warnw("public key cache encode failed", "acl", aclAddress, "error", err)
		return
	}
	if err := c.store.Set(keyCacheKey(aclAddress), string(raw)); err != nil {
		c.log.Warnw("public key cache write failed", "acl", aclAddress, "error", err)
	}
}

// NewDefaultKeyCache backs the cache with the on-disk key-cache file.
func NewDefaultKeyCache(log *zap.SugaredLogger) (*KeyCache, error) {
	store, err := kvstore.NewFile(constants.KeyCacheFile)
	if err != nil {
		return nil, fmt.Errorf("open key cache store: %w", err)
	}
	return NewKeyCache(store, log), nil
}
