package kvstore

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/securefile"
)

// Encrypted is a Store whose backing file is sealed with securefile. Used for
// records that carry private key material, such as cached decryption signatures.
type Encrypted struct {
	mu       sync.Mutex
	path     string
	password []byte
	opt      securefile.Options
	values   map[string]string
	loaded   bool
}

func NewEncrypted(path string, password []byte, aad string) *Encrypted {
	return &Encrypted{
		path:     path,
		password: password,
		opt: securefile.Options{
			AADFunc: func(_ string) []byte { return []byte(aad) },
		},
		values: map[string]string{},
	}
}

// NewEncryptedDefault places the store at the canonical config path for filename.
func NewEncryptedDefault(filename string, password []byte, aad string) (*Encrypted, error) {
	cands, err := securefile.ConfigPathCandidates(constants.AppName, filename)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("no config path candidates returned")
	}
	path := cands[0]
	for _, p := range cands {
		if exists(p) {
			path = p
			break
		}
	}
	return NewEncrypted(path, password, aad), nil
}

func (s *Encrypted) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Encrypted) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	s.values[key] = value
	return securefile.WriteEncryptedJSON(s.path, s.values, s.password, s.opt)
}

func (s *Encrypted) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return securefile.WriteEncryptedJSON(s.path, s.values, s.password, s.opt)
}

func (s *Encrypted) load() error {
	if s.loaded {
		return nil
	}

	m, err := securefile.ReadEncryptedJSON[map[string]string](s.path, s.password, s.opt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.values = map[string]string{}
			s.loaded = true
			return nil
		}
		return fmt.Errorf("load encrypted store %s: %w", s.path, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	s.values = m
	s.loaded = true
	return nil
}
