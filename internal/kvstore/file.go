package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/securefile"
)

type fileStore struct {
	Schema int               `json:"schema"`
	Values map[string]string `json:"values"`
}

// File persists keys as a schema-versioned JSON map with atomic writes.
type File struct {
	mu    sync.Mutex
	path  string
	store fileStore
}

// NewFile resolves path using the app config path candidates, picking the first
// existing candidate, else the first candidate as the target path.
func NewFile(filename string) (*File, error) {
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
	return NewFileAt(path), nil
}

// NewFileAt opens a file store at an explicit path.
func NewFileAt(path string) *File {
	return &File{
		path:  path,
		store: fileStore{Schema: constants.SchemaV1, Values: map[string]string{}},
	}
}

func (f *File) Path() string { return f.path }

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoadedIfExists(); err != nil {
		return "", false, err
	}
	v, ok := f.store.Values[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoadedIfExists(); err != nil {
		return err
	}
	f.store.Values[key] = value
	return f.persist()
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoadedIfExists(); err != nil {
		return err
	}
	if _, ok := f.store.Values[key]; !ok {
		return nil // idempotent
	}
	delete(f.store.Values, key)
	return f.persist()
}

func (f *File) ensureLoadedIfExists() error {
	if len(f.store.Values) > 0 {
		return nil
	}
	if !exists(f.path) {
		return nil
	}

	b, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read store file: %w", err)
	}

	var s fileStore
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unmarshal store file: %w", err)
	}
	if s.Schema == 0 {
		s.Schema = constants.SchemaV1
	}
	if s.Values == nil {
		s.Values = map[string]string{}
	}
	f.store = s
	return nil
}

func (f *File) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), constants.DirectoryPerm); err != nil {
		return fmt.Errorf("mkdir store dir: %w", err)
	}

	b, err := json.MarshalIndent(f.store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	return securefile.AtomicWriteFile(f.path, b, constants.FilePerm)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
