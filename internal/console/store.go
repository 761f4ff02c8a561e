package console

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// UsernameKey is the key the session username is persisted under.
const UsernameKey = "username"

// MemoryStore keeps the value in memory only.
type MemoryStore struct {
	mu    sync.Mutex
	value string
	set   bool
}

func NewMemoryStore(initial string) *MemoryStore {
	return &MemoryStore{value: initial, set: initial != ""}
}

func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

func (m *MemoryStore) Save(value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value, m.set = value, true
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value, m.set = "", false
	return nil
}

// Has reports whether a value is currently stored.
func (m *MemoryStore) Has() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set
}

// FileStore persists one key of a small yaml document, leaving the other
// keys of the document untouched. Several FileStores may share a file.
type FileStore struct {
	path string
	key  string
}

var fileLocks sync.Map

func NewFileStore(path, key string) *FileStore {
	return &FileStore{path: path, key: key}
}

func (f *FileStore) lock() func() {
	v, _ := fileLocks.LoadOrStore(f.path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (f *FileStore) Load() (string, error) {
	unlock := f.lock()
	defer unlock()

	doc, err := f.read()
	if err != nil {
		return "", err
	}
	return doc[f.key], nil
}

func (f *FileStore) Save(value string) error {
	unlock := f.lock()
	defer unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc[f.key] = value
	return f.write(doc)
}

func (f *FileStore) Clear() error {
	unlock := f.lock()
	defer unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc[f.key]; !ok {
		return nil
	}
	delete(doc, f.key)
	return f.write(doc)
}

func (f *FileStore) read() (map[string]string, error) {
	doc := map[string]string{}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	if doc == nil {
		doc = map[string]string{}
	}
	return doc, nil
}

func (f *FileStore) write(doc map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
