package store

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"chartbak/internal/engine"
)

// MemoryStore is an in-memory implementation of the Store interface, useful
// for testing. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	archives map[string][]byte
}

var _ engine.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{archives: make(map[string][]byte)}
}

func (m *MemoryStore) Put(id string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[id] = data
	return nil
}

func (m *MemoryStore) Get(id string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.archives[id]
	if !ok {
		return fmt.Errorf("archive not found: %s", id)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.archives, id)
	return nil
}

func (m *MemoryStore) Validate() error { return nil }

// Len returns the number of stored archives. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archives)
}

// Has reports whether an archive exists for the given backup ID. Test helper.
func (m *MemoryStore) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.archives[id]
	return ok
}
