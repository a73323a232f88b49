package catalog

import (
	"fmt"
	"sort"
	"sync"

	"chartbak/internal/engine"
)

// MemoryCatalog is an in-memory implementation of engine.Catalog for tests.
type MemoryCatalog struct {
	mu      sync.Mutex
	backups map[string]*engine.Backup
	files   map[string][]engine.FileEntry
}

var _ engine.Catalog = (*MemoryCatalog)(nil)

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		backups: make(map[string]*engine.Backup),
		files:   make(map[string][]engine.FileEntry),
	}
}

func (c *MemoryCatalog) Create(b *engine.Backup, files []engine.FileEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.backups[b.ID]; exists {
		return fmt.Errorf("backup already exists: %s", b.ID)
	}

	stored := *b
	stored.Status = engine.StatusInProgress
	c.backups[b.ID] = &stored
	c.files[b.ID] = append([]engine.FileEntry(nil), files...)
	return nil
}

func (c *MemoryCatalog) Finalize(id string, archiveSize int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.backups[id]
	if !ok {
		return fmt.Errorf("backup not found: %s", id)
	}
	b.Status = engine.StatusValid
	b.ArchiveSize = archiveSize
	return nil
}

func (c *MemoryCatalog) MarkCorrupt(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.backups[id]
	if !ok {
		return fmt.Errorf("backup not found: %s", id)
	}
	b.Status = engine.StatusCorrupt
	return nil
}

func (c *MemoryCatalog) Get(id string) (*engine.Backup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.backups[id]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (c *MemoryCatalog) List() ([]*engine.Backup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	backups := make([]*engine.Backup, 0, len(c.backups))
	for _, b := range c.backups {
		copied := *b
		backups = append(backups, &copied)
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].ID > backups[j].ID
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func (c *MemoryCatalog) Files(id string) ([]engine.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	files, ok := c.files[id]
	if !ok {
		return nil, fmt.Errorf("backup not found: %s", id)
	}
	return append([]engine.FileEntry(nil), files...), nil
}

func (c *MemoryCatalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.backups, id)
	delete(c.files, id)
	return nil
}

func (c *MemoryCatalog) RecoverInProgress() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id, b := range c.backups {
		if b.Status == engine.StatusInProgress {
			b.Status = engine.StatusCorrupt
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *MemoryCatalog) Close() error { return nil }
