package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chartbak/internal/engine"
)

// FileSystemStore keeps backup archives as files in one directory — a local
// folder or a mounted cloud-sync folder. Archives are written to a temp file
// first and renamed into place so a crash mid-write never leaves a partially
// visible archive.
//
//	<root>/
//	  archives/
//	    <backupID>.tar.gz
type FileSystemStore struct {
	root        string
	archivesDir string
}

var _ engine.Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates a filesystem store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	archivesDir := filepath.Join(root, "archives")
	if err := os.MkdirAll(archivesDir, 0700); err != nil {
		return nil, fmt.Errorf("creating archives directory: %w", err)
	}
	return &FileSystemStore{root: root, archivesDir: archivesDir}, nil
}

func (s *FileSystemStore) archivePath(id string) string {
	return filepath.Join(s.archivesDir, id+".tar.gz")
}

// Put stores an archive atomically via temp file + rename.
func (s *FileSystemStore) Put(id string, r io.Reader, size int64) error {
	tmpFile, err := os.CreateTemp(s.archivesDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, s.archivePath(id)); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

func (s *FileSystemStore) Get(id string, w io.Writer) error {
	f, err := os.Open(s.archivePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive not found: %s", id)
		}
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Delete(id string) error {
	if err := os.Remove(s.archivePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting archive: %w", err)
	}
	return nil
}

// Validate verifies that the store directories are accessible.
func (s *FileSystemStore) Validate() error {
	for _, dir := range []string{s.root, s.archivesDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", dir)
		}
	}
	return nil
}
