package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"chartbak/internal/engine"
)

// SourceTree is a throwaway live-data layout for engine tests: a database
// file, the three encryption-material artifacts and an attachments directory,
// plus a staging directory.
type SourceTree struct {
	Root     string
	Settings engine.Settings
}

// NewSourceTree builds a source tree under t.TempDir() with plain-file
// stand-ins for the database and keys.
func NewSourceTree(t *testing.T) *SourceTree {
	t.Helper()

	root := t.TempDir()
	keysDir := filepath.Join(root, "keys")
	attachments := filepath.Join(root, "attachments")
	for _, dir := range []string{keysDir, attachments} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			t.Fatalf("creating %s: %v", dir, err)
		}
	}

	dbPath := filepath.Join(root, "records.db")
	saltPath := filepath.Join(keysDir, "salt")
	pubPath := filepath.Join(keysDir, "chartbak.pub")
	privPath := filepath.Join(keysDir, "chartbak.key")

	files := map[string]string{
		dbPath:   "database contents v1",
		saltPath: "salt bytes",
		pubPath:  "public key",
		privPath: "wrapped private key",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}

	return &SourceTree{
		Root: root,
		Settings: engine.Settings{
			DatabasePath:   dbPath,
			KeyFiles:       []string{saltPath, pubPath, privPath},
			AttachmentsDir: attachments,
			StagingDir:     filepath.Join(root, "staging"),
		},
	}
}

// WriteDatabase overwrites the database stand-in file.
func (s *SourceTree) WriteDatabase(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(s.Settings.DatabasePath, []byte(content), 0600); err != nil {
		t.Fatalf("writing database: %v", err)
	}
}

// WriteAttachment creates or overwrites a file under the attachments
// directory. name may contain slashes.
func (s *SourceTree) WriteAttachment(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(s.Settings.AttachmentsDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("creating attachment dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing attachment: %v", err)
	}
}

// RemoveAttachment deletes a file under the attachments directory.
func (s *SourceTree) RemoveAttachment(t *testing.T, name string) {
	t.Helper()
	path := filepath.Join(s.Settings.AttachmentsDir, filepath.FromSlash(name))
	if err := os.Remove(path); err != nil {
		t.Fatalf("removing attachment: %v", err)
	}
}

// ReadFile reads a file and fails the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}
