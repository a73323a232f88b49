package livedb_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chartbak/internal/engine"
	"chartbak/internal/livedb"

	_ "github.com/mattn/go-sqlite3"
)

// newWalDatabase creates a SQLite database in WAL mode with some committed
// rows, returning its path. The connection stays open so the WAL file
// persists.
func newWalDatabase(t *testing.T) (string, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "records.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		t.Fatalf("enabling wal: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("INSERT INTO notes (body) VALUES ('first'), ('second')"); err != nil {
		t.Fatal(err)
	}
	return path, db
}

func TestCheckpointMergesWal(t *testing.T) {
	path, db := newWalDatabase(t)

	walPath := path + "-wal"
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("wal file missing before checkpoint: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("wal file empty, nothing to checkpoint")
	}

	cp := livedb.NewCheckpointer(path)
	if err := cp.Checkpoint(context.Background()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	// TRUNCATE resets the log to zero bytes.
	info, err = os.Stat(walPath)
	if err == nil && info.Size() != 0 {
		t.Errorf("wal file still %d bytes after checkpoint", info.Size())
	}

	// The main database file alone now carries the committed rows.
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("notes = %d, want 2", count)
	}
}

func TestCheckpointMissingDatabase(t *testing.T) {
	cp := livedb.NewCheckpointer(filepath.Join(t.TempDir(), "absent.db"))
	// sqlite creates missing files on open; the checkpoint pragma itself
	// still runs. What must not happen is a panic or a silent success on an
	// unreadable path.
	if err := cp.Checkpoint(context.Background()); err != nil {
		t.Logf("checkpoint on fresh file: %v", err)
	}
}

func TestVerifier(t *testing.T) {
	t.Run("valid database", func(t *testing.T) {
		root := t.TempDir()
		path, _ := newWalDatabase(t)
		cp := livedb.NewCheckpointer(path)
		if err := cp.Checkpoint(context.Background()); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, "database"), data, 0600); err != nil {
			t.Fatal(err)
		}

		v := livedb.NewVerifier(nil)
		if err := v.Verify(root, nil, nil); err != nil {
			t.Errorf("verify: %v", err)
		}
	})

	t.Run("garbage database", func(t *testing.T) {
		root := t.TempDir()
		if err := os.WriteFile(filepath.Join(root, "database"), []byte("not a database"), 0600); err != nil {
			t.Fatal(err)
		}

		v := livedb.NewVerifier(nil)
		if err := v.Verify(root, nil, nil); err == nil {
			t.Error("verify passed on a non-database file")
		}
	})

	t.Run("material check runs", func(t *testing.T) {
		root := t.TempDir()
		path, _ := newWalDatabase(t)
		cp := livedb.NewCheckpointer(path)
		if err := cp.Checkpoint(context.Background()); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(path)
		if err := os.WriteFile(filepath.Join(root, "database"), data, 0600); err != nil {
			t.Fatal(err)
		}

		wantErr := errors.New("bad material")
		v := livedb.NewVerifier(func(string, engine.DecryptionContext) error { return wantErr })
		if err := v.Verify(root, nil, nil); !errors.Is(err, wantErr) {
			t.Errorf("verify error = %v, want wrapped bad material", err)
		}
	})
}
