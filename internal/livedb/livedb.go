// Package livedb talks to the records database file through the SQLite
// driver: it forces WAL checkpoints before a snapshot is taken and verifies
// restored database files before they are swapped into place.
package livedb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"chartbak/internal/engine"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Checkpointer implements engine.Checkpointer against the live database
// file. Each checkpoint opens its own short-lived connection; the engine
// never holds the application's database handle.
type Checkpointer struct {
	path string
}

var _ engine.Checkpointer = (*Checkpointer)(nil)

func NewCheckpointer(path string) *Checkpointer {
	return &Checkpointer{path: path}
}

// Checkpoint forces a TRUNCATE checkpoint, merging every committed
// transaction from the write-ahead log into the main database file and
// resetting the log. It fails when the checkpoint could not run to
// completion (e.g. a competing reader holds the WAL), so the caller never
// copies a database file with committed writes still in the log.
func (c *Checkpointer) Checkpoint(ctx context.Context) error {
	db, err := sql.Open("sqlite3", c.path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	var busy, logFrames, checkpointed int
	row := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("running wal checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("checkpoint blocked: %d of %d frames checkpointed", checkpointed, logFrames)
	}
	return nil
}

// Verifier implements engine.Verifier for restore staging roots: the
// restored database must open and pass an integrity check, the encryption
// material must parse, and — when the session supplies its unlocked key — a
// trial decrypt must prove the restored material matches the session key.
type Verifier struct {
	verifyMaterial func(root string, sess engine.DecryptionContext) error
}

var _ engine.Verifier = (*Verifier)(nil)

// NewVerifier creates a Verifier. verifyMaterial validates the staged
// encryption-material artifacts; pass the encryption package's VerifyStaged.
func NewVerifier(verifyMaterial func(root string, sess engine.DecryptionContext) error) *Verifier {
	return &Verifier{verifyMaterial: verifyMaterial}
}

func (v *Verifier) Verify(root string, files []engine.FileEntry, sess engine.DecryptionContext) error {
	dbPath := filepath.Join(root, engine.PayloadDatabase)

	db, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("opening restored database: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("restored database does not open: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("restored database failed integrity check: %s", result)
	}

	if v.verifyMaterial != nil {
		if err := v.verifyMaterial(root, sess); err != nil {
			return fmt.Errorf("restored encryption material unusable: %w", err)
		}
	}
	return nil
}
