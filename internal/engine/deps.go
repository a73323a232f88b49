package engine

import (
	"context"
	"io"
)

// Checkpointer forces a write-ahead-log checkpoint against the live database
// so that every committed transaction is merged into the main database file.
// Checkpoint must not return until the flush is confirmed: the snapshot
// builder copies the database file immediately afterwards, and an unflushed
// WAL would silently drop the most recent writes from the backup.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Runner executes the configured external post-backup command.
type Runner interface {
	// Run executes the command once for the given backup result. It is
	// bounded by the runner's configured timeout. A failure is reported as
	// an error but must never be retried by the caller.
	Run(ctx context.Context, res *Result) error
}

// DecryptionContext holds an unlocked decryption key in memory for the
// duration of a session. It is supplied by the surrounding session
// collaborator and is never written to disk by the engine.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Verifier validates a fully-applied restore staging root before it is
// swapped into the live locations. root is the staged payload directory laid
// out like an archive payload; files is the target backup's manifest.
// sess may be nil, in which case material-matching checks that need the
// unlocked key are skipped.
type Verifier interface {
	Verify(root string, files []FileEntry, sess DecryptionContext) error
}
