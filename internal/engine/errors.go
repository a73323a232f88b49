package engine

import "fmt"

// CheckpointError means the live database could not flush its write-ahead log.
// Fatal to the current attempt, retryable at the next trigger.
type CheckpointError struct {
	Err error
}

func (e *CheckpointError) Error() string { return fmt.Sprintf("wal checkpoint: %v", e.Err) }
func (e *CheckpointError) Unwrap() error { return e.Err }

// SnapshotIOError means staging or copying failed (disk full, permissions).
// The current attempt aborts with no partial artifact retained.
type SnapshotIOError struct {
	Err error
}

func (e *SnapshotIOError) Error() string { return fmt.Sprintf("snapshot i/o: %v", e.Err) }
func (e *SnapshotIOError) Unwrap() error { return e.Err }

// ChainIntegrityError means an expected parent backup is missing or corrupt.
// It blocks creation of a dependent incremental; the chain manager reacts by
// forcing a full backup instead.
type ChainIntegrityError struct {
	BackupID string
	Err      error
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity (backup %s): %v", e.BackupID, e.Err)
}
func (e *ChainIntegrityError) Unwrap() error { return e.Err }

// RestoreVerificationError means the restored payload failed verification
// (checksum mismatch, database does not open, encryption material unusable).
// Restore aborts before the staged payload is swapped into place.
type RestoreVerificationError struct {
	Err error
}

func (e *RestoreVerificationError) Error() string {
	return fmt.Sprintf("restore verification: %v", e.Err)
}
func (e *RestoreVerificationError) Unwrap() error { return e.Err }

// ExternalCommandError means the post-backup command failed or timed out.
// Logged only, never fatal, never retried.
type ExternalCommandError struct {
	Command string
	Err     error
}

func (e *ExternalCommandError) Error() string {
	return fmt.Sprintf("post-backup command %q: %v", e.Command, e.Err)
}
func (e *ExternalCommandError) Unwrap() error { return e.Err }
