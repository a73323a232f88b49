package engine

import "time"

// Kind distinguishes self-sufficient snapshots from delta snapshots.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// Status is the integrity state of a backup record.
// A backup is created as StatusInProgress and flipped to StatusValid only
// after its archive has been atomically moved into the store. Anything still
// in progress when the engine starts up is demoted to StatusCorrupt.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusValid      Status = "valid"
	StatusCorrupt    Status = "corrupt"
)

// Backup is one immutable backup record. ParentID is empty for full backups.
type Backup struct {
	ID          string
	Kind        Kind
	ParentID    string
	CreatedAt   time.Time
	Status      Status
	ArchiveSize int64
	Reason      string
}

// FileEntry is one file in a backup's manifest. The manifest always describes
// the complete source state at backup time; Archived marks the subset of
// entries whose content is physically present in this backup's archive
// (everything for a full backup, changed/added files for an incremental).
type FileEntry struct {
	Path     string // payload-relative, e.g. "database", "keys/salt", "attachments/x.age"
	Checksum string // SHA-256, hex
	Size     int64
	Archived bool
}

// RestorePlan is the ordered sequence of backups whose sequential application
// reconstructs the target point in time: the chain's full backup first, then
// each incremental up to and including the target. Derived, never persisted.
type RestorePlan struct {
	Target *Backup
	Steps  []*Backup
}

// Result summarizes a finished backup attempt for the post-backup command
// and for logging. Backup is nil when the attempt failed before a record was
// produced.
type Result struct {
	Backup *Backup
	Reason string
	Err    error
}

// Payload path layout inside archives and manifests. The source files keep
// these fixed names so restore can map them back to the configured locations
// regardless of how the live files are named.
const (
	PayloadDatabase    = "database"
	PayloadKeysPrefix  = "keys/"
	PayloadAttachments = "attachments/"
)
