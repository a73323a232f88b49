package engine

// Catalog persists backup records, their manifests and chain relationships.
// It is the source of truth for what backups exist; the archive store only
// holds the payload bytes. Implementations must never expose a backup as
// valid before Finalize has been called for it.
type Catalog interface {
	// Create inserts a backup record with StatusInProgress together with its
	// complete file manifest.
	Create(b *Backup, files []FileEntry) error

	// Finalize flips the backup to StatusValid and records the archive size.
	// Only after this call may the backup appear in restore plans.
	Finalize(id string, archiveSize int64) error

	// MarkCorrupt flips the backup to StatusCorrupt.
	MarkCorrupt(id string) error

	// Get returns a backup by ID, or nil if it does not exist.
	Get(id string) (*Backup, error)

	// List returns all backups ordered newest first, across all chains.
	List() ([]*Backup, error)

	// Files returns the manifest of a backup.
	Files(id string) ([]FileEntry, error)

	// Delete removes a backup record and its manifest.
	Delete(id string) error

	// RecoverInProgress marks every StatusInProgress backup as corrupt and
	// returns their IDs. Called once at engine startup; a record left in
	// progress means the process died mid-backup.
	RecoverInProgress() ([]string, error)

	// Close closes the catalog.
	Close() error
}
