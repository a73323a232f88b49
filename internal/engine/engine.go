package engine

import (
	"fmt"
	"sync"
	"time"
)

// Settings is the engine's view of the configuration surface. The app layer
// translates the TOML config into this struct; the engine never reads config
// files itself.
type Settings struct {
	// Source locations owned by the surrounding application.
	DatabasePath   string
	KeyFiles       []string // encryption-material artifacts: salt, recipient, wrapped identity
	AttachmentsDir string

	// Scratch space for building and applying snapshots.
	StagingDir string

	// Full-backup threshold: a new full is taken when the newest full is
	// older than FullMaxAge or its chain already carries FullMaxIncrementals
	// incrementals. Zero values disable the respective check.
	FullMaxAge          time.Duration
	FullMaxIncrementals int

	// Retention: keep the newest KeepChains chains; additionally drop chains
	// whose newest backup is older than MaxChainAge. Zero values disable the
	// respective rule.
	KeepChains  int
	MaxChainAge time.Duration
}

// Engine coordinates snapshot building, chain management, restore and
// retention over one shared resource: the live database file plus the
// attachments directory. A single mutex serializes backups and restores;
// the process-level lock file is the app layer's responsibility.
type Engine struct {
	settings   Settings
	catalog    Catalog
	store      Store
	checkpoint Checkpointer
	verifier   Verifier
	logger     Logger
	clock      Clock
	idgen      IDGenerator

	mu sync.Mutex // held for the full duration of a backup or restore
}

// New creates an Engine and runs startup recovery: any backup record still
// marked in progress belongs to a process that died mid-backup and is demoted
// to corrupt, and its stray archive (if any) is deleted.
func New(settings Settings, catalog Catalog, store Store, checkpoint Checkpointer, verifier Verifier, logger Logger, clock Clock, idgen IDGenerator) (*Engine, error) {
	e := &Engine{
		settings:   settings,
		catalog:    catalog,
		store:      store,
		checkpoint: checkpoint,
		verifier:   verifier,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
	}

	ids, err := catalog.RecoverInProgress()
	if err != nil {
		return nil, fmt.Errorf("recovering interrupted backups: %w", err)
	}
	for _, id := range ids {
		if err := store.Delete(id); err != nil {
			logger.Warn("could not delete stray archive", "backup", id, "error", err)
		}
		logger.Warn("discarded interrupted backup", "backup", id)
	}

	return e, nil
}

// newBackupID derives a backup ID from the current time plus a short random
// suffix. The timestamp prefix keeps IDs lexically ordered by creation time.
func (e *Engine) newBackupID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + e.idgen.New()
}
