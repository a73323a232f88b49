package engine

import (
	"errors"
	"fmt"
)

// DecideBackupKind decides whether the next backup should be full or
// incremental. A full backup is taken when forceFull is set, when no valid
// full backup exists, or when the active chain exceeds the configured age or
// length threshold. Otherwise the next backup is an incremental parented on
// the most recent valid backup in the active chain — chains deepen rather
// than fan out from the full backup.
//
// A broken chain (expected parent missing or corrupt) is reported, logged
// and answered with a forced full backup so the next backup is always
// possible.
func (e *Engine) DecideBackupKind(forceFull bool) (Kind, *Backup, error) {
	if forceFull {
		return KindFull, nil, nil
	}

	backups, err := e.catalog.List()
	if err != nil {
		return "", nil, fmt.Errorf("listing backups: %w", err)
	}

	var newestValid, newestFull *Backup
	for _, b := range backups {
		if b.Status != StatusValid {
			continue
		}
		if newestValid == nil {
			newestValid = b
		}
		if newestFull == nil && b.Kind == KindFull {
			newestFull = b
		}
	}

	if newestFull == nil {
		return KindFull, nil, nil
	}

	if e.settings.FullMaxAge > 0 && e.clock.Now().Sub(newestFull.CreatedAt) > e.settings.FullMaxAge {
		e.logger.Info("full backup threshold reached", "age", e.clock.Now().Sub(newestFull.CreatedAt))
		return KindFull, nil, nil
	}

	// Validate the prospective parent's ancestry before committing to an
	// incremental: an incremental on a broken chain would be unrestorable.
	chain, err := e.ChainFor(newestValid.ID)
	if err != nil {
		var cerr *ChainIntegrityError
		if errors.As(err, &cerr) {
			e.logger.Warn("chain broken, forcing full backup", "backup", newestValid.ID, "error", err)
			return KindFull, nil, nil
		}
		return "", nil, err
	}

	if e.settings.FullMaxIncrementals > 0 && len(chain)-1 >= e.settings.FullMaxIncrementals {
		e.logger.Info("incremental limit reached", "chain_length", len(chain))
		return KindFull, nil, nil
	}

	return KindIncremental, newestValid, nil
}

// ChainFor returns the ordered ancestry of a backup: the chain's root full
// backup first, then each incremental down to and including the given backup.
// Every member must exist and be valid, otherwise a ChainIntegrityError is
// returned.
func (e *Engine) ChainFor(id string) ([]*Backup, error) {
	var chain []*Backup
	seen := make(map[string]bool)

	for cur := id; cur != ""; {
		if seen[cur] {
			return nil, &ChainIntegrityError{BackupID: cur, Err: fmt.Errorf("parent cycle")}
		}
		seen[cur] = true

		b, err := e.catalog.Get(cur)
		if err != nil {
			return nil, fmt.Errorf("loading backup %s: %w", cur, err)
		}
		if b == nil {
			return nil, &ChainIntegrityError{BackupID: cur, Err: fmt.Errorf("backup not found")}
		}
		if b.Status != StatusValid {
			return nil, &ChainIntegrityError{BackupID: cur, Err: fmt.Errorf("backup is %s", b.Status)}
		}

		chain = append(chain, b)
		cur = b.ParentID
	}

	root := chain[len(chain)-1]
	if root.Kind != KindFull {
		return nil, &ChainIntegrityError{BackupID: root.ID, Err: fmt.Errorf("chain root is not a full backup")}
	}

	// Reverse to root-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}

// PlanFor computes the restore plan for a target backup.
func (e *Engine) PlanFor(id string) (*RestorePlan, error) {
	chain, err := e.ChainFor(id)
	if err != nil {
		return nil, err
	}
	return &RestorePlan{Target: chain[len(chain)-1], Steps: chain}, nil
}

// ListBackups returns valid backups as one flat list, newest first, across
// all chains. Users pick a point in time, not a chain; the tree stays the
// internal source of truth and this flattening is computed on demand.
// With includeAll set, in-progress and corrupt records are included too.
func (e *Engine) ListBackups(includeAll bool) ([]*Backup, error) {
	backups, err := e.catalog.List()
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	if includeAll {
		return backups, nil
	}

	valid := backups[:0:0]
	for _, b := range backups {
		if b.Status == StatusValid {
			valid = append(valid, b)
		}
	}
	return valid, nil
}
