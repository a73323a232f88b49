package engine

import (
	"fmt"
	"sort"
)

// Prune enforces the retention policy. Exposed for the CLI; backups call the
// unexported variant with the engine mutex already held.
func (e *Engine) Prune() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prune()
}

// prune deletes whole chains beyond the retention policy, oldest first.
// Deletion is restricted to whole chains: a full backup goes together with
// every incremental that depends on it, so no retained incremental ever
// references a deleted ancestor. The newest chain is never deleted, and
// corrupt leftovers are swept as well.
func (e *Engine) prune() error {
	backups, err := e.catalog.List()
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}

	byID := make(map[string]*Backup, len(backups))
	for _, b := range backups {
		if b.Status == StatusValid {
			byID[b.ID] = b
		}
	}

	// Group valid backups into chains keyed by their root full backup.
	chains := make(map[string][]*Backup)
	for _, b := range backups {
		if b.Status != StatusValid {
			continue
		}
		root := chainRoot(b, byID)
		chains[root] = append(chains[root], b)
	}

	roots := make([]string, 0, len(chains))
	for root := range chains {
		roots = append(roots, root)
	}
	// Newest chain first. Roots without a resolvable full backup sort last
	// and are treated as expired below.
	sort.Slice(roots, func(i, j int) bool {
		bi, bj := byID[roots[i]], byID[roots[j]]
		if bi == nil || bj == nil {
			return bj == nil && bi != nil
		}
		return bi.CreatedAt.After(bj.CreatedAt)
	})

	now := e.clock.Now()
	for i, root := range roots {
		if i == 0 {
			continue // the newest chain is never deleted
		}

		members := chains[root]
		expired := false
		if e.settings.KeepChains > 0 && i >= e.settings.KeepChains {
			expired = true
		}
		if e.settings.MaxChainAge > 0 && now.Sub(newestOf(members).CreatedAt) > e.settings.MaxChainAge {
			expired = true
		}
		if byID[root] == nil {
			// Orphaned remnants of a chain whose root is already gone.
			expired = true
		}
		if !expired {
			continue
		}

		if err := e.deleteChain(members); err != nil {
			return err
		}
	}

	// Sweep corrupt records. They are always leaves (a backup only becomes
	// a parent after it is valid), so deleting them cannot dangle anything.
	for _, b := range backups {
		if b.Status != StatusCorrupt {
			continue
		}
		if err := e.deleteBackup(b); err != nil {
			return err
		}
	}

	return nil
}

// deleteChain removes every member of a chain, newest first, so that at no
// point does a surviving record reference a deleted parent.
func (e *Engine) deleteChain(members []*Backup) error {
	sort.Slice(members, func(i, j int) bool {
		return members[i].CreatedAt.After(members[j].CreatedAt)
	})
	for _, b := range members {
		if err := e.deleteBackup(b); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) deleteBackup(b *Backup) error {
	if err := e.store.Delete(b.ID); err != nil {
		return fmt.Errorf("deleting archive %s: %w", b.ID, err)
	}
	if err := e.catalog.Delete(b.ID); err != nil {
		return fmt.Errorf("deleting record %s: %w", b.ID, err)
	}
	e.logger.Info("backup pruned", "backup", b.ID, "kind", b.Kind)
	return nil
}

// chainRoot walks parent pointers to the chain's root. If an ancestor is
// missing the walk stops at the last resolvable ID, which prune treats as an
// orphaned chain.
func chainRoot(b *Backup, byID map[string]*Backup) string {
	cur := b
	for cur.ParentID != "" {
		parent, ok := byID[cur.ParentID]
		if !ok {
			return cur.ParentID
		}
		cur = parent
	}
	return cur.ID
}

func newestOf(members []*Backup) *Backup {
	newest := members[0]
	for _, b := range members[1:] {
		if b.CreatedAt.After(newest.CreatedAt) {
			newest = b
		}
	}
	return newest
}
