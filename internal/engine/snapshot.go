package engine

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	chartfs "chartbak/internal/fs"
)

// archiveManifest is the manifest document written into every archive, making
// each backup self-describing even if the catalog is lost.
type archiveManifest struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	ParentID  string      `json:"parent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Reason    string      `json:"reason,omitempty"`
	Files     []FileEntry `json:"files"`
}

const manifestName = "manifest.json"

// Backup produces one self-consistent backup unit and records it.
//
// The order is itself an invariant: the WAL checkpoint must complete and be
// confirmed before any file is copied, otherwise committed writes still
// sitting in the WAL would be missing from the snapshot. After the archive
// has been atomically moved into the store the catalog record flips from
// in_progress to valid; a crash at any earlier point leaves at worst an
// in_progress record, which startup recovery discards.
func (e *Engine) Backup(ctx context.Context, reason string, forceFull bool) (*Backup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind, parent, err := e.DecideBackupKind(forceFull)
	if err != nil {
		return nil, err
	}

	// Step 1: flush committed transactions into the main database file.
	if err := e.checkpoint.Checkpoint(ctx); err != nil {
		return nil, &CheckpointError{Err: err}
	}

	now := e.clock.Now()
	b := &Backup{
		ID:        e.newBackupID(now),
		Kind:      kind,
		CreatedAt: now,
		Status:    StatusInProgress,
		Reason:    reason,
	}
	if parent != nil {
		b.ParentID = parent.ID
	}
	e.logger.Info("backup started", "backup", b.ID, "kind", b.Kind, "reason", reason)

	// Step 2: copy database, encryption material and attachments into staging.
	stageRoot := filepath.Join(e.settings.StagingDir, b.ID)
	defer os.RemoveAll(stageRoot)

	entries, err := e.stageSources(stageRoot)
	if err != nil {
		return nil, &SnapshotIOError{Err: err}
	}

	// Step 3: for an incremental, archive only files that changed since the
	// parent. The manifest still lists the complete state.
	if kind == KindIncremental {
		parentFiles, err := e.catalog.Files(parent.ID)
		if err != nil {
			return nil, fmt.Errorf("loading parent manifest: %w", err)
		}
		markChanged(entries, parentFiles)
	}

	// Step 4: compress the staged payload.
	archivePath := stageRoot + ".tar.gz"
	defer os.Remove(archivePath)

	size, err := writeArchive(archivePath, stageRoot, b, entries)
	if err != nil {
		return nil, &SnapshotIOError{Err: err}
	}

	// Step 5: record, move into the store, then mark valid.
	if err := e.catalog.Create(b, entries); err != nil {
		return nil, fmt.Errorf("recording backup: %w", err)
	}

	if err := e.putArchive(b.ID, archivePath, size); err != nil {
		if merr := e.catalog.MarkCorrupt(b.ID); merr != nil {
			e.logger.Error("could not mark failed backup corrupt", "backup", b.ID, "error", merr)
		}
		return nil, &SnapshotIOError{Err: err}
	}

	if err := e.catalog.Finalize(b.ID, size); err != nil {
		return nil, fmt.Errorf("finalizing backup: %w", err)
	}
	b.Status = StatusValid
	b.ArchiveSize = size
	e.logger.Info("backup complete", "backup", b.ID, "kind", b.Kind, "size", size)

	if err := e.prune(); err != nil {
		e.logger.Warn("retention pruning failed", "error", err)
	}

	return b, nil
}

// stageSources copies the database file, the encryption-material artifacts
// and the attachments directory into stageRoot under their payload names and
// returns the complete manifest, sorted by path, with every entry marked
// archived. Checksums are computed from the staged copies.
func (e *Engine) stageSources(stageRoot string) ([]FileEntry, error) {
	var entries []FileEntry

	stage := func(src, payloadPath string) error {
		checksum, size, err := chartfs.CopyFile(src, filepath.Join(stageRoot, filepath.FromSlash(payloadPath)))
		if err != nil {
			return fmt.Errorf("staging %s: %w", payloadPath, err)
		}
		entries = append(entries, FileEntry{Path: payloadPath, Checksum: checksum, Size: size, Archived: true})
		return nil
	}

	if err := stage(e.settings.DatabasePath, PayloadDatabase); err != nil {
		return nil, err
	}

	for _, keyFile := range e.settings.KeyFiles {
		if err := stage(keyFile, PayloadKeysPrefix+filepath.Base(keyFile)); err != nil {
			return nil, err
		}
	}

	err := filepath.WalkDir(e.settings.AttachmentsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.settings.AttachmentsDir, path)
		if err != nil {
			return err
		}
		return stage(path, PayloadAttachments+filepath.ToSlash(rel))
	})
	if err != nil {
		if os.IsNotExist(err) {
			// No attachments yet. The directory appears once the first
			// attachment is uploaded.
			e.logger.Debug("attachments directory absent", "path", e.settings.AttachmentsDir)
		} else {
			return nil, fmt.Errorf("staging attachments: %w", err)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// markChanged clears the Archived flag on entries whose content is unchanged
// from the parent manifest, leaving only added and changed files in the
// archive. Files present in the parent but absent now simply do not appear
// in the manifest; restore treats the target manifest as authoritative.
func markChanged(entries []FileEntry, parentFiles []FileEntry) {
	parentSums := make(map[string]string, len(parentFiles))
	for _, pf := range parentFiles {
		parentSums[pf.Path] = pf.Checksum
	}
	for i := range entries {
		if sum, ok := parentSums[entries[i].Path]; ok && sum == entries[i].Checksum {
			entries[i].Archived = false
		}
	}
}

// writeArchive writes a gzip-compressed tar archive containing the manifest
// document followed by every archived entry, and returns the archive size.
func writeArchive(archivePath, stageRoot string, b *Backup, entries []FileEntry) (int64, error) {
	f, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	doc := archiveManifest{
		ID:        b.ID,
		Kind:      b.Kind,
		ParentID:  b.ParentID,
		CreatedAt: b.CreatedAt,
		Reason:    b.Reason,
		Files:     entries,
	}
	manifest, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding manifest: %w", err)
	}

	if err := writeTarFile(tw, manifestName, b.CreatedAt, int64(len(manifest)), func(w io.Writer) error {
		_, err := w.Write(manifest)
		return err
	}); err != nil {
		return 0, err
	}

	for _, entry := range entries {
		if !entry.Archived {
			continue
		}
		src := filepath.Join(stageRoot, filepath.FromSlash(entry.Path))
		if err := writeTarFile(tw, entry.Path, b.CreatedAt, entry.Size, func(w io.Writer) error {
			in, err := os.Open(src)
			if err != nil {
				return err
			}
			defer in.Close()
			_, err = io.Copy(w, in)
			return err
		}); err != nil {
			return 0, fmt.Errorf("archiving %s: %w", entry.Path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("closing gzip writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return info.Size(), nil
}

func writeTarFile(tw *tar.Writer, name string, modTime time.Time, size int64, write func(io.Writer) error) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0600,
		Size:    size,
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	return write(tw)
}

// putArchive streams a finished archive file into the store.
func (e *Engine) putArchive(id, archivePath string, size int64) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	if err := e.store.Put(id, f, size); err != nil {
		return fmt.Errorf("storing archive: %w", err)
	}
	return nil
}
