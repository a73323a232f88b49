package engine

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	chartfs "chartbak/internal/fs"
)

// preRestoreSuffix names the aside copies of live files kept during the
// atomic swap at the end of a restore.
const preRestoreSuffix = ".pre-restore"

// Restore reconstructs the point-in-time state of the target backup and swaps
// it into the live locations. The whole chain is applied into a staging root
// first — full payload, then each incremental's changed files, then deletion
// of files absent from the target manifest — and verified there. Live data is
// only touched after verification succeeds, and the swap keeps aside copies
// so a mid-swap failure rolls back to the pre-restore state.
//
// This is a destructive, exclusive operation: it holds the engine mutex for
// its full duration and must not run concurrently with live application
// traffic.
func (e *Engine) Restore(ctx context.Context, id string, sess DecryptionContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.PlanFor(id)
	if err != nil {
		return err
	}
	e.logger.Info("restore started", "backup", id, "steps", len(plan.Steps))

	if err := os.MkdirAll(e.settings.StagingDir, 0700); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	stagedRoot := filepath.Join(e.settings.StagingDir, "restore-"+id)
	if err := os.RemoveAll(stagedRoot); err != nil {
		return fmt.Errorf("clearing restore staging: %w", err)
	}
	defer os.RemoveAll(stagedRoot)

	for _, step := range plan.Steps {
		if err := e.applyArchive(ctx, step, stagedRoot); err != nil {
			return err
		}
	}

	files, err := e.catalog.Files(plan.Target.ID)
	if err != nil {
		return fmt.Errorf("loading target manifest: %w", err)
	}

	if err := pruneToManifest(stagedRoot, files); err != nil {
		return &RestoreVerificationError{Err: err}
	}
	if err := verifyManifest(stagedRoot, files); err != nil {
		return &RestoreVerificationError{Err: err}
	}
	if err := e.verifier.Verify(stagedRoot, files, sess); err != nil {
		return &RestoreVerificationError{Err: err}
	}

	if err := e.swapIntoPlace(stagedRoot); err != nil {
		return err
	}

	e.logger.Info("restore complete", "backup", id)
	return nil
}

// applyArchive extracts one backup's archive into the staging root,
// overwriting files from earlier steps. Every extracted file's checksum is
// verified against the backup's manifest while it is written.
func (e *Engine) applyArchive(ctx context.Context, b *Backup, stagedRoot string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stepFiles, err := e.catalog.Files(b.ID)
	if err != nil {
		return fmt.Errorf("loading manifest for %s: %w", b.ID, err)
	}
	want := make(map[string]FileEntry, len(stepFiles))
	for _, f := range stepFiles {
		if f.Archived {
			want[f.Path] = f
		}
	}

	tmp, err := os.CreateTemp(e.settings.StagingDir, "fetch-*.tar.gz")
	if err != nil {
		return fmt.Errorf("creating fetch temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := e.store.Get(b.ID, tmp); err != nil {
		return &RestoreVerificationError{Err: fmt.Errorf("fetching archive %s: %w", b.ID, err)}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding fetched archive: %w", err)
	}

	gz, err := gzip.NewReader(tmp)
	if err != nil {
		return &RestoreVerificationError{Err: fmt.Errorf("reading archive %s: %w", b.ID, err)}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &RestoreVerificationError{Err: fmt.Errorf("reading archive %s: %w", b.ID, err)}
		}
		if hdr.Name == manifestName {
			continue
		}

		entry, ok := want[hdr.Name]
		if !ok {
			return &RestoreVerificationError{Err: fmt.Errorf("archive %s contains unlisted file %s", b.ID, hdr.Name)}
		}

		dst := filepath.Join(stagedRoot, filepath.FromSlash(hdr.Name))
		if err := extractFile(tr, dst, entry); err != nil {
			return &RestoreVerificationError{Err: fmt.Errorf("extracting %s from %s: %w", hdr.Name, b.ID, err)}
		}
	}

	return nil
}

// extractFile writes one tar entry to dst while hashing it, and fails on a
// checksum or size mismatch against the manifest entry.
func extractFile(r io.Reader, dst string, entry FileEntry) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("writing file: %w", err)
	}

	if n != entry.Size {
		return fmt.Errorf("size mismatch: manifest says %d bytes, archive has %d", entry.Size, n)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != entry.Checksum {
		return fmt.Errorf("checksum mismatch")
	}
	return nil
}

// pruneToManifest deletes staged files that are not part of the target
// manifest. Files removed between an incremental and its ancestors linger in
// the staging root after sequential application; the target manifest is the
// authoritative final state.
func pruneToManifest(stagedRoot string, files []FileEntry) error {
	keep := make(map[string]bool, len(files))
	for _, f := range files {
		keep[f.Path] = true
	}

	return filepath.WalkDir(stagedRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(stagedRoot, path)
		if err != nil {
			return err
		}
		if !keep[filepath.ToSlash(rel)] {
			return os.Remove(path)
		}
		return nil
	})
}

// verifyManifest checks that every manifest entry exists in the staging root
// with the expected checksum and size.
func verifyManifest(stagedRoot string, files []FileEntry) error {
	for _, f := range files {
		sum, size, err := chartfs.Sha256File(filepath.Join(stagedRoot, filepath.FromSlash(f.Path)))
		if err != nil {
			return fmt.Errorf("verifying %s: %w", f.Path, err)
		}
		if size != f.Size || sum != f.Checksum {
			return fmt.Errorf("verifying %s: content does not match manifest", f.Path)
		}
	}
	return nil
}

// swapIntoPlace atomically replaces the live database file, encryption
// material and attachments directory with the verified staged payload.
// Already-swapped targets are rolled back if a later swap fails.
func (e *Engine) swapIntoPlace(stagedRoot string) error {
	// Attachments always swap as a whole directory, even when the target
	// state has none.
	stagedAttachments := filepath.Join(stagedRoot, "attachments")
	if err := os.MkdirAll(stagedAttachments, 0700); err != nil {
		return fmt.Errorf("preparing staged attachments: %w", err)
	}

	type swap struct {
		staged string
		live   string
	}
	swaps := []swap{
		{filepath.Join(stagedRoot, PayloadDatabase), e.settings.DatabasePath},
		{stagedAttachments, e.settings.AttachmentsDir},
	}
	for _, keyFile := range e.settings.KeyFiles {
		swaps = append(swaps, swap{
			filepath.Join(stagedRoot, "keys", filepath.Base(keyFile)),
			keyFile,
		})
	}

	var commits, undos []func() error
	for _, s := range swaps {
		commit, undo, err := chartfs.ReplaceWithBackup(s.staged, s.live, preRestoreSuffix)
		if err != nil {
			for i := len(undos) - 1; i >= 0; i-- {
				if uerr := undos[i](); uerr != nil {
					e.logger.Error("rollback failed", "error", uerr)
				}
			}
			return fmt.Errorf("swapping %s: %w", strings.TrimPrefix(s.live, string(filepath.Separator)), err)
		}
		commits = append(commits, commit)
		undos = append(undos, undo)
	}

	for _, commit := range commits {
		if err := commit(); err != nil {
			e.logger.Warn("could not remove pre-restore copy", "error", err)
		}
	}
	return nil
}
