// Package fs holds the small filesystem helpers shared by the snapshot
// builder and the restore resolver: checksummed copies and atomic renames.
package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile copies src to dst, creating parent directories as needed, and
// returns the SHA-256 checksum (hex) and size of the copied bytes. The
// checksum is computed from the bytes actually written, so it is always
// consistent with the copy even if the source changes afterwards.
func CopyFile(src, dst string) (checksum string, size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return "", 0, fmt.Errorf("creating destination directory: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", 0, fmt.Errorf("creating destination: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return "", 0, fmt.Errorf("copying data: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", 0, fmt.Errorf("closing destination: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Sha256File returns the SHA-256 checksum (hex) and size of a file.
func Sha256File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ReplaceWithBackup renames live aside to live+suffix (removing any stale
// copy from a previous run), then moves staged into the live location.
// On failure it puts the original back. The returned undo function restores
// the original; the returned commit function deletes the aside copy.
func ReplaceWithBackup(staged, live, suffix string) (commit func() error, undo func() error, err error) {
	aside := live + suffix

	if err := os.RemoveAll(aside); err != nil {
		return nil, nil, fmt.Errorf("removing stale aside copy: %w", err)
	}

	liveExists := true
	if _, err := os.Lstat(live); err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("stat live path: %w", err)
		}
		liveExists = false
	}

	if liveExists {
		if err := os.Rename(live, aside); err != nil {
			return nil, nil, fmt.Errorf("moving live aside: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(live), 0700); err != nil {
		if liveExists {
			os.Rename(aside, live)
		}
		return nil, nil, fmt.Errorf("creating live parent directory: %w", err)
	}

	if err := os.Rename(staged, live); err != nil {
		if liveExists {
			os.Rename(aside, live)
		}
		return nil, nil, fmt.Errorf("moving staged into place: %w", err)
	}

	commit = func() error { return os.RemoveAll(aside) }
	undo = func() error {
		if err := os.RemoveAll(live); err != nil {
			return err
		}
		if !liveExists {
			return nil
		}
		return os.Rename(aside, live)
	}
	return commit, undo, nil
}
