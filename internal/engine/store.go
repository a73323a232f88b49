package engine

import "io"

// Store holds finished backup archives keyed by backup ID.
// All operations stream through io.Reader/io.Writer so large archives never
// have to fit in memory. Put must be atomic: a crash mid-put leaves no
// partially-visible archive.
type Store interface {
	// Put stores the archive for a backup. size is the number of bytes that
	// will be read from r; implementations must fail on a size mismatch.
	Put(id string, r io.Reader, size int64) error

	// Get retrieves a backup's archive and writes it to w.
	Get(id string, w io.Writer) error

	// Delete removes a backup's archive. Deleting an absent archive is not
	// an error; the pruner relies on that when cleaning up corrupt records.
	Delete(id string) error

	// Validate verifies that the store is accessible and properly configured.
	Validate() error
}
