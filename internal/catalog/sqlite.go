package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chartbak/internal/catalog/migrations"
	"chartbak/internal/engine"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements engine.Catalog on a local SQLite database. The
// catalog lives in the state directory, next to the staging area and lock
// file, not inside the backup store: each archive additionally carries its
// own manifest document, so the catalog can be rebuilt if it is ever lost.
type SQLiteCatalog struct {
	db *sql.DB
}

var _ engine.Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens (and if necessary migrates) the catalog database.
// path can be a file path or ":memory:".
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func (c *SQLiteCatalog) Create(b *engine.Backup, files []engine.FileEntry) error {
	ctx := context.Background()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var parent any
	if b.ParentID != "" {
		parent = b.ParentID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO backups (id, kind, parent_id, created_at, status, archive_size, reason)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		b.ID, string(b.Kind), parent, b.CreatedAt.UTC(), string(engine.StatusInProgress), b.Reason)
	if err != nil {
		return fmt.Errorf("inserting backup: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO backup_files (backup_id, path, checksum, size, archived)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing file insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, b.ID, f.Path, f.Checksum, f.Size, f.Archived); err != nil {
			return fmt.Errorf("inserting manifest entry %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) Finalize(id string, archiveSize int64) error {
	return c.setStatus(id, engine.StatusValid, archiveSize)
}

func (c *SQLiteCatalog) MarkCorrupt(id string) error {
	return c.setStatus(id, engine.StatusCorrupt, 0)
}

func (c *SQLiteCatalog) setStatus(id string, status engine.Status, archiveSize int64) error {
	res, err := c.db.Exec(
		`UPDATE backups SET status = ?, archive_size = ? WHERE id = ?`,
		string(status), archiveSize, id)
	if err != nil {
		return fmt.Errorf("updating backup status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("backup not found: %s", id)
	}
	return nil
}

func (c *SQLiteCatalog) Get(id string) (*engine.Backup, error) {
	row := c.db.QueryRow(
		`SELECT id, kind, parent_id, created_at, status, archive_size, reason
		 FROM backups WHERE id = ?`, id)

	b, err := scanBackup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, fmt.Errorf("loading backup: %w", err)
	}
	return b, nil
}

func (c *SQLiteCatalog) List() ([]*engine.Backup, error) {
	rows, err := c.db.Query(
		`SELECT id, kind, parent_id, created_at, status, archive_size, reason
		 FROM backups ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	defer rows.Close()

	var backups []*engine.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backup: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backups: %w", err)
	}
	return backups, nil
}

func (c *SQLiteCatalog) Files(id string) ([]engine.FileEntry, error) {
	rows, err := c.db.Query(
		`SELECT path, checksum, size, archived FROM backup_files
		 WHERE backup_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("listing manifest entries: %w", err)
	}
	defer rows.Close()

	var files []engine.FileEntry
	for rows.Next() {
		var f engine.FileEntry
		if err := rows.Scan(&f.Path, &f.Checksum, &f.Size, &f.Archived); err != nil {
			return nil, fmt.Errorf("scanning manifest entry: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating manifest entries: %w", err)
	}
	return files, nil
}

func (c *SQLiteCatalog) Delete(id string) error {
	// backup_files rows go with the backup via ON DELETE CASCADE.
	if _, err := c.db.Exec(`DELETE FROM backups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting backup: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) RecoverInProgress() ([]string, error) {
	rows, err := c.db.Query(
		`SELECT id FROM backups WHERE status = ?`, string(engine.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("finding interrupted backups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning backup id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interrupted backups: %w", err)
	}

	for _, id := range ids {
		if err := c.MarkCorrupt(id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (*engine.Backup, error) {
	var (
		b      engine.Backup
		kind   string
		parent sql.NullString
		status string
	)
	if err := row.Scan(&b.ID, &kind, &parent, &b.CreatedAt, &status, &b.ArchiveSize, &b.Reason); err != nil {
		return nil, err
	}
	b.Kind = engine.Kind(kind)
	b.Status = engine.Status(status)
	b.ParentID = parent.String
	return &b, nil
}
