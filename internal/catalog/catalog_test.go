package catalog_test

import (
	"path/filepath"
	"sort"
	"testing"
	"time"

	"chartbak/internal/catalog"
	"chartbak/internal/engine"
)

// implementations returns a fresh instance of every Catalog implementation,
// so both run the same conformance subtests.
func implementations(t *testing.T) map[string]engine.Catalog {
	t.Helper()

	sqlite, err := catalog.NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("opening sqlite catalog: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]engine.Catalog{
		"sqlite": sqlite,
		"memory": catalog.NewMemoryCatalog(),
	}
}

func testBackup(id string, kind engine.Kind, parentID string, createdAt time.Time) *engine.Backup {
	return &engine.Backup{
		ID:        id,
		Kind:      kind,
		ParentID:  parentID,
		CreatedAt: createdAt,
		Reason:    "manual",
	}
}

func TestCatalogLifecycle(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	files := []engine.FileEntry{
		{Path: "database", Checksum: "aaa", Size: 10, Archived: true},
		{Path: "keys/salt", Checksum: "bbb", Size: 32, Archived: true},
	}

	for name, cat := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := cat.Create(testBackup("b1", engine.KindFull, "", base), files); err != nil {
				t.Fatalf("create: %v", err)
			}

			b, err := cat.Get("b1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if b == nil {
				t.Fatal("backup not found after create")
			}
			if b.Status != engine.StatusInProgress {
				t.Errorf("status after create = %s, want %s", b.Status, engine.StatusInProgress)
			}
			if !b.CreatedAt.Equal(base) {
				t.Errorf("created_at = %v, want %v", b.CreatedAt, base)
			}

			if err := cat.Finalize("b1", 1234); err != nil {
				t.Fatalf("finalize: %v", err)
			}
			b, _ = cat.Get("b1")
			if b.Status != engine.StatusValid || b.ArchiveSize != 1234 {
				t.Errorf("after finalize: status=%s size=%d, want valid/1234", b.Status, b.ArchiveSize)
			}

			got, err := cat.Files("b1")
			if err != nil {
				t.Fatalf("files: %v", err)
			}
			if len(got) != len(files) {
				t.Fatalf("manifest has %d entries, want %d", len(got), len(files))
			}
			for i, f := range files {
				if got[i] != f {
					t.Errorf("files[%d] = %+v, want %+v", i, got[i], f)
				}
			}

			if err := cat.Delete("b1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			b, err = cat.Get("b1")
			if err != nil {
				t.Fatalf("get after delete: %v", err)
			}
			if b != nil {
				t.Error("backup still present after delete")
			}
		})
	}
}

func TestCatalogGetUnknown(t *testing.T) {
	for name, cat := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			b, err := cat.Get("nope")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if b != nil {
				t.Errorf("got %+v for unknown id, want nil", b)
			}

			if err := cat.Finalize("nope", 1); err == nil {
				t.Error("finalize of unknown id did not fail")
			}
			if err := cat.MarkCorrupt("nope"); err == nil {
				t.Error("mark corrupt of unknown id did not fail")
			}
		})
	}
}

func TestCatalogListOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for name, cat := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			// Insert out of chronological order.
			for _, b := range []*engine.Backup{
				testBackup("mid", engine.KindIncremental, "old", base.Add(time.Hour)),
				testBackup("new", engine.KindIncremental, "mid", base.Add(2*time.Hour)),
				testBackup("old", engine.KindFull, "", base),
			} {
				if err := cat.Create(b, nil); err != nil {
					t.Fatalf("create %s: %v", b.ID, err)
				}
			}

			backups, err := cat.List()
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []string{"new", "mid", "old"}
			if len(backups) != len(want) {
				t.Fatalf("list has %d entries, want %d", len(backups), len(want))
			}
			for i, id := range want {
				if backups[i].ID != id {
					t.Errorf("list[%d] = %s, want %s", i, backups[i].ID, id)
				}
			}
			if backups[0].ParentID != "mid" {
				t.Errorf("parent of new = %q, want mid", backups[0].ParentID)
			}
		})
	}
}

func TestCatalogRecoverInProgress(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for name, cat := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := cat.Create(testBackup("done", engine.KindFull, "", base), nil); err != nil {
				t.Fatal(err)
			}
			if err := cat.Finalize("done", 1); err != nil {
				t.Fatal(err)
			}
			for _, id := range []string{"stuck1", "stuck2"} {
				if err := cat.Create(testBackup(id, engine.KindIncremental, "done", base.Add(time.Hour)), nil); err != nil {
					t.Fatal(err)
				}
			}

			ids, err := cat.RecoverInProgress()
			if err != nil {
				t.Fatalf("recover: %v", err)
			}
			sort.Strings(ids)
			if len(ids) != 2 || ids[0] != "stuck1" || ids[1] != "stuck2" {
				t.Errorf("recovered %v, want [stuck1 stuck2]", ids)
			}

			for _, id := range ids {
				b, _ := cat.Get(id)
				if b.Status != engine.StatusCorrupt {
					t.Errorf("%s status = %s, want corrupt", id, b.Status)
				}
			}
			done, _ := cat.Get("done")
			if done.Status != engine.StatusValid {
				t.Errorf("finalized backup demoted to %s", done.Status)
			}

			// A second recovery finds nothing.
			ids, err = cat.RecoverInProgress()
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 0 {
				t.Errorf("second recovery returned %v, want none", ids)
			}
		})
	}
}
