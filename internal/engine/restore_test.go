package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chartbak/internal/engine"
	"chartbak/internal/testutil"
)

// buildHistory produces three backups with evolving sources:
//
//	b1 (full):        database v1, attachment a=A1
//	b2 (incremental): database v2, a=A2, new attachment b=B1
//	b3 (incremental): database v3, a removed
func buildHistory(t *testing.T, env *testEnv) (b1, b2, b3 *engine.Backup) {
	t.Helper()

	env.tree.WriteAttachment(t, "a.age", "A1")
	b1 = env.backup(t, "manual", false)

	env.clock.Advance(time.Hour)
	env.tree.WriteDatabase(t, "database contents v2")
	env.tree.WriteAttachment(t, "a.age", "A2")
	env.tree.WriteAttachment(t, "b.age", "B1")
	b2 = env.backup(t, "manual", false)

	env.clock.Advance(time.Hour)
	env.tree.WriteDatabase(t, "database contents v3")
	env.tree.RemoveAttachment(t, "a.age")
	b3 = env.backup(t, "manual", false)

	if b2.Kind != engine.KindIncremental || b3.Kind != engine.KindIncremental {
		t.Fatalf("expected incremental follow-ups, got %s and %s", b2.Kind, b3.Kind)
	}
	return b1, b2, b3
}

func (env *testEnv) attachmentPath(name string) string {
	return filepath.Join(env.tree.Settings.AttachmentsDir, name)
}

func TestRestoreToFull(t *testing.T) {
	env := newTestEnv(t, nil)
	b1, _, _ := buildHistory(t, env)

	if err := env.engine.Restore(context.Background(), b1.ID, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := testutil.ReadFile(t, env.tree.Settings.DatabasePath); got != "database contents v1" {
		t.Errorf("database = %q, want v1 content", got)
	}
	if got := testutil.ReadFile(t, env.attachmentPath("a.age")); got != "A1" {
		t.Errorf("attachment a = %q, want A1", got)
	}
	if _, err := os.Stat(env.attachmentPath("b.age")); !os.IsNotExist(err) {
		t.Error("attachment b resurrected by restore to earlier state")
	}
	if env.verifier.Calls() != 1 {
		t.Errorf("verifier calls = %d, want 1", env.verifier.Calls())
	}
}

func TestRestoreToIncremental(t *testing.T) {
	env := newTestEnv(t, nil)
	_, b2, _ := buildHistory(t, env)

	if err := env.engine.Restore(context.Background(), b2.ID, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := testutil.ReadFile(t, env.tree.Settings.DatabasePath); got != "database contents v2" {
		t.Errorf("database = %q, want v2 content", got)
	}
	if got := testutil.ReadFile(t, env.attachmentPath("a.age")); got != "A2" {
		t.Errorf("attachment a = %q, want A2", got)
	}
	if got := testutil.ReadFile(t, env.attachmentPath("b.age")); got != "B1" {
		t.Errorf("attachment b = %q, want B1", got)
	}
}

func TestRestoreAppliesDeletions(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _, b3 := buildHistory(t, env)

	// Live state drifts after b3.
	env.tree.WriteDatabase(t, "post-b3 writes")
	env.tree.WriteAttachment(t, "a.age", "recreated")

	if err := env.engine.Restore(context.Background(), b3.ID, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := testutil.ReadFile(t, env.tree.Settings.DatabasePath); got != "database contents v3" {
		t.Errorf("database = %q, want v3 content", got)
	}
	// a was removed before b3; the restore must not carry it over from the
	// chain's earlier archives or from the drifted live state.
	if _, err := os.Stat(env.attachmentPath("a.age")); !os.IsNotExist(err) {
		t.Error("attachment a present after restoring a state without it")
	}
	// b is unchanged since b2 and not in b3's archive, but is part of b3's
	// state and must come back from the parent archive.
	if got := testutil.ReadFile(t, env.attachmentPath("b.age")); got != "B1" {
		t.Errorf("attachment b = %q, want B1", got)
	}
}

func TestRestoreVerificationFailureLeavesLiveUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	b1, _, _ := buildHistory(t, env)

	env.tree.WriteDatabase(t, "live state to preserve")
	env.verifier.Err = errors.New("integrity check failed")

	err := env.engine.Restore(context.Background(), b1.ID, nil)

	var verr *engine.RestoreVerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want RestoreVerificationError", err)
	}
	if got := testutil.ReadFile(t, env.tree.Settings.DatabasePath); got != "live state to preserve" {
		t.Errorf("live database changed by failed restore: %q", got)
	}
}

func TestRestoreMissingArchiveFails(t *testing.T) {
	env := newTestEnv(t, nil)
	b1, _, _ := buildHistory(t, env)

	if err := env.store.Delete(b1.ID); err != nil {
		t.Fatal(err)
	}
	env.tree.WriteDatabase(t, "live state to preserve")

	err := env.engine.Restore(context.Background(), b1.ID, nil)

	var verr *engine.RestoreVerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want RestoreVerificationError", err)
	}
	if got := testutil.ReadFile(t, env.tree.Settings.DatabasePath); got != "live state to preserve" {
		t.Errorf("live database changed by failed restore: %q", got)
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	env := newTestEnv(t, nil)
	buildHistory(t, env)

	err := env.engine.Restore(context.Background(), "no-such-backup", nil)
	var cerr *engine.ChainIntegrityError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ChainIntegrityError", err)
	}
}

func TestRestoreKeysComeBack(t *testing.T) {
	env := newTestEnv(t, nil)
	b1, _, _ := buildHistory(t, env)

	saltPath := env.tree.Settings.KeyFiles[0]
	if err := os.WriteFile(saltPath, []byte("rotated salt"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := env.engine.Restore(context.Background(), b1.ID, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := testutil.ReadFile(t, saltPath); got != "salt bytes" {
		t.Errorf("salt = %q, want original content", got)
	}
}
