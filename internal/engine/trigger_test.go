package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chartbak/internal/engine"
	"chartbak/internal/testutil"
)

func newCoordinator(env *testEnv, runner *testutil.StubRunner, mode engine.Mode, runOnFailure bool) *engine.Coordinator {
	return engine.NewCoordinator(env.engine, runner, engine.NewNopLogger(), mode, runOnFailure)
}

func validBackups(t *testing.T, env *testEnv) int {
	t.Helper()
	backups, err := env.engine.ListBackups(false)
	if err != nil {
		t.Fatal(err)
	}
	return len(backups)
}

func TestRequestBackupRunsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	runner := &testutil.StubRunner{}
	coord := newCoordinator(env, runner, engine.ModeSession, false)

	coord.OnLogout()
	coord.OnSessionTimeout()
	coord.OnProcessExit()

	if got := validBackups(t, env); got != 1 {
		t.Errorf("backups = %d, want 1 for overlapping shutdown triggers", got)
	}
	if runner.Calls() != 1 {
		t.Errorf("post-backup command ran %d times, want 1", runner.Calls())
	}
}

func TestRequestBackupConcurrentTriggers(t *testing.T) {
	env := newTestEnv(t, nil)
	runner := &testutil.StubRunner{}
	coord := newCoordinator(env, runner, engine.ModeSession, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coord.OnInterrupt()
		}()
	}
	wg.Wait()

	if got := validBackups(t, env); got != 1 {
		t.Errorf("backups = %d, want 1", got)
	}
	if runner.Calls() != 1 {
		t.Errorf("post-backup command ran %d times, want 1", runner.Calls())
	}
}

func TestRequestBackupDisabledByMode(t *testing.T) {
	for _, mode := range []engine.Mode{engine.ModeDaily, engine.ModeManual} {
		t.Run(string(mode), func(t *testing.T) {
			env := newTestEnv(t, nil)
			runner := &testutil.StubRunner{}
			coord := newCoordinator(env, runner, mode, false)

			coord.OnLogout()

			if got := validBackups(t, env); got != 0 {
				t.Errorf("backups = %d, want 0 when mode is %s", got, mode)
			}
			if runner.Calls() != 0 {
				t.Errorf("post-backup command ran in mode %s", mode)
			}
		})
	}
}

func TestRequestBackupSwallowsFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.checkpoint.Err = errors.New("wal busy")
	runner := &testutil.StubRunner{}
	coord := newCoordinator(env, runner, engine.ModeSession, false)

	// Must return normally: a failed backup never blocks shutdown.
	coord.OnProcessExit()

	if got := validBackups(t, env); got != 0 {
		t.Errorf("backups = %d, want 0", got)
	}
}

func TestExecuteRunnerFailureNotEscalated(t *testing.T) {
	env := newTestEnv(t, nil)
	runner := &testutil.StubRunner{Err: errors.New("sync target unreachable")}
	coord := newCoordinator(env, runner, engine.ModeSession, false)

	res, err := coord.Execute(context.Background(), "manual", false)
	if err != nil {
		t.Fatalf("backup failed because of the post-backup command: %v", err)
	}
	if res.Backup == nil || res.Backup.Status != engine.StatusValid {
		t.Error("backup not valid despite command-only failure")
	}
}

func TestExecuteRepeatedCommandFailuresDoNotHurtBackups(t *testing.T) {
	env := newTestEnv(t, nil)
	runner := &testutil.StubRunner{Err: errors.New("sync target unreachable")}
	coord := newCoordinator(env, runner, engine.ModeSession, false)

	for i := 0; i < 5; i++ {
		env.clock.Advance(time.Hour)
		env.tree.WriteDatabase(t, "contents "+string(rune('a'+i)))
		if _, err := coord.Execute(context.Background(), "manual", false); err != nil {
			t.Fatalf("backup %d: %v", i, err)
		}
	}

	if got := validBackups(t, env); got != 5 {
		t.Errorf("backups = %d, want 5 despite every command failing", got)
	}
	if runner.Calls() != 5 {
		t.Errorf("post-backup command ran %d times, want 5", runner.Calls())
	}
}

func TestExecuteRunOnFailure(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.checkpoint.Err = errors.New("wal busy")
		runner := &testutil.StubRunner{}
		coord := newCoordinator(env, runner, engine.ModeSession, false)

		if _, err := coord.Execute(context.Background(), "manual", false); err == nil {
			t.Fatal("expected backup error")
		}
		if runner.Calls() != 0 {
			t.Errorf("command ran %d times after failed backup, want 0", runner.Calls())
		}
	})

	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.checkpoint.Err = errors.New("wal busy")
		runner := &testutil.StubRunner{}
		coord := newCoordinator(env, runner, engine.ModeSession, true)

		if _, err := coord.Execute(context.Background(), "manual", false); err == nil {
			t.Fatal("expected backup error")
		}
		if runner.Calls() != 1 {
			t.Fatalf("command ran %d times, want 1", runner.Calls())
		}
		res := runner.Results()[0]
		if res.Err == nil {
			t.Error("command result does not carry the backup failure")
		}
	})
}
