package engine

import (
	"context"
	"sync/atomic"
)

// Mode is the configured backup frequency.
type Mode string

const (
	ModeSession Mode = "session" // back up on logout / timeout / interrupt / exit
	ModeDaily   Mode = "daily"   // back up on a daily schedule
	ModeManual  Mode = "manual"  // back up only on explicit request
)

// Coordinator is the single funnel for every backup-eligible trigger. The
// OS-level shutdown hooks — explicit logout, inactivity timeout, interrupt
// signal, normal process exit — may all fire for the same real-world event;
// a single-flight guard makes sure at most one backup runs per process
// lifetime, and a failed backup never prevents shutdown.
type Coordinator struct {
	engine       *Engine
	runner       Runner
	logger       Logger
	mode         Mode
	runOnFailure bool

	fired atomic.Bool // set on first RequestBackup, never reset
}

// NewCoordinator creates a Coordinator. runOnFailure controls whether the
// post-backup command also runs after a failed backup attempt.
func NewCoordinator(engine *Engine, runner Runner, logger Logger, mode Mode, runOnFailure bool) *Coordinator {
	return &Coordinator{
		engine:       engine,
		runner:       runner,
		logger:       logger,
		mode:         mode,
		runOnFailure: runOnFailure,
	}
}

// Execute runs one complete backup occurrence: the backup attempt followed by
// the post-backup command, which runs exactly once per occurrence and whose
// failure is logged but never escalated or retried. Used directly by the
// scheduler and the CLI; shutdown paths go through RequestBackup instead.
func (c *Coordinator) Execute(ctx context.Context, reason string, forceFull bool) (*Result, error) {
	b, err := c.engine.Backup(ctx, reason, forceFull)
	res := &Result{Backup: b, Reason: reason, Err: err}

	if err == nil || c.runOnFailure {
		if rerr := c.runner.Run(ctx, res); rerr != nil {
			// Never fatal and never retried; the next backup is the next
			// opportunity.
			c.logger.Error("post-backup command failed", "error", rerr)
		}
	}

	return res, err
}

// RequestBackup is the idempotent shutdown-path entry point. The first call
// in a process lifetime runs a backup occurrence (when the frequency mode
// backs up on session end) and blocks until both the backup attempt and the
// post-backup command have completed; shutdown must not proceed while a
// backup is mid-flight. Subsequent calls return immediately with no side
// effects. All downstream errors are caught and logged here — they must
// never prevent the application from exiting.
func (c *Coordinator) RequestBackup(reason string) {
	if !c.fired.CompareAndSwap(false, true) {
		c.logger.Debug("backup already handled for this shutdown", "reason", reason)
		return
	}

	if c.mode != ModeSession {
		c.logger.Debug("session-end backup disabled by frequency mode", "mode", string(c.mode), "reason", reason)
		return
	}

	if _, err := c.Execute(context.Background(), reason, false); err != nil {
		c.logger.Error("scheduled backup failed", "reason", reason, "error", err)
	}
}

// Lifecycle hooks exposed to the surrounding application. Each one simply
// funnels into RequestBackup.

func (c *Coordinator) OnLogout()         { c.RequestBackup("logout") }
func (c *Coordinator) OnSessionTimeout() { c.RequestBackup("timeout") }
func (c *Coordinator) OnInterrupt()      { c.RequestBackup("interrupt") }
func (c *Coordinator) OnProcessExit()    { c.RequestBackup("exit") }
