// Package postrun executes the operator-configured post-backup command,
// typically an off-box sync of the backup store.
package postrun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"chartbak/internal/engine"
)

// ExecRunner runs the configured command through the shell, once per backup
// occurrence, bounded by a timeout. Output goes to the engine log; a failed
// or timed-out command is reported but never retried — a retry storm on a
// flaky network path would be worse than waiting for the next backup.
type ExecRunner struct {
	command string
	timeout time.Duration
	logger  engine.Logger
}

var _ engine.Runner = (*ExecRunner)(nil)

func NewExecRunner(command string, timeout time.Duration, logger engine.Logger) *ExecRunner {
	return &ExecRunner{command: command, timeout: timeout, logger: logger}
}

// Run executes the command synchronously. A backup occurrence without a
// configured command is a no-op.
func (r *ExecRunner) Run(ctx context.Context, res *engine.Result) error {
	if r.command == "" {
		return nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", r.command)
	cmd.Env = append(os.Environ(), resultEnv(res)...)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Debug("post-backup command output", "output", string(out))
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", r.timeout)
		}
		return &engine.ExternalCommandError{Command: r.command, Err: err}
	}

	r.logger.Info("post-backup command finished", "duration", time.Since(start))
	return nil
}

// resultEnv exposes the backup outcome to the command.
func resultEnv(res *engine.Result) []string {
	env := []string{"CHARTBAK_REASON=" + res.Reason}
	if res.Err != nil {
		env = append(env, "CHARTBAK_STATUS=error")
	} else {
		env = append(env, "CHARTBAK_STATUS=success")
	}
	if res.Backup != nil {
		env = append(env,
			"CHARTBAK_BACKUP_ID="+res.Backup.ID,
			"CHARTBAK_BACKUP_KIND="+string(res.Backup.Kind),
		)
	}
	return env
}
