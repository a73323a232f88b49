package testutil

import (
	"context"
	"sync"

	"chartbak/internal/engine"
)

// StubCheckpointer records checkpoint calls. An optional OnCheckpoint hook
// runs inside each call, letting a test mutate the database file at
// checkpoint time to prove the snapshot is copied afterwards.
type StubCheckpointer struct {
	mu           sync.Mutex
	calls        int
	Err          error
	OnCheckpoint func() error
}

var _ engine.Checkpointer = (*StubCheckpointer)(nil)

func (c *StubCheckpointer) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.OnCheckpoint != nil {
		if err := c.OnCheckpoint(); err != nil {
			return err
		}
	}
	return c.Err
}

func (c *StubCheckpointer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// StubRunner records every post-backup invocation.
type StubRunner struct {
	mu      sync.Mutex
	results []*engine.Result
	Err     error
}

var _ engine.Runner = (*StubRunner)(nil)

func (r *StubRunner) Run(ctx context.Context, res *engine.Result) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	return r.Err
}

func (r *StubRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *StubRunner) Results() []*engine.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*engine.Result{}, r.results...)
}

// StubVerifier records verify calls and optionally fails them.
type StubVerifier struct {
	mu    sync.Mutex
	calls int
	Err   error
}

var _ engine.Verifier = (*StubVerifier)(nil)

func (v *StubVerifier) Verify(root string, files []engine.FileEntry, sess engine.DecryptionContext) error {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	return v.Err
}

func (v *StubVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}
