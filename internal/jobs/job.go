package jobs

import (
	"context"
	"errors"
)

// ErrRunNotFound is returned when a run handle is unknown or already finished.
var ErrRunNotFound = errors.New("run not found")

// ErrRunnerClosed is returned by Submit after Shutdown.
var ErrRunnerClosed = errors.New("runner is shut down")

// Job is the interface that background work submitted to a Runner implements.
type Job interface {
	// ID returns the record the run works on.
	ID() string

	// Type returns the job type identifier.
	Type() string

	// Execute runs the job. It should respect context cancellation.
	//
	// Execute must be idempotent. A run may be retried after a crash or
	// failure, so it checks existing state before starting work and never
	// assumes a clean starting point.
	Execute(ctx context.Context) error
}
