package repository

import (
	"context"
)

// JobRepository is the interface for persisting and managing batch execution
// metadata. It embeds the per-entity interfaces to separate concerns.
type JobRepository interface {
	JobInstance      // JobInstance operations (definition in job_instance.go)
	JobExecution     // JobExecution operations (definition in job_execution.go)
	StepExecution    // StepExecution operations (definition in step_execution.go)
	ExecutionContext // ExecutionContext operations (definition in execution_context.go)

	// EnsureIndexes creates the indexes backing the repository's lookup and
	// uniqueness guarantees. Safe to call repeatedly.
	EnsureIndexes(ctx context.Context) error

	// Close releases resources (such as store connections) used by the repository.
	Close() error
}
