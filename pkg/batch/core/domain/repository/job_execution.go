package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// ErrJobExecutionNotFound is returned when an update targets a JobExecution
// that does not exist.
var ErrJobExecutionNotFound = errors.New("job execution not found")

func init() {
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
}

// JobExecution defines operations for persisting and retrieving job run metadata.
type JobExecution interface {
	// SaveJobExecution allocates an identifier and persists a new JobExecution
	// at version 1. The execution must not already hold an identifier.
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution persists the execution's current state conditioned on
	// its held version. On success the version increments both in the store
	// and on the passed object. A version mismatch yields an
	// OptimisticLockingFailureException; a missing record yields
	// ErrJobExecutionNotFound.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// FindJobExecutions returns all executions of the given instance, ordered
	// by descending execution identifier.
	FindJobExecutions(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error)

	// GetLastJobExecution returns the most recent execution of the instance
	// with the given name and parameters. Returns (nil, nil) when none exists.
	GetLastJobExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// FindRunningJobExecutions returns executions of the named job that have
	// started but not yet recorded an end time.
	FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)

	// GetJobExecution finds a JobExecution by its identifier, with its step
	// executions loaded. Returns (nil, nil) when absent.
	GetJobExecution(ctx context.Context, executionID int64) (*model.JobExecution, error)

	// SynchronizeStatus refreshes the execution's status and version from the
	// store. The in-memory status only ever upgrades: a locally more severe
	// status survives the refresh.
	SynchronizeStatus(ctx context.Context, jobExecution *model.JobExecution) error
}
