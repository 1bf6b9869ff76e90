package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// ErrStepExecutionNotFound is returned when an update targets a StepExecution
// that does not exist.
var ErrStepExecutionNotFound = errors.New("step execution not found")

func init() {
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

// StepExecution defines operations for persisting and retrieving step run metadata.
type StepExecution interface {
	// SaveStepExecution allocates an identifier and persists a new
	// StepExecution at version 1. The step must be attached to a persisted
	// JobExecution and must not already hold an identifier.
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// SaveStepExecutions persists a batch of new StepExecutions in order.
	// All elements are validated before any insert is attempted.
	SaveStepExecutions(ctx context.Context, stepExecutions []*model.StepExecution) error

	// UpdateStepExecution persists the step's current state conditioned on its
	// held version, incrementing it on success. A version mismatch yields an
	// OptimisticLockingFailureException; a missing record yields
	// ErrStepExecutionNotFound.
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// GetStepExecution finds one step run of the given job execution by its
	// identifier. Returns (nil, nil) when absent.
	GetStepExecution(ctx context.Context, jobExecution *model.JobExecution, stepExecutionID int64) (*model.StepExecution, error)

	// GetLastStepExecution returns the most recent run of the named step
	// across all executions of the instance, ordered by descending start time
	// then descending identifier. Returns (nil, nil) when the step never ran.
	GetLastStepExecution(ctx context.Context, jobInstance *model.JobInstance, stepName string) (*model.StepExecution, error)

	// CountStepExecutions returns how many times the named step ran across all
	// executions of the instance.
	CountStepExecutions(ctx context.Context, jobInstance *model.JobInstance, stepName string) (int64, error)

	// AddStepExecutions loads the job execution's step runs from the store and
	// attaches them to the passed object.
	AddStepExecutions(ctx context.Context, jobExecution *model.JobExecution) error
}
