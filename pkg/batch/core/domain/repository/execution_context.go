package repository

import (
	"context"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
)

// ExecutionContext defines operations for persisting the serialized context
// attached to job and step executions. Contexts are stored separately from the
// execution records so large payloads never inflate the metadata documents.
type ExecutionContext interface {
	// GetJobExecutionContext returns the persisted context of a job execution.
	// A missing record yields an empty context, never an error.
	GetJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) (model.ExecutionContext, error)

	// GetStepExecutionContext returns the persisted context of a step execution.
	// A missing record yields an empty context, never an error.
	GetStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) (model.ExecutionContext, error)

	// SaveJobExecutionContext persists the job execution's context, replacing
	// any previously stored payload.
	SaveJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) error

	// SaveStepExecutionContext persists the step execution's context,
	// replacing any previously stored payload.
	SaveStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error

	// SaveStepExecutionContexts persists the contexts of all step runs
	// attached to the job execution.
	SaveStepExecutionContexts(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecutionContext re-persists the job execution's context.
	UpdateJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateStepExecutionContext re-persists the step execution's context.
	UpdateStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error
}
