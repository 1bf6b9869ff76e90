package inmemory

import (
	"context"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
)

// GetJobExecutionContext returns the stored context of a job execution.
func (r *InMemoryJobRepository) GetJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) (model.ExecutionContext, error) {
	return r.getContext(jobExecution.ExecutionID, contextTypeJob)
}

// GetStepExecutionContext returns the stored context of a step execution.
func (r *InMemoryJobRepository) GetStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) (model.ExecutionContext, error) {
	return r.getContext(stepExecution.StepExecutionID, contextTypeStep)
}

// SaveJobExecutionContext stores the job execution's context. Saving again
// for the same execution silently replaces the previously stored payload.
func (r *InMemoryJobRepository) SaveJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) error {
	return r.saveContext(jobExecution.ExecutionID, contextTypeJob, jobExecution.ExecutionContext)
}

// SaveStepExecutionContext stores the step execution's context. Saving again
// for the same step silently replaces the previously stored payload.
func (r *InMemoryJobRepository) SaveStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	return r.saveContext(stepExecution.StepExecutionID, contextTypeStep, stepExecution.ExecutionContext)
}

// SaveStepExecutionContexts stores the contexts of all step runs attached to
// the job execution.
func (r *InMemoryJobRepository) SaveStepExecutionContexts(ctx context.Context, jobExecution *model.JobExecution) error {
	for _, se := range jobExecution.StepExecutions {
		if err := r.SaveStepExecutionContext(ctx, se); err != nil {
			return err
		}
	}
	return nil
}

// UpdateJobExecutionContext re-stores the job execution's context.
func (r *InMemoryJobRepository) UpdateJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) error {
	return r.SaveJobExecutionContext(ctx, jobExecution)
}

// UpdateStepExecutionContext re-stores the step execution's context.
func (r *InMemoryJobRepository) UpdateStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	return r.SaveStepExecutionContext(ctx, stepExecution)
}

// getContext deserializes one stored context. A missing record yields an
// empty context, matching the document store's behavior.
func (r *InMemoryJobRepository) getContext(executionID int64, contextType string) (model.ExecutionContext, error) {
	r.mu.RLock()
	data, ok := r.contexts[contextKey{executionID: executionID, contextType: contextType}]
	r.mu.RUnlock()
	if !ok {
		return model.NewExecutionContext(), nil
	}

	payload, err := r.serializer.Deserialize(data)
	if err != nil {
		return nil, err
	}
	return model.ExecutionContext(payload), nil
}

// saveContext serializes and stores one context, replacing any previous payload.
// The serializer round trip keeps the in-memory store honest about what the
// document store would accept.
func (r *InMemoryJobRepository) saveContext(executionID int64, contextType string, ec model.ExecutionContext) error {
	data, err := r.serializer.Serialize(ec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.contexts[contextKey{executionID: executionID, contextType: contextType}] = data
	r.mu.Unlock()
	return nil
}
