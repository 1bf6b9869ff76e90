package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

func validateNewStepExecution(se *model.StepExecution) error {
	if se == nil {
		return fmt.Errorf("step execution is nil")
	}
	if se.StepExecutionID != 0 {
		return fmt.Errorf("step execution '%s' is already persisted with id=%d", se.StepName, se.StepExecutionID)
	}
	if se.Version != 0 {
		return fmt.Errorf("step execution '%s' already has version %d assigned", se.StepName, se.Version)
	}
	if se.JobExecutionID == 0 {
		return fmt.Errorf("step execution '%s' must belong to a persisted JobExecution", se.StepName)
	}
	if se.StepName == "" {
		return fmt.Errorf("step execution must have a step name")
	}
	if se.Status == "" {
		return fmt.Errorf("step execution '%s' must have a status", se.StepName)
	}
	if se.StartTime.IsZero() {
		return fmt.Errorf("step execution '%s' must have a start time", se.StepName)
	}
	return nil
}

// SaveStepExecution allocates an identifier and stores a new StepExecution at
// version 1.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	if err := validateNewStepExecution(stepExecution); err != nil {
		return exception.NewValidationError(moduleName, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.storeNewStep(stepExecution)
	return nil
}

// SaveStepExecutions stores a batch of new StepExecutions. Every element is
// validated before any record is written.
func (r *InMemoryJobRepository) SaveStepExecutions(ctx context.Context, stepExecutions []*model.StepExecution) error {
	if len(stepExecutions) == 0 {
		return nil
	}

	var verrs *multierror.Error
	for i, se := range stepExecutions {
		if err := validateNewStepExecution(se); err != nil {
			verrs = multierror.Append(verrs, fmt.Errorf("element %d: %w", i, err))
		}
	}
	if merr := verrs.ErrorOrNil(); merr != nil {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("invalid step executions in batch: %v", merr),
			exception.ErrValidation, false, false)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, se := range stepExecutions {
		r.storeNewStep(se)
	}
	return nil
}

// storeNewStep assigns an identifier and stores a snapshot. Callers must hold mu.
func (r *InMemoryJobRepository) storeNewStep(se *model.StepExecution) {
	id := r.nextSequence(seqStepExecution)
	lastUpdated := time.Now().UTC().Truncate(time.Millisecond)

	se.Guard(func() {
		se.StepExecutionID = id
		se.Version = 1
		se.LastUpdated = &lastUpdated
	})
	r.stepExecutions[id] = copyStep(se)
}

// UpdateStepExecution stores the step's state conditioned on its held version,
// incrementing it on success.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	if stepExecution.StepExecutionID == 0 || stepExecution.Version == 0 {
		return exception.NewValidationError(moduleName, "StepExecution must be created before it can be updated")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[stepExecution.StepExecutionID]
	if !ok {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("StepExecution with id=%d does not exist", stepExecution.StepExecutionID),
			repo.ErrStepExecutionNotFound, false, false)
	}

	if stored.Version != stepExecution.Version {
		return exception.NewOptimisticLockingFailureException(moduleName, &exception.VersionConflictError{
			Entity:    "StepExecution",
			ID:        stepExecution.StepExecutionID,
			Attempted: stepExecution.Version,
			Current:   stored.Version,
		})
	}

	lastUpdated := time.Now().UTC().Truncate(time.Millisecond)
	stepExecution.Guard(func() {
		stepExecution.Version++
		stepExecution.LastUpdated = &lastUpdated
	})
	r.stepExecutions[stepExecution.StepExecutionID] = copyStep(stepExecution)
	return nil
}

// GetStepExecution finds one step run of the given job execution by its
// identifier. Returns (nil, nil) when absent.
func (r *InMemoryJobRepository) GetStepExecution(ctx context.Context, jobExecution *model.JobExecution, stepExecutionID int64) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.stepExecutions[stepExecutionID]
	if !ok || se.JobExecutionID != jobExecution.ExecutionID {
		return nil, nil
	}

	copied := copyStep(se)
	copied.JobExecution = jobExecution
	return copied, nil
}

// GetLastStepExecution returns the most recent run of the named step across
// all executions of the instance, ordered by start time then identifier.
func (r *InMemoryJobRepository) GetLastStepExecution(ctx context.Context, jobInstance *model.JobInstance, stepName string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executionIDs := make(map[int64]*model.JobExecution)
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstance.InstanceID {
			executionIDs[je.ExecutionID] = je
		}
	}

	var last *model.StepExecution
	for _, se := range r.stepExecutions {
		if se.StepName != stepName {
			continue
		}
		if _, ok := executionIDs[se.JobExecutionID]; !ok {
			continue
		}
		if last == nil ||
			se.StartTime.After(last.StartTime) ||
			(se.StartTime.Equal(last.StartTime) && se.StepExecutionID > last.StepExecutionID) {
			last = se
		}
	}
	if last == nil {
		return nil, nil
	}

	copied := copyStep(last)
	copied.JobExecution = copyExecution(executionIDs[last.JobExecutionID])
	return copied, nil
}

// CountStepExecutions returns how many times the named step ran across all
// executions of the instance.
func (r *InMemoryJobRepository) CountStepExecutions(ctx context.Context, jobInstance *model.JobInstance, stepName string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executionIDs := make(map[int64]struct{})
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstance.InstanceID {
			executionIDs[je.ExecutionID] = struct{}{}
		}
	}

	var count int64
	for _, se := range r.stepExecutions {
		if se.StepName != stepName {
			continue
		}
		if _, ok := executionIDs[se.JobExecutionID]; ok {
			count++
		}
	}
	return count, nil
}

// AddStepExecutions loads the job execution's step runs from the store and
// attaches them to the passed object, ordered by identifier.
func (r *InMemoryJobRepository) AddStepExecutions(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecution.ExecutionID {
			copied := copyStep(se)
			copied.JobExecution = jobExecution
			steps = append(steps, copied)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepExecutionID < steps[j].StepExecutionID
	})
	jobExecution.StepExecutions = steps
	return nil
}
