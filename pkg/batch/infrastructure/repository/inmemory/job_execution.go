package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// SaveJobExecution allocates an identifier and stores a new JobExecution at
// version 1.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	if jobExecution.ExecutionID != 0 {
		return exception.NewValidationError(moduleName,
			fmt.Sprintf("JobExecution is already persisted with id=%d", jobExecution.ExecutionID))
	}
	if jobExecution.JobInstanceID == 0 {
		return exception.NewValidationError(moduleName, "JobExecution must belong to a persisted JobInstance")
	}
	if jobExecution.Status == "" {
		return exception.NewValidationError(moduleName, "JobExecution must have a status")
	}
	if jobExecution.CreateTime.IsZero() {
		return exception.NewValidationError(moduleName, "JobExecution must have a create time")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSequence(seqJobExecution)
	lastUpdated := time.Now().UTC().Truncate(time.Millisecond)

	jobExecution.Guard(func() {
		jobExecution.ExecutionID = id
		jobExecution.Version = 1
		jobExecution.LastUpdated = &lastUpdated
		for _, se := range jobExecution.StepExecutions {
			se.JobExecutionID = id
		}
	})

	r.jobExecutions[id] = copyExecution(jobExecution)
	return nil
}

// UpdateJobExecution stores the execution's state conditioned on its held
// version, incrementing it on success.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	if jobExecution.ExecutionID == 0 || jobExecution.Version == 0 {
		return exception.NewValidationError(moduleName, "JobExecution must be created before it can be updated")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobExecutions[jobExecution.ExecutionID]
	if !ok {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("JobExecution with id=%d does not exist", jobExecution.ExecutionID),
			repo.ErrJobExecutionNotFound, false, false)
	}

	if stored.Version != jobExecution.Version {
		return exception.NewOptimisticLockingFailureException(moduleName, &exception.VersionConflictError{
			Entity:    "JobExecution",
			ID:        jobExecution.ExecutionID,
			Attempted: jobExecution.Version,
			Current:   stored.Version,
		})
	}

	lastUpdated := time.Now().UTC().Truncate(time.Millisecond)
	jobExecution.Guard(func() {
		jobExecution.Version++
		jobExecution.LastUpdated = &lastUpdated
	})
	r.jobExecutions[jobExecution.ExecutionID] = copyExecution(jobExecution)
	return nil
}

// FindJobExecutions returns all executions of the given instance, newest
// first, with their step executions attached.
func (r *InMemoryJobRepository) FindJobExecutions(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstance.InstanceID {
			executions = append(executions, r.executionWithSteps(je))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].ExecutionID > executions[j].ExecutionID
	})
	return executions, nil
}

// GetLastJobExecution returns the most recent execution of the instance
// identified by job name and parameters. Returns (nil, nil) when none exists.
func (r *InMemoryJobRepository) GetLastJobExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	instance, err := r.GetJobInstance(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID != instance.InstanceID {
			continue
		}
		if last == nil ||
			je.CreateTime.After(last.CreateTime) ||
			(je.CreateTime.Equal(last.CreateTime) && je.ExecutionID > last.ExecutionID) {
			last = je
		}
	}
	if last == nil {
		return nil, nil
	}
	return r.executionWithSteps(last), nil
}

// FindRunningJobExecutions returns executions of the named job that have
// started but not yet recorded an end time.
func (r *InMemoryJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instanceIDs := make(map[int64]struct{})
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName {
			instanceIDs[ji.InstanceID] = struct{}{}
		}
	}

	executions := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if _, ok := instanceIDs[je.JobInstanceID]; !ok {
			continue
		}
		if je.StartTime != nil && je.EndTime == nil {
			executions = append(executions, r.executionWithSteps(je))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].ExecutionID > executions[j].ExecutionID
	})
	return executions, nil
}

// GetJobExecution finds a JobExecution by its identifier, with its step
// executions attached. Returns (nil, nil) when absent.
func (r *InMemoryJobRepository) GetJobExecution(ctx context.Context, executionID int64) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[executionID]
	if !ok {
		return nil, nil
	}
	return r.executionWithSteps(je), nil
}

// SynchronizeStatus refreshes the execution's status and version from the
// store, upgrading the in-memory status only.
func (r *InMemoryJobRepository) SynchronizeStatus(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.RLock()
	stored, ok := r.jobExecutions[jobExecution.ExecutionID]
	r.mu.RUnlock()
	if !ok {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("JobExecution with id=%d does not exist", jobExecution.ExecutionID),
			repo.ErrJobExecutionNotFound, false, false)
	}

	if stored.Version != jobExecution.Version {
		jobExecution.Guard(func() {
			jobExecution.UpgradeStatus(stored.Status)
			jobExecution.Version = stored.Version
		})
	}
	return nil
}

// executionWithSteps snapshots an execution and attaches copies of its step
// runs. Callers must hold at least a read lock.
func (r *InMemoryJobRepository) executionWithSteps(src *model.JobExecution) *model.JobExecution {
	je := copyExecution(src)

	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == je.ExecutionID {
			copied := copyStep(se)
			copied.JobExecution = je
			steps = append(steps, copied)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepExecutionID < steps[j].StepExecutionID
	})
	je.StepExecutions = steps
	return je
}
