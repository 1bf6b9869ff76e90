package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

const moduleName = "inmemory"

// Sequence names mirror the document store's counters.
const (
	seqJobInstance   = "jobInstanceId"
	seqJobExecution  = "jobExecutionId"
	seqStepExecution = "stepExecutionId"
)

// CreateJobInstance allocates an identifier and stores a new JobInstance.
func (r *InMemoryJobRepository) CreateJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	if jobName == "" {
		return nil, exception.NewValidationError(moduleName, "job name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	jobKey := params.JobKey()
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.JobKey == jobKey {
			return nil, exception.NewBatchError(moduleName,
				fmt.Sprintf("JobInstance for job '%s' with the same parameters already exists", jobName),
				repo.ErrJobInstanceAlreadyExists, false, false)
		}
	}

	instance := model.NewJobInstance(jobName, params)
	instance.InstanceID = r.nextSequence(seqJobInstance)
	r.jobInstances[instance.InstanceID] = copyInstance(instance)
	return instance, nil
}

// GetJobInstance finds the instance matching the job name and parameter
// fingerprint. Returns (nil, nil) when absent.
func (r *InMemoryJobRepository) GetJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobKey := params.JobKey()
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.JobKey == jobKey {
			return copyInstance(ji), nil
		}
	}
	return nil, nil
}

// GetJobInstanceByID finds a JobInstance by its identifier.
func (r *InMemoryJobRepository) GetJobInstanceByID(ctx context.Context, instanceID int64) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[instanceID]
	if !ok {
		return nil, exception.NewBatchError(moduleName,
			fmt.Sprintf("JobInstance with id=%d does not exist", instanceID),
			repo.ErrJobInstanceNotFound, false, false)
	}
	return copyInstance(ji), nil
}

// GetJobInstanceByExecution finds the JobInstance owning the given execution.
func (r *InMemoryJobRepository) GetJobInstanceByExecution(ctx context.Context, jobExecution *model.JobExecution) (*model.JobInstance, error) {
	r.mu.RLock()
	je, ok := r.jobExecutions[jobExecution.ExecutionID]
	r.mu.RUnlock()
	if !ok {
		return nil, exception.NewBatchError(moduleName,
			fmt.Sprintf("JobExecution with id=%d does not exist", jobExecution.ExecutionID),
			repo.ErrJobExecutionNotFound, false, false)
	}
	return r.GetJobInstanceByID(ctx, je.JobInstanceID)
}

// GetJobInstances returns instances of the named job, newest first.
func (r *InMemoryJobRepository) GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	return r.findInstances(func(ji *model.JobInstance) bool {
		return ji.JobName == jobName
	}, start, count), nil
}

// GetLastJobInstance returns the most recently created instance of the named job.
func (r *InMemoryJobRepository) GetLastJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *model.JobInstance
	for _, ji := range r.jobInstances {
		if ji.JobName != jobName {
			continue
		}
		if last == nil || ji.InstanceID > last.InstanceID {
			last = ji
		}
	}
	return copyInstance(last), nil
}

// FindJobInstancesByName returns instances whose job name contains the given
// fragment anywhere. Newest first.
func (r *InMemoryJobRepository) FindJobInstancesByName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	return r.findInstances(func(ji *model.JobInstance) bool {
		return strings.Contains(ji.JobName, jobName)
	}, start, count), nil
}

func (r *InMemoryJobRepository) findInstances(match func(*model.JobInstance) bool, start, count int) []*model.JobInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*model.JobInstance, 0)
	for _, ji := range r.jobInstances {
		if match(ji) {
			matched = append(matched, ji)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].InstanceID > matched[j].InstanceID
	})

	if start >= len(matched) {
		return []*model.JobInstance{}
	}
	end := start + count
	if count <= 0 || end > len(matched) {
		end = len(matched)
	}

	result := make([]*model.JobInstance, 0, end-start)
	for _, ji := range matched[start:end] {
		result = append(result, copyInstance(ji))
	}
	return result
}

// GetJobNames returns the distinct job names present in the store, sorted.
func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uniqueNames := make(map[string]struct{})
	for _, ji := range r.jobInstances {
		uniqueNames[ji.JobName] = struct{}{}
	}

	names := make([]string, 0, len(uniqueNames))
	for name := range uniqueNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetJobInstanceCount returns the number of instances of the named job.
func (r *InMemoryJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName {
			count++
		}
	}
	if count == 0 {
		return 0, exception.NewBatchError(moduleName,
			fmt.Sprintf("no job instances were found for job name '%s'", jobName),
			repo.ErrNoSuchJob, false, false)
	}
	return count, nil
}
