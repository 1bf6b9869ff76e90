// Package inmemory provides an in-memory implementation of the JobRepository
// interface. It mirrors the document store's semantics, including identifier
// allocation and version-conditioned updates, and is intended for tests and
// scenarios where persistence is not required.
package inmemory

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/support/util/serialization"
)

// contextKey identifies one stored execution context.
type contextKey struct {
	executionID int64
	contextType string
}

const (
	contextTypeJob  = "JOB"
	contextTypeStep = "STEP"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository
// interface. All records are stored as snapshots: mutations of caller-held
// objects never leak into the store except through Update calls.
type InMemoryJobRepository struct {
	mu sync.RWMutex

	sequences      map[string]int64
	jobInstances   map[int64]*model.JobInstance
	jobExecutions  map[int64]*model.JobExecution
	stepExecutions map[int64]*model.StepExecution
	contexts       map[contextKey][]byte

	serializer serialization.ExecutionContextSerializer
}

var _ repo.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository creates and initializes a new InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		sequences:      make(map[string]int64),
		jobInstances:   make(map[int64]*model.JobInstance),
		jobExecutions:  make(map[int64]*model.JobExecution),
		stepExecutions: make(map[int64]*model.StepExecution),
		contexts:       make(map[contextKey][]byte),
		serializer:     serialization.NewJSONSerializer(),
	}
}

// nextSequence increments and returns the named counter. Callers must hold mu.
func (r *InMemoryJobRepository) nextSequence(name string) int64 {
	r.sequences[name]++
	return r.sequences[name]
}

// EnsureIndexes is a no-op: map lookups need no indexes.
func (r *InMemoryJobRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

// Close releases resources used by the repository. The in-memory repository
// holds no external resources, so this always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

// copyInstance snapshots a JobInstance.
func copyInstance(src *model.JobInstance) *model.JobInstance {
	if src == nil {
		return nil
	}
	params := model.NewJobParameters()
	for k, v := range src.Parameters.Params {
		params.Put(k, v)
	}
	return &model.JobInstance{
		InstanceID: src.InstanceID,
		JobName:    src.JobName,
		JobKey:     src.JobKey,
		Version:    src.Version,
		Parameters: params,
	}
}

// copyExecution snapshots a JobExecution without its step executions.
func copyExecution(src *model.JobExecution) *model.JobExecution {
	if src == nil {
		return nil
	}
	params := model.NewJobParameters()
	for k, v := range src.Parameters.Params {
		params.Put(k, v)
	}
	return &model.JobExecution{
		ExecutionID:      src.ExecutionID,
		JobInstanceID:    src.JobInstanceID,
		Version:          src.Version,
		Status:           src.Status,
		ExitStatus:       src.ExitStatus,
		CreateTime:       src.CreateTime,
		StartTime:        copyTime(src.StartTime),
		EndTime:          copyTime(src.EndTime),
		LastUpdated:      copyTime(src.LastUpdated),
		Parameters:       params,
		ExecutionContext: model.NewExecutionContext(),
	}
}

// copyStep snapshots a StepExecution without its back-reference.
func copyStep(src *model.StepExecution) *model.StepExecution {
	if src == nil {
		return nil
	}
	return &model.StepExecution{
		StepExecutionID: src.StepExecutionID,
		StepName:        src.StepName,
		JobExecutionID:  src.JobExecutionID,
		Version:         src.Version,
		Status:          src.Status,
		ExitStatus:      src.ExitStatus,
		StartTime:       src.StartTime,
		EndTime:         copyTime(src.EndTime),
		LastUpdated:     copyTime(src.LastUpdated),

		CommitCount:      src.CommitCount,
		ReadCount:        src.ReadCount,
		FilterCount:      src.FilterCount,
		WriteCount:       src.WriteCount,
		ReadSkipCount:    src.ReadSkipCount,
		WriteSkipCount:   src.WriteSkipCount,
		ProcessSkipCount: src.ProcessSkipCount,
		RollbackCount:    src.RollbackCount,

		ExecutionContext: model.NewExecutionContext(),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
