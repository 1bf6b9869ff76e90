package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// ErrJobInstanceNotFound is returned when a JobInstance lookup matches nothing.
var ErrJobInstanceNotFound = errors.New("job instance not found")

// ErrJobInstanceAlreadyExists is returned when creating a JobInstance whose
// job name and parameter fingerprint are already taken.
var ErrJobInstanceAlreadyExists = errors.New("job instance already exists")

// ErrNoSuchJob is returned when an operation references a job name with no instances.
var ErrNoSuchJob = errors.New("no such job")

func init() {
	// Register the error types in the registry upon startup.
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobInstanceAlreadyExists", ErrJobInstanceAlreadyExists)
	exception.RegisterErrorType("ErrNoSuchJob", ErrNoSuchJob)
}

// JobInstance defines operations for persisting and retrieving job instance metadata.
type JobInstance interface {
	// CreateJobInstance allocates an identifier and persists a new JobInstance
	// for the given job name and parameters. Returns
	// ErrJobInstanceAlreadyExists when an instance with the same name and
	// parameter fingerprint already exists.
	CreateJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// GetJobInstance finds the JobInstance matching the job name and exact
	// parameter fingerprint. Returns (nil, nil) when no such instance exists.
	GetJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// GetJobInstanceByID finds a JobInstance by its identifier. Returns
	// ErrJobInstanceNotFound when absent.
	GetJobInstanceByID(ctx context.Context, instanceID int64) (*model.JobInstance, error)

	// GetJobInstanceByExecution finds the JobInstance owning the given execution.
	GetJobInstanceByExecution(ctx context.Context, jobExecution *model.JobExecution) (*model.JobInstance, error)

	// GetJobInstances returns instances of the named job ordered by descending
	// instance identifier, skipping start items and returning at most count.
	GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error)

	// GetLastJobInstance returns the most recently created instance of the
	// named job. Returns (nil, nil) when the job has no instances.
	GetLastJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error)

	// FindJobInstancesByName returns instances whose job name contains the
	// given fragment anywhere, ordered by descending instance identifier.
	FindJobInstancesByName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error)

	// GetJobNames returns the distinct job names present in the store, sorted.
	GetJobNames(ctx context.Context) ([]string, error)

	// GetJobInstanceCount returns the number of instances of the named job.
	// Returns ErrNoSuchJob when the count is zero.
	GetJobInstanceCount(ctx context.Context, jobName string) (int64, error)
}
