package model

import (
	"fmt"
	"sync"
	"time"
)

// ExecutionContext is a key-value store for sharing state across job and step
// executions. Values must survive the configured serializer round trip.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates an empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Put sets a value under key.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get returns the value under key, or nil when absent.
func (ec ExecutionContext) Get(key string) interface{} {
	return ec[key]
}

// GetString returns the string under key, or "" when absent or not a string.
func (ec ExecutionContext) GetString(key string) string {
	if v, ok := ec[key].(string); ok {
		return v
	}
	return ""
}

// GetInt64 returns the integer under key, widening smaller integer kinds and
// whole float64 values produced by JSON decoding. Returns 0 when absent.
func (ec ExecutionContext) GetInt64(key string) int64 {
	switch v := ec[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Copy returns a shallow copy of the context.
func (ec ExecutionContext) Copy() ExecutionContext {
	copied := make(ExecutionContext, len(ec))
	for k, v := range ec {
		copied[k] = v
	}
	return copied
}

// JobInstance is the logical execution unit of a job: one job name paired with
// one parameter fingerprint. Repeated runs with the same name and parameters
// share a single instance.
type JobInstance struct {
	// InstanceID is the repository-allocated identifier. Zero until persisted.
	InstanceID int64
	// JobName is the registered name of the job.
	JobName string
	// JobKey is the fingerprint of Parameters. Empty for an empty parameter set.
	JobKey string
	// Version is the persisted revision counter.
	Version int
	// Parameters is the typed parameter set this instance was created with.
	Parameters JobParameters
}

// NewJobInstance creates an unpersisted JobInstance for the given job name and
// parameters. The repository assigns InstanceID on create. Instances are
// immutable once created, so the version never advances past 1.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	return &JobInstance{
		JobName:    jobName,
		JobKey:     params.JobKey(),
		Version:    1,
		Parameters: params,
	}
}

// JobExecution is a single physical run of a JobInstance.
type JobExecution struct {
	// ExecutionID is the repository-allocated identifier. Zero until persisted.
	ExecutionID int64
	// JobInstanceID links this run to its logical instance.
	JobInstanceID int64
	// Version is incremented by every successful conditional update.
	Version int
	// Status is the coarse lifecycle state.
	Status JobStatus
	// ExitStatus is the detailed outcome, populated when the run finishes.
	ExitStatus ExitStatus
	// CreateTime is when the execution record was created.
	CreateTime time.Time
	// StartTime is when processing began. Nil until the run starts.
	StartTime *time.Time
	// EndTime is when processing finished. Nil while the run is in flight.
	EndTime *time.Time
	// LastUpdated is the timestamp of the most recent persisted update.
	LastUpdated *time.Time
	// Parameters is the parameter set the run was launched with.
	Parameters JobParameters
	// ExecutionContext carries job-scoped restart state.
	ExecutionContext ExecutionContext
	// StepExecutions are the step runs belonging to this execution.
	StepExecutions []*StepExecution

	mu sync.Mutex
}

// NewJobExecution creates an unpersisted JobExecution for the given instance.
func NewJobExecution(instance *JobInstance, params JobParameters) *JobExecution {
	return &JobExecution{
		JobInstanceID:    instance.InstanceID,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       time.Now(),
		Parameters:       params,
		ExecutionContext: NewExecutionContext(),
	}
}

// Guard runs fn while holding the execution's mutex. Callers mutate fields
// inside fn, then submit the execution to the repository; the conditional
// update there resolves races between processes, Guard resolves them between
// goroutines of one process.
func (je *JobExecution) Guard(fn func()) {
	je.mu.Lock()
	defer je.mu.Unlock()
	fn()
}

// UpgradeStatus moves the execution's status to the more severe of the current
// and given values.
func (je *JobExecution) UpgradeStatus(status JobStatus) {
	je.Status = je.Status.UpgradeTo(status)
}

// IsRunning reports whether the execution has not reached a terminal state.
func (je *JobExecution) IsRunning() bool {
	return je.Status.IsRunning()
}

// AddStepExecution appends a step run and sets its back-reference.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecution = je
	se.JobExecutionID = je.ExecutionID
	je.StepExecutions = append(je.StepExecutions, se)
}

// String returns a short identifying representation for logs.
func (je *JobExecution) String() string {
	return fmt.Sprintf("JobExecution{id=%d, instance=%d, version=%d, status=%s}",
		je.ExecutionID, je.JobInstanceID, je.Version, je.Status)
}

// StepExecution is a single run of one step within a JobExecution.
type StepExecution struct {
	// StepExecutionID is the repository-allocated identifier. Zero until persisted.
	StepExecutionID int64
	// StepName is the name of the step within the job definition.
	StepName string
	// JobExecutionID links this step run to its owning job execution.
	JobExecutionID int64
	// JobExecution is the in-memory back-reference to the owning run.
	JobExecution *JobExecution
	// Version is incremented by every successful conditional update.
	Version int
	// Status is the coarse lifecycle state.
	Status JobStatus
	// ExitStatus is the detailed outcome, populated when the step finishes.
	ExitStatus ExitStatus
	// StartTime is when the step began processing.
	StartTime time.Time
	// EndTime is when the step finished. Nil while in flight.
	EndTime *time.Time
	// LastUpdated is the timestamp of the most recent persisted update.
	LastUpdated *time.Time

	// Progress counters, maintained by the step's chunk loop.
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	ReadSkipCount    int
	WriteSkipCount   int
	ProcessSkipCount int

	// ExecutionContext carries step-scoped restart state (checkpoints).
	ExecutionContext ExecutionContext

	mu sync.Mutex
}

// NewStepExecution creates an unpersisted StepExecution attached to the given
// job execution.
func NewStepExecution(stepName string, jobExecution *JobExecution) *StepExecution {
	se := &StepExecution{
		StepName:         stepName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusExecuting,
		StartTime:        time.Now(),
		ExecutionContext: NewExecutionContext(),
	}
	if jobExecution != nil {
		jobExecution.AddStepExecution(se)
	}
	return se
}

// Guard runs fn while holding the step's mutex. See JobExecution.Guard.
func (se *StepExecution) Guard(fn func()) {
	se.mu.Lock()
	defer se.mu.Unlock()
	fn()
}

// UpgradeStatus moves the step's status to the more severe of the current and
// given values.
func (se *StepExecution) UpgradeStatus(status JobStatus) {
	se.Status = se.Status.UpgradeTo(status)
}

// SkipCount returns the total number of skipped items across all phases.
func (se *StepExecution) SkipCount() int {
	return se.ReadSkipCount + se.WriteSkipCount + se.ProcessSkipCount
}

// String returns a short identifying representation for logs.
func (se *StepExecution) String() string {
	return fmt.Sprintf("StepExecution{id=%d, step=%s, jobExecution=%d, version=%d, status=%s}",
		se.StepExecutionID, se.StepName, se.JobExecutionID, se.Version, se.Status)
}
