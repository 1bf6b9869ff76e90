package inmemory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo() repo.JobRepository {
	return inmemory.NewInMemoryJobRepository()
}

func paramsWith(key, value string) model.JobParameters {
	p := model.NewJobParameters()
	p.Put(key, model.NewStringParameter(value))
	return p
}

// startedExecution persists an instance and a started execution for it.
func startedExecution(t *testing.T, r repo.JobRepository, jobName string, params model.JobParameters) (*model.JobInstance, *model.JobExecution) {
	t.Helper()
	ctx := context.Background()

	instance, err := r.CreateJobInstance(ctx, jobName, params)
	require.NoError(t, err)

	je := model.NewJobExecution(instance, params)
	startTime := time.Now().UTC().Truncate(time.Millisecond)
	je.StartTime = &startTime
	je.Status = model.BatchStatusStarted
	require.NoError(t, r.SaveJobExecution(ctx, je))
	return instance, je
}

func TestCreateAndGetJobInstance(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	params := paramsWith("input", "a.csv")

	instance, err := r.CreateJobInstance(ctx, "importJob", params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), instance.InstanceID)
	assert.Equal(t, params.JobKey(), instance.JobKey)

	found, err := r.GetJobInstance(ctx, "importJob", params)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, instance.InstanceID, found.InstanceID)

	// Different parameters resolve to no instance.
	missing, err := r.GetJobInstance(ctx, "importJob", paramsWith("input", "b.csv"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateJobInstanceDuplicate(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	params := paramsWith("input", "a.csv")

	_, err := r.CreateJobInstance(ctx, "importJob", params)
	require.NoError(t, err)

	_, err = r.CreateJobInstance(ctx, "importJob", params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrJobInstanceAlreadyExists))

	// Same parameters under a different job name are a distinct instance.
	_, err = r.CreateJobInstance(ctx, "otherJob", params)
	assert.NoError(t, err)
}

func TestCreateJobInstanceEmptyName(t *testing.T) {
	r := newRepo()
	_, err := r.CreateJobInstance(context.Background(), "", model.NewJobParameters())
	require.Error(t, err)
	assert.True(t, exception.IsValidationError(err))
}

func TestConcurrentCreateAllocatesDistinctIDs(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	const n = 50
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := model.NewJobParameters()
			params.Put("n", model.NewLongParameter(int64(i)))
			instance, err := r.CreateJobInstance(ctx, "concurrentJob", params)
			if err == nil {
				ids <- instance.InstanceID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{})
	for id := range ids {
		_, dup := seen[id]
		assert.False(t, dup, "identifier %d allocated twice", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestGetJobInstanceByID(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	instance, err := r.CreateJobInstance(ctx, "importJob", model.NewJobParameters())
	require.NoError(t, err)

	found, err := r.GetJobInstanceByID(ctx, instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "importJob", found.JobName)

	_, err = r.GetJobInstanceByID(ctx, 9999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrJobInstanceNotFound))
}

func TestGetJobInstanceEmptyParameters(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	created, err := r.CreateJobInstance(ctx, "noParamJob", model.NewJobParameters())
	require.NoError(t, err)
	assert.Equal(t, "", created.JobKey)

	found, err := r.GetJobInstance(ctx, "noParamJob", model.NewJobParameters())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.InstanceID, found.InstanceID)
}

func TestGetJobInstancesPagination(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		params := model.NewJobParameters()
		params.Put("n", model.NewLongParameter(int64(i)))
		_, err := r.CreateJobInstance(ctx, "pagedJob", params)
		require.NoError(t, err)
	}

	page, err := r.GetJobInstances(ctx, "pagedJob", 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	// Newest first: ids 5,4,3,2,1 -> skipping one yields 4 then 3.
	assert.Equal(t, int64(4), page[0].InstanceID)
	assert.Equal(t, int64(3), page[1].InstanceID)

	// Paging past the end yields an empty slice, not an error.
	empty, err := r.GetJobInstances(ctx, "pagedJob", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetLastJobInstance(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	none, err := r.GetLastJobInstance(ctx, "lastJob")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = r.CreateJobInstance(ctx, "lastJob", paramsWith("run", "1"))
	require.NoError(t, err)
	second, err := r.CreateJobInstance(ctx, "lastJob", paramsWith("run", "2"))
	require.NoError(t, err)

	last, err := r.GetLastJobInstance(ctx, "lastJob")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.InstanceID, last.InstanceID)
}

func TestFindJobInstancesByNameFragment(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	_, err := r.CreateJobInstance(ctx, "import-users", model.NewJobParameters())
	require.NoError(t, err)
	_, err = r.CreateJobInstance(ctx, "import-orders", paramsWith("x", "1"))
	require.NoError(t, err)
	_, err = r.CreateJobInstance(ctx, "export-users", paramsWith("x", "2"))
	require.NoError(t, err)

	// The fragment matches anywhere in the name.
	matched, err := r.FindJobInstancesByName(ctx, "import-", 0, 10)
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	matched, err = r.FindJobInstancesByName(ctx, "users", 0, 10)
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	matched, err = r.FindJobInstancesByName(ctx, "export-users", 0, 10)
	require.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestGetJobNamesSorted(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := r.CreateJobInstance(ctx, name, model.NewJobParameters())
		require.NoError(t, err)
	}

	names, err := r.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestGetJobInstanceCount(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	_, err := r.GetJobInstanceCount(ctx, "missingJob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrNoSuchJob))

	_, err = r.CreateJobInstance(ctx, "countedJob", model.NewJobParameters())
	require.NoError(t, err)
	_, err = r.CreateJobInstance(ctx, "countedJob", paramsWith("x", "1"))
	require.NoError(t, err)

	count, err := r.GetJobInstanceCount(ctx, "countedJob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSaveJobExecutionAssignsIdentifier(t *testing.T) {
	r := newRepo()
	_, je := startedExecution(t, r, "runJob", model.NewJobParameters())

	assert.Equal(t, int64(1), je.ExecutionID)
	assert.Equal(t, 1, je.Version)
	assert.NotNil(t, je.LastUpdated)
}

func TestSaveJobExecutionValidation(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	// Not attached to a persisted instance.
	je := model.NewJobExecution(&model.JobInstance{}, model.NewJobParameters())
	err := r.SaveJobExecution(ctx, je)
	require.Error(t, err)
	assert.True(t, exception.IsValidationError(err))

	// Already persisted.
	_, saved := startedExecution(t, r, "runJob", model.NewJobParameters())
	err = r.SaveJobExecution(ctx, saved)
	require.Error(t, err)
	assert.True(t, exception.IsValidationError(err))
}

func TestUpdateJobExecutionIncrementsVersion(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "runJob", model.NewJobParameters())

	endTime := time.Now().UTC().Truncate(time.Millisecond)
	je.Status = model.BatchStatusCompleted
	je.ExitStatus = model.ExitStatusCompleted
	je.EndTime = &endTime

	require.NoError(t, r.UpdateJobExecution(ctx, je))
	assert.Equal(t, 2, je.Version)

	stored, err := r.GetJobExecution(ctx, je.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.Version)
	require.NotNil(t, stored.EndTime)
}

func TestUpdateJobExecutionStaleVersionConflict(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "runJob", model.NewJobParameters())

	// A second holder of the same record updates first.
	other, err := r.GetJobExecution(ctx, je.ExecutionID)
	require.NoError(t, err)
	require.NoError(t, r.UpdateJobExecution(ctx, other))
	require.NoError(t, r.UpdateJobExecution(ctx, other))

	// The stale holder's update is rejected with both versions reported.
	je.Status = model.BatchStatusCompleted
	err = r.UpdateJobExecution(ctx, je)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	var conflict *exception.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 1, conflict.Attempted)
	assert.Equal(t, 3, conflict.Current)

	// The rejected update did not advance the caller's version.
	assert.Equal(t, 1, je.Version)
}

func TestUpdateJobExecutionNotFound(t *testing.T) {
	r := newRepo()
	je := model.NewJobExecution(&model.JobInstance{InstanceID: 1}, model.NewJobParameters())
	je.ExecutionID = 404
	je.Version = 1

	err := r.UpdateJobExecution(context.Background(), je)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrJobExecutionNotFound))
}

func TestGetJobExecutionAbsent(t *testing.T) {
	r := newRepo()
	je, err := r.GetJobExecution(context.Background(), 12345)
	require.NoError(t, err)
	assert.Nil(t, je)
}

func TestFindJobExecutionsNewestFirst(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	instance, _ := startedExecution(t, r, "multiRunJob", model.NewJobParameters())

	second := model.NewJobExecution(instance, model.NewJobParameters())
	require.NoError(t, r.SaveJobExecution(ctx, second))

	executions, err := r.FindJobExecutions(ctx, instance)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, second.ExecutionID, executions[0].ExecutionID)
}

func TestGetLastJobExecution(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	params := paramsWith("input", "x")

	// Unknown instance resolves to no execution, not an error.
	none, err := r.GetLastJobExecution(ctx, "neverRan", params)
	require.NoError(t, err)
	assert.Nil(t, none)

	instance, first := startedExecution(t, r, "lastRunJob", params)
	second := model.NewJobExecution(instance, params)
	second.CreateTime = first.CreateTime.Add(time.Second)
	require.NoError(t, r.SaveJobExecution(ctx, second))

	last, err := r.GetLastJobExecution(ctx, "lastRunJob", params)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.ExecutionID, last.ExecutionID)
}

func TestFindRunningJobExecutions(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, running := startedExecution(t, r, "watchedJob", model.NewJobParameters())

	// A finished run of the same job is not reported.
	endTime := time.Now().UTC()
	_, finished := startedExecution(t, r, "watchedJob", paramsWith("other", "params"))
	finished.EndTime = &endTime
	finished.Status = model.BatchStatusCompleted
	require.NoError(t, r.UpdateJobExecution(ctx, finished))

	found, err := r.FindRunningJobExecutions(ctx, "watchedJob")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, running.ExecutionID, found[0].ExecutionID)
}

func TestSynchronizeStatusUpgradesOnly(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "syncJob", model.NewJobParameters())

	// Another holder persists FAILED at a newer version.
	other, err := r.GetJobExecution(ctx, je.ExecutionID)
	require.NoError(t, err)
	other.Status = model.BatchStatusFailed
	require.NoError(t, r.UpdateJobExecution(ctx, other))

	require.NoError(t, r.SynchronizeStatus(ctx, je))
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, 2, je.Version)

	// A locally more severe status survives the refresh.
	_, je2 := startedExecution(t, r, "syncJob2", model.NewJobParameters())
	other2, err := r.GetJobExecution(ctx, je2.ExecutionID)
	require.NoError(t, err)
	require.NoError(t, r.UpdateJobExecution(ctx, other2)) // still STARTED, version 2

	je2.Status = model.BatchStatusAbandoned
	require.NoError(t, r.SynchronizeStatus(ctx, je2))
	assert.Equal(t, model.BatchStatusAbandoned, je2.Status)
	assert.Equal(t, 2, je2.Version)
}

func TestSynchronizeStatusKeepsCompletedOverStaleStarted(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "finishJob", model.NewJobParameters())

	// Another holder bumps the persisted record while it is still STARTED.
	other, err := r.GetJobExecution(ctx, je.ExecutionID)
	require.NoError(t, err)
	require.NoError(t, r.UpdateJobExecution(ctx, other))

	// The local holder already finished; the refresh adopts the newer version
	// but must not regress the completed status to the stale STARTED.
	je.Status = model.BatchStatusCompleted
	require.NoError(t, r.SynchronizeStatus(ctx, je))
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, 2, je.Version)
}

func TestSaveAndUpdateStepExecution(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "stepJob", model.NewJobParameters())

	se := model.NewStepExecution("load", je)
	require.NoError(t, r.SaveStepExecution(ctx, se))
	assert.Equal(t, int64(1), se.StepExecutionID)
	assert.Equal(t, 1, se.Version)

	se.ReadCount = 10
	se.Status = model.BatchStatusCompleted
	require.NoError(t, r.UpdateStepExecution(ctx, se))
	assert.Equal(t, 2, se.Version)

	found, err := r.GetStepExecution(ctx, je, se.StepExecutionID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 10, found.ReadCount)
	assert.Equal(t, model.BatchStatusCompleted, found.Status)
}

func TestUpdateStepExecutionStaleVersionConflict(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "stepJob", model.NewJobParameters())

	se := model.NewStepExecution("load", je)
	require.NoError(t, r.SaveStepExecution(ctx, se))
	require.NoError(t, r.UpdateStepExecution(ctx, se))

	stale := model.NewStepExecution("load", nil)
	stale.StepExecutionID = se.StepExecutionID
	stale.JobExecutionID = je.ExecutionID
	stale.Version = 1

	err := r.UpdateStepExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func TestSaveStepExecutionsBatchValidation(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "batchJob", model.NewJobParameters())

	good := model.NewStepExecution("s1", je)
	unnamed := model.NewStepExecution("", je)

	err := r.SaveStepExecutions(ctx, []*model.StepExecution{good, unnamed})
	require.Error(t, err)
	assert.True(t, exception.IsValidationError(err))

	// Validation failed before any write: nothing was persisted.
	require.NoError(t, r.AddStepExecutions(ctx, je))
	assert.Len(t, je.StepExecutions, 0)
	assert.Equal(t, int64(0), good.StepExecutionID)
}

func TestSaveStepExecutionsBatch(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "batchJob", model.NewJobParameters())

	steps := []*model.StepExecution{
		model.NewStepExecution("s1", je),
		model.NewStepExecution("s2", je),
		model.NewStepExecution("s3", je),
	}
	require.NoError(t, r.SaveStepExecutions(ctx, steps))

	for i, se := range steps {
		assert.Equal(t, int64(i+1), se.StepExecutionID)
	}

	loaded := model.NewJobExecution(&model.JobInstance{InstanceID: 1}, model.NewJobParameters())
	loaded.ExecutionID = je.ExecutionID
	require.NoError(t, r.AddStepExecutions(ctx, loaded))
	require.Len(t, loaded.StepExecutions, 3)
	assert.Equal(t, "s1", loaded.StepExecutions[0].StepName)
}

func TestGetLastStepExecutionOrdering(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	params := model.NewJobParameters()
	instance, first := startedExecution(t, r, "orderedJob", params)

	early := model.NewStepExecution("load", first)
	early.StartTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.SaveStepExecution(ctx, early))

	second := model.NewJobExecution(instance, params)
	require.NoError(t, r.SaveJobExecution(ctx, second))

	late := model.NewStepExecution("load", second)
	late.StartTime = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.SaveStepExecution(ctx, late))

	last, err := r.GetLastStepExecution(ctx, instance, "load")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, late.StepExecutionID, last.StepExecutionID)
	require.NotNil(t, last.JobExecution)
	assert.Equal(t, second.ExecutionID, last.JobExecution.ExecutionID)

	// Equal start times fall back to the identifier.
	tied := model.NewStepExecution("load", second)
	tied.StartTime = late.StartTime
	require.NoError(t, r.SaveStepExecution(ctx, tied))

	last, err = r.GetLastStepExecution(ctx, instance, "load")
	require.NoError(t, err)
	assert.Equal(t, tied.StepExecutionID, last.StepExecutionID)
}

func TestGetLastStepExecutionAbsent(t *testing.T) {
	r := newRepo()
	instance, _ := startedExecution(t, r, "noStepJob", model.NewJobParameters())

	last, err := r.GetLastStepExecution(context.Background(), instance, "neverRan")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestCountStepExecutions(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	instance, je := startedExecution(t, r, "countStepJob", model.NewJobParameters())

	count, err := r.CountStepExecutions(ctx, instance, "load")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, r.SaveStepExecution(ctx, model.NewStepExecution("load", je)))
	require.NoError(t, r.SaveStepExecution(ctx, model.NewStepExecution("load", je)))
	require.NoError(t, r.SaveStepExecution(ctx, model.NewStepExecution("verify", je)))

	count, err = r.CountStepExecutions(ctx, instance, "load")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestExecutionContextRoundTrip(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "ctxJob", model.NewJobParameters())

	// Never-saved context reads back empty, not as an error.
	ec, err := r.GetJobExecutionContext(ctx, je)
	require.NoError(t, err)
	assert.Empty(t, ec)

	je.ExecutionContext.Put("restartFrom", "step2")
	require.NoError(t, r.SaveJobExecutionContext(ctx, je))

	ec, err = r.GetJobExecutionContext(ctx, je)
	require.NoError(t, err)
	assert.Equal(t, "step2", ec.GetString("restartFrom"))

	// Saving again replaces the stored payload.
	je.ExecutionContext = model.NewExecutionContext()
	je.ExecutionContext.Put("restartFrom", "step3")
	require.NoError(t, r.UpdateJobExecutionContext(ctx, je))

	ec, err = r.GetJobExecutionContext(ctx, je)
	require.NoError(t, err)
	assert.Equal(t, "step3", ec.GetString("restartFrom"))
}

func TestStepExecutionContexts(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "stepCtxJob", model.NewJobParameters())

	s1 := model.NewStepExecution("s1", je)
	s2 := model.NewStepExecution("s2", je)
	require.NoError(t, r.SaveStepExecutions(ctx, []*model.StepExecution{s1, s2}))

	s1.ExecutionContext.Put("offset", float64(100))
	s2.ExecutionContext.Put("offset", float64(200))
	require.NoError(t, r.SaveStepExecutionContexts(ctx, je))

	ec, err := r.GetStepExecutionContext(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ec.GetInt64("offset"))

	ec, err = r.GetStepExecutionContext(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ec.GetInt64("offset"))
}

func TestGetJobInstanceByExecution(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	instance, je := startedExecution(t, r, "ownerJob", model.NewJobParameters())

	found, err := r.GetJobInstanceByExecution(ctx, je)
	require.NoError(t, err)
	assert.Equal(t, instance.InstanceID, found.InstanceID)

	ghost := model.NewJobExecution(instance, model.NewJobParameters())
	ghost.ExecutionID = 999
	_, err = r.GetJobInstanceByExecution(ctx, ghost)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrJobExecutionNotFound))
}

func TestStoredRecordsAreSnapshots(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, je := startedExecution(t, r, "isolationJob", model.NewJobParameters())

	// Mutating the caller's object without Update must not leak into the store.
	je.Status = model.BatchStatusFailed

	stored, err := r.GetJobExecution(ctx, je.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, stored.Status)
}
