package mongo_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	config "github.com/tigerroll/reef/pkg/batch/core/config"
	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	mongorepo "github.com/tigerroll/reef/pkg/batch/infrastructure/repository/mongo"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectTestRepository connects to the MongoDB instance named by REEF_MONGO_URI
// and isolates this run behind a unique collection prefix. Tests are skipped
// when no instance is configured.
func connectTestRepository(t *testing.T) *mongorepo.MongoJobRepository {
	t.Helper()

	uri := os.Getenv("REEF_MONGO_URI")
	if uri == "" {
		t.Skip("REEF_MONGO_URI not set; skipping MongoDB integration tests")
	}

	ctx := context.Background()
	cfg := config.MongoConfig{
		URI:                   uri,
		Database:              "reef_test",
		ConnectTimeoutSeconds: 10,
	}

	r, err := mongorepo.Connect(ctx, cfg,
		mongorepo.WithCollectionPrefix(fmt.Sprintf("t%d_", time.Now().UnixNano())))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = r.DropCollections(context.Background())
		_ = r.Close()
	})

	require.NoError(t, r.EnsureIndexes(ctx))
	return r
}

func TestIntegrationJobInstanceLifecycle(t *testing.T) {
	r := connectTestRepository(t)
	ctx := context.Background()

	params := model.NewJobParameters()
	params.Put("input.file", model.NewStringParameter("data.csv"))
	params.Put("chunk", model.NewLongParameter(500))

	instance, err := r.CreateJobInstance(ctx, "importJob", params)
	require.NoError(t, err)
	assert.NotZero(t, instance.InstanceID)

	// The unique index rejects a second instance for the same fingerprint.
	_, err = r.CreateJobInstance(ctx, "importJob", params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrJobInstanceAlreadyExists))

	found, err := r.GetJobInstance(ctx, "importJob", params)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, instance.InstanceID, found.InstanceID)
	assert.True(t, params.Equal(found.Parameters), "dotted parameter keys must survive the store")

	byID, err := r.GetJobInstanceByID(ctx, instance.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "importJob", byID.JobName)

	names, err := r.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "importJob")
}

func TestIntegrationSequentialIdentifiers(t *testing.T) {
	r := connectTestRepository(t)
	ctx := context.Background()

	var previous int64
	for i := 0; i < 3; i++ {
		params := model.NewJobParameters()
		params.Put("n", model.NewLongParameter(int64(i)))
		instance, err := r.CreateJobInstance(ctx, "seqJob", params)
		require.NoError(t, err)
		assert.Equal(t, previous+1, instance.InstanceID)
		previous = instance.InstanceID
	}
}

func TestIntegrationJobExecutionUpdateCycle(t *testing.T) {
	r := connectTestRepository(t)
	ctx := context.Background()

	params := model.NewJobParameters()
	instance, err := r.CreateJobInstance(ctx, "runJob", params)
	require.NoError(t, err)

	je := model.NewJobExecution(instance, params)
	require.NoError(t, r.SaveJobExecution(ctx, je))
	require.NotZero(t, je.ExecutionID)
	assert.Equal(t, 1, je.Version)

	// Start the run: startTime set, endTime still absent.
	startTime := time.Now().UTC().Truncate(time.Millisecond)
	je.StartTime = &startTime
	je.Status = model.BatchStatusStarted
	require.NoError(t, r.UpdateJobExecution(ctx, je))
	assert.Equal(t, 2, je.Version)

	running, err := r.FindRunningJobExecutions(ctx, "runJob")
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.NotNil(t, running[0].StartTime)
	assert.Nil(t, running[0].EndTime, "absent end time must read back as nil")

	// A stale holder loses the conditional update.
	stale, err := r.GetJobExecution(ctx, je.ExecutionID)
	require.NoError(t, err)
	stale.Version = 1
	err = r.UpdateJobExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	var conflict *exception.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 1, conflict.Attempted)
	assert.Equal(t, 2, conflict.Current)

	// Finish the run.
	endTime := time.Now().UTC().Truncate(time.Millisecond)
	je.EndTime = &endTime
	je.Status = model.BatchStatusCompleted
	je.ExitStatus = model.ExitStatusCompleted
	require.NoError(t, r.UpdateJobExecution(ctx, je))

	last, err := r.GetLastJobExecution(ctx, "runJob", params)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, model.BatchStatusCompleted, last.Status)
	require.NotNil(t, last.EndTime)
	assert.True(t, endTime.Equal(*last.EndTime))

	running, err = r.FindRunningJobExecutions(ctx, "runJob")
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestIntegrationStepExecutionsAndContexts(t *testing.T) {
	r := connectTestRepository(t)
	ctx := context.Background()

	params := model.NewJobParameters()
	instance, err := r.CreateJobInstance(ctx, "stepJob", params)
	require.NoError(t, err)

	je := model.NewJobExecution(instance, params)
	require.NoError(t, r.SaveJobExecution(ctx, je))

	s1 := model.NewStepExecution("load", je)
	s2 := model.NewStepExecution("verify", je)
	require.NoError(t, r.SaveStepExecutions(ctx, []*model.StepExecution{s1, s2}))
	assert.NotZero(t, s1.StepExecutionID)
	assert.NotZero(t, s2.StepExecutionID)

	s1.ReadCount = 42
	s1.Status = model.BatchStatusCompleted
	endTime := time.Now().UTC().Truncate(time.Millisecond)
	s1.EndTime = &endTime
	require.NoError(t, r.UpdateStepExecution(ctx, s1))

	found, err := r.GetStepExecution(ctx, je, s1.StepExecutionID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 42, found.ReadCount)
	require.NotNil(t, found.EndTime)

	last, err := r.GetLastStepExecution(ctx, instance, "load")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, s1.StepExecutionID, last.StepExecutionID)
	require.NotNil(t, last.JobExecution)
	assert.Equal(t, je.ExecutionID, last.JobExecution.ExecutionID)

	count, err := r.CountStepExecutions(ctx, instance, "load")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Contexts: absent reads back empty, saved payload round trips.
	ec, err := r.GetStepExecutionContext(ctx, s2)
	require.NoError(t, err)
	assert.Empty(t, ec)

	s2.ExecutionContext.Put("offset", float64(1200))
	require.NoError(t, r.SaveStepExecutionContexts(ctx, je))

	ec, err = r.GetStepExecutionContext(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), ec.GetInt64("offset"))

	je.ExecutionContext.Put("restartFrom", "verify")
	require.NoError(t, r.SaveJobExecutionContext(ctx, je))
	ec, err = r.GetJobExecutionContext(ctx, je)
	require.NoError(t, err)
	assert.Equal(t, "verify", ec.GetString("restartFrom"))
}
