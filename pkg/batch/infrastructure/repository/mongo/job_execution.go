package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/reef/pkg/batch/support/util/logger"
)

// SaveJobExecution allocates an identifier and persists a new JobExecution at
// version 1.
func (r *MongoJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "SaveJobExecution", entityJobExecution, start, err) }()

	if jobExecution.ExecutionID != 0 {
		err = exception.NewValidationError(moduleName,
			fmt.Sprintf("JobExecution is already persisted with id=%d", jobExecution.ExecutionID))
		return err
	}
	if jobExecution.JobInstanceID == 0 {
		err = exception.NewValidationError(moduleName, "JobExecution must belong to a persisted JobInstance")
		return err
	}
	if jobExecution.Status == "" {
		err = exception.NewValidationError(moduleName, "JobExecution must have a status")
		return err
	}
	if jobExecution.CreateTime.IsZero() {
		err = exception.NewValidationError(moduleName, "JobExecution must have a create time")
		return err
	}

	id, err := r.nextSequence(ctx, seqJobExecution)
	if err != nil {
		return err
	}

	lastUpdated := now()
	jobExecution.Guard(func() {
		jobExecution.ExecutionID = id
		jobExecution.Version = 1
		jobExecution.LastUpdated = &lastUpdated
		for _, se := range jobExecution.StepExecutions {
			se.JobExecutionID = id
		}
	})

	if _, err = r.collection(colJobExecution).InsertOne(ctx, toJobExecutionDoc(jobExecution)); err != nil {
		err = exception.NewBatchError(moduleName, "failed to insert JobExecution", err, false, true)
		return err
	}

	logger.Debugf("Saved JobExecution id=%d for instance=%d", id, jobExecution.JobInstanceID)
	return nil
}

// UpdateJobExecution persists the execution's state conditioned on its held
// version. The update matches the (id, version) pair in a single document
// operation, so two stale writers can never both succeed.
func (r *MongoJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "UpdateJobExecution", entityJobExecution, start, err) }()

	if jobExecution.ExecutionID == 0 || jobExecution.Version == 0 {
		err = exception.NewValidationError(moduleName, "JobExecution must be created before it can be updated")
		return err
	}

	col := r.collection(colJobExecution)

	count, err := col.CountDocuments(ctx, bson.M{fieldID: jobExecution.ExecutionID})
	if err != nil {
		err = exception.NewBatchError(moduleName, "failed to query JobExecution", err, false, true)
		return err
	}
	if count == 0 {
		err = exception.NewBatchError(moduleName,
			fmt.Sprintf("JobExecution with id=%d does not exist", jobExecution.ExecutionID),
			repo.ErrJobExecutionNotFound, false, false)
		return err
	}

	lastUpdated := now()
	update := buildJobExecutionUpdate(jobExecution, lastUpdated)

	res, err := col.UpdateOne(ctx,
		bson.M{fieldID: jobExecution.ExecutionID, fieldVersion: jobExecution.Version},
		update)
	if err != nil {
		err = exception.NewBatchError(moduleName, "failed to update JobExecution", err, false, true)
		return err
	}

	if res.MatchedCount == 0 {
		// The record exists but not at the caller's version. Report the
		// persisted version so the caller can reload and retry.
		current := 0
		var doc jobExecutionDoc
		if findErr := col.FindOne(ctx, bson.M{fieldID: jobExecution.ExecutionID}).Decode(&doc); findErr == nil {
			current = doc.Version
		}
		r.recorder.RecordLockConflict(ctx, entityJobExecution)
		err = exception.NewOptimisticLockingFailureException(moduleName, &exception.VersionConflictError{
			Entity:    entityJobExecution,
			ID:        jobExecution.ExecutionID,
			Attempted: jobExecution.Version,
			Current:   current,
		})
		return err
	}

	jobExecution.Guard(func() {
		jobExecution.Version++
		jobExecution.LastUpdated = &lastUpdated
	})
	return nil
}

// FindJobExecutions returns all executions of the given instance, newest
// first, with their step executions loaded.
func (r *MongoJobRepository) FindJobExecutions(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldID, Value: -1}})

	cursor, err := r.collection(colJobExecution).Find(ctx,
		bson.M{fieldJobInstanceID: jobInstance.InstanceID}, opts)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to query JobExecutions", err, false, true)
	}

	var docs []jobExecutionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to decode JobExecutions", err, false, true)
	}

	executions := make([]*model.JobExecution, 0, len(docs))
	for _, doc := range docs {
		je, err := fromJobExecutionDoc(doc)
		if err != nil {
			return nil, err
		}
		if err := r.AddStepExecutions(ctx, je); err != nil {
			return nil, err
		}
		executions = append(executions, je)
	}
	return executions, nil
}

// GetLastJobExecution returns the most recent execution of the instance
// identified by job name and parameters. Returns (nil, nil) when the instance
// does not exist or never ran.
func (r *MongoJobRepository) GetLastJobExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	instance, err := r.GetJobInstance(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, nil
	}

	opts := options.FindOne().SetSort(bson.D{
		{Key: fieldCreateTime, Value: -1},
		{Key: fieldID, Value: -1},
	})

	var doc jobExecutionDoc
	err = r.collection(colJobExecution).FindOne(ctx,
		bson.M{fieldJobInstanceID: instance.InstanceID}, opts).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, exception.NewBatchError(moduleName, "failed to query JobExecution", err, false, true)
	}

	je, err := fromJobExecutionDoc(doc)
	if err != nil {
		return nil, err
	}
	if err := r.AddStepExecutions(ctx, je); err != nil {
		return nil, err
	}
	return je, nil
}

// FindRunningJobExecutions returns executions of the named job that have
// started but not yet recorded an end time.
func (r *MongoJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	instanceIDs, err := r.instanceIDsForJob(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if len(instanceIDs) == 0 {
		return nil, nil
	}

	filter := bson.M{
		fieldJobInstanceID: bson.M{"$in": instanceIDs},
		fieldStartTime:     bson.M{"$exists": true},
		fieldEndTime:       bson.M{"$exists": false},
	}
	opts := options.Find().SetSort(bson.D{{Key: fieldID, Value: -1}})

	cursor, err := r.collection(colJobExecution).Find(ctx, filter, opts)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to query running JobExecutions", err, false, true)
	}

	var docs []jobExecutionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to decode JobExecutions", err, false, true)
	}

	executions := make([]*model.JobExecution, 0, len(docs))
	for _, doc := range docs {
		je, err := fromJobExecutionDoc(doc)
		if err != nil {
			return nil, err
		}
		if err := r.AddStepExecutions(ctx, je); err != nil {
			return nil, err
		}
		executions = append(executions, je)
	}
	return executions, nil
}

// instanceIDsForJob returns the identifiers of every instance of the named job.
func (r *MongoJobRepository) instanceIDsForJob(ctx context.Context, jobName string) ([]int64, error) {
	opts := options.Find().SetProjection(bson.M{fieldID: 1})

	cursor, err := r.collection(colJobInstance).Find(ctx, bson.M{fieldJobName: jobName}, opts)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to query JobInstances", err, false, true)
	}

	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to decode JobInstance ids", err, false, true)
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

// GetJobExecution finds a JobExecution by its identifier, with its step
// executions loaded. Returns (nil, nil) when absent.
func (r *MongoJobRepository) GetJobExecution(ctx context.Context, executionID int64) (*model.JobExecution, error) {
	var doc jobExecutionDoc
	err := r.collection(colJobExecution).FindOne(ctx, bson.M{fieldID: executionID}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, exception.NewBatchError(moduleName, "failed to query JobExecution", err, false, true)
	}

	je, err := fromJobExecutionDoc(doc)
	if err != nil {
		return nil, err
	}
	if err := r.AddStepExecutions(ctx, je); err != nil {
		return nil, err
	}
	return je, nil
}

// SynchronizeStatus refreshes the execution's status and version from the
// store. The in-memory status only ever upgrades, so a locally observed
// failure is never papered over by a stale persisted STARTED.
func (r *MongoJobRepository) SynchronizeStatus(ctx context.Context, jobExecution *model.JobExecution) error {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "SynchronizeStatus", entityJobExecution, start, err) }()

	var doc jobExecutionDoc
	err = r.collection(colJobExecution).FindOne(ctx,
		bson.M{fieldID: jobExecution.ExecutionID}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			err = exception.NewBatchError(moduleName,
				fmt.Sprintf("JobExecution with id=%d does not exist", jobExecution.ExecutionID),
				repo.ErrJobExecutionNotFound, false, false)
			return err
		}
		err = exception.NewBatchError(moduleName, "failed to query JobExecution", err, false, true)
		return err
	}

	if doc.Version != jobExecution.Version {
		jobExecution.Guard(func() {
			jobExecution.UpgradeStatus(model.JobStatus(doc.Status))
			jobExecution.Version = doc.Version
		})
	}
	return nil
}
