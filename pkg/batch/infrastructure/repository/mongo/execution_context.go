package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// GetJobExecutionContext returns the persisted context of a job execution.
func (r *MongoJobRepository) GetJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) (model.ExecutionContext, error) {
	return r.getContext(ctx, jobExecution.ExecutionID, contextTypeJob)
}

// GetStepExecutionContext returns the persisted context of a step execution.
func (r *MongoJobRepository) GetStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) (model.ExecutionContext, error) {
	return r.getContext(ctx, stepExecution.StepExecutionID, contextTypeStep)
}

// SaveJobExecutionContext persists the job execution's context. Saving again
// for the same execution silently replaces the previously stored payload.
func (r *MongoJobRepository) SaveJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) error {
	return r.saveContext(ctx, jobExecution.ExecutionID, contextTypeJob, jobExecution.ExecutionContext)
}

// SaveStepExecutionContext persists the step execution's context. Saving again
// for the same step silently replaces the previously stored payload.
func (r *MongoJobRepository) SaveStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	return r.saveContext(ctx, stepExecution.StepExecutionID, contextTypeStep, stepExecution.ExecutionContext)
}

// SaveStepExecutionContexts persists the contexts of all step runs attached to
// the job execution.
func (r *MongoJobRepository) SaveStepExecutionContexts(ctx context.Context, jobExecution *model.JobExecution) error {
	for _, se := range jobExecution.StepExecutions {
		if err := r.SaveStepExecutionContext(ctx, se); err != nil {
			return err
		}
	}
	return nil
}

// UpdateJobExecutionContext re-persists the job execution's context.
func (r *MongoJobRepository) UpdateJobExecutionContext(ctx context.Context, jobExecution *model.JobExecution) error {
	return r.SaveJobExecutionContext(ctx, jobExecution)
}

// UpdateStepExecutionContext re-persists the step execution's context.
func (r *MongoJobRepository) UpdateStepExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	return r.SaveStepExecutionContext(ctx, stepExecution)
}

// getContext loads and deserializes one context document. A missing document
// yields an empty context, never an error: callers treat "never saved" and
// "saved empty" identically.
func (r *MongoJobRepository) getContext(ctx context.Context, executionID int64, contextType string) (model.ExecutionContext, error) {
	var doc executionContextDoc
	err := r.collection(colExecutionContext).FindOne(ctx, bson.M{
		fieldExecutionID: executionID,
		fieldContextType: contextType,
	}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return model.NewExecutionContext(), nil
		}
		return nil, exception.NewBatchError(moduleName, "failed to query ExecutionContext", err, false, true)
	}

	payload, err := r.serializer.Deserialize(doc.SerializedContext)
	if err != nil {
		return nil, err
	}
	return model.ExecutionContext(payload), nil
}

// saveContext serializes and upserts one context document, replacing any
// previously stored payload for the same (executionId, type) pair.
func (r *MongoJobRepository) saveContext(ctx context.Context, executionID int64, contextType string, ec model.ExecutionContext) error {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "SaveExecutionContext", entityExecutionContext, start, err) }()

	data, err := r.serializer.Serialize(ec)
	if err != nil {
		return err
	}

	filter := bson.M{
		fieldExecutionID: executionID,
		fieldContextType: contextType,
	}
	update := bson.M{"$set": bson.M{fieldSerializedContext: data}}

	if _, err = r.collection(colExecutionContext).UpdateOne(ctx, filter, update,
		options.UpdateOne().SetUpsert(true)); err != nil {
		err = exception.NewBatchError(moduleName, "failed to upsert ExecutionContext", err, false, true)
		return err
	}
	return nil
}
