package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/reef/pkg/batch/support/util/logger"
)

// validateNewStepExecution checks the preconditions for persisting se as a new
// record.
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

// SaveStepExecution allocates an identifier and persists a new StepExecution
// at version 1.
func (r *MongoJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "SaveStepExecution", entityStepExecution, start, err) }()

	if verr := validateNewStepExecution(stepExecution); verr != nil {
		err = exception.NewValidationError(moduleName, verr.Error())
		return err
	}

	id, err := r.nextSequence(ctx, seqStepExecution)
	if err != nil {
		return err
	}

	lastUpdated := now()
	stepExecution.Guard(func() {
		stepExecution.StepExecutionID = id
		stepExecution.Version = 1
		stepExecution.LastUpdated = &lastUpdated
	})

	if _, err = r.collection(colStepExecution).InsertOne(ctx, toStepExecutionDoc(stepExecution)); err != nil {
		err = exception.NewBatchError(moduleName, "failed to insert StepExecution", err, false, true)
		return err
	}

	logger.Debugf("Saved StepExecution id=%d step='%s' for execution=%d", id, stepExecution.StepName, stepExecution.JobExecutionID)
	return nil
}

// SaveStepExecutions persists a batch of new StepExecutions as one ordered
// insert. Every element is validated before any document is written; a
// mid-batch insert failure leaves the documents before the failing one
// committed, and the error reports how far the batch got.
func (r *MongoJobRepository) SaveStepExecutions(ctx context.Context, stepExecutions []*model.StepExecution) error {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "SaveStepExecutions", entityStepExecution, start, err) }()

	if len(stepExecutions) == 0 {
		return nil
	}

	var verrs *multierror.Error
	for i, se := range stepExecutions {
		if verr := validateNewStepExecution(se); verr != nil {
			verrs = multierror.Append(verrs, fmt.Errorf("element %d: %w", i, verr))
		}
	}
	if merr := verrs.ErrorOrNil(); merr != nil {
		err = exception.NewBatchError(moduleName,
			fmt.Sprintf("invalid step executions in batch: %v", merr),
			exception.ErrValidation, false, false)
		return err
	}

	lastUpdated := now()
	docs := make([]interface{}, 0, len(stepExecutions))
	for _, se := range stepExecutions {
		id, seqErr := r.nextSequence(ctx, seqStepExecution)
		if seqErr != nil {
			err = seqErr
			return err
		}
		se.Guard(func() {
			se.StepExecutionID = id
			se.Version = 1
			se.LastUpdated = &lastUpdated
		})
		docs = append(docs, toStepExecutionDoc(se))
	}

	res, insertErr := r.collection(colStepExecution).InsertMany(ctx, docs)
	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	r.recorder.RecordBatchInsert(ctx, entityStepExecution, len(docs), inserted)

	if insertErr != nil {
		err = exception.NewBatchError(moduleName,
			fmt.Sprintf("batch insert of StepExecutions failed after %d of %d documents", inserted, len(docs)),
			insertErr, false, true)
		return err
	}
	return nil
}

// UpdateStepExecution persists the step's state conditioned on its held
// version, in the same single-document protocol as UpdateJobExecution.
func (r *MongoJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "UpdateStepExecution", entityStepExecution, start, err) }()

	if stepExecution.StepExecutionID == 0 || stepExecution.Version == 0 {
		err = exception.NewValidationError(moduleName, "StepExecution must be created before it can be updated")
		return err
	}

	col := r.collection(colStepExecution)

	count, err := col.CountDocuments(ctx, bson.M{fieldID: stepExecution.StepExecutionID})
	if err != nil {
		err = exception.NewBatchError(moduleName, "failed to query StepExecution", err, false, true)
		return err
	}
	if count == 0 {
		err = exception.NewBatchError(moduleName,
			fmt.Sprintf("StepExecution with id=%d does not exist", stepExecution.StepExecutionID),
			repo.ErrStepExecutionNotFound, false, false)
		return err
	}

	lastUpdated := now()
	update := buildStepExecutionUpdate(stepExecution, lastUpdated)

	res, err := col.UpdateOne(ctx,
		bson.M{fieldID: stepExecution.StepExecutionID, fieldVersion: stepExecution.Version},
		update)
	if err != nil {
		err = exception.NewBatchError(moduleName, "failed to update StepExecution", err, false, true)
		return err
	}

	if res.MatchedCount == 0 {
		current := 0
		var doc stepExecutionDoc
		if findErr := col.FindOne(ctx, bson.M{fieldID: stepExecution.StepExecutionID}).Decode(&doc); findErr == nil {
			current = doc.Version
		}
		r.recorder.RecordLockConflict(ctx, entityStepExecution)
		err = exception.NewOptimisticLockingFailureException(moduleName, &exception.VersionConflictError{
			Entity:    entityStepExecution,
			ID:        stepExecution.StepExecutionID,
			Attempted: stepExecution.Version,
			Current:   current,
		})
		return err
	}

	stepExecution.Guard(func() {
		stepExecution.Version++
		stepExecution.LastUpdated = &lastUpdated
	})
	return nil
}

// GetStepExecution finds one step run of the given job execution by its
// identifier. Returns (nil, nil) when absent.
func (r *MongoJobRepository) GetStepExecution(ctx context.Context, jobExecution *model.JobExecution, stepExecutionID int64) (*model.StepExecution, error) {
	var doc stepExecutionDoc
	err := r.collection(colStepExecution).FindOne(ctx, bson.M{
		fieldID:             stepExecutionID,
		fieldJobExecutionID: jobExecution.ExecutionID,
	}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, exception.NewBatchError(moduleName, "failed to query StepExecution", err, false, true)
	}

	se := fromStepExecutionDoc(doc)
	se.JobExecution = jobExecution
	return se, nil
}

// GetLastStepExecution returns the most recent run of the named step across
// all executions of the instance. "Most recent" orders by start time, with
// the identifier as tiebreaker for runs started within the same millisecond.
func (r *MongoJobRepository) GetLastStepExecution(ctx context.Context, jobInstance *model.JobInstance, stepName string) (*model.StepExecution, error) {
	executions, executionIDs, err := r.executionsByID(ctx, jobInstance)
	if err != nil {
		return nil, err
	}
	if len(executionIDs) == 0 {
		return nil, nil
	}

	opts := options.FindOne().SetSort(bson.D{
		{Key: fieldStartTime, Value: -1},
		{Key: fieldID, Value: -1},
	})

	var doc stepExecutionDoc
	err = r.collection(colStepExecution).FindOne(ctx, bson.M{
		fieldJobExecutionID: bson.M{"$in": executionIDs},
		fieldStepName:       stepName,
	}, opts).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, exception.NewBatchError(moduleName, "failed to query StepExecution", err, false, true)
	}

	se := fromStepExecutionDoc(doc)
	se.JobExecution = executions[se.JobExecutionID]
	return se, nil
}

// CountStepExecutions returns how many times the named step ran across all
// executions of the instance.
func (r *MongoJobRepository) CountStepExecutions(ctx context.Context, jobInstance *model.JobInstance, stepName string) (int64, error) {
	_, executionIDs, err := r.executionsByID(ctx, jobInstance)
	if err != nil {
		return 0, err
	}
	if len(executionIDs) == 0 {
		return 0, nil
	}

	count, err := r.collection(colStepExecution).CountDocuments(ctx, bson.M{
		fieldJobExecutionID: bson.M{"$in": executionIDs},
		fieldStepName:       stepName,
	})
	if err != nil {
		return 0, exception.NewBatchError(moduleName, "failed to count StepExecutions", err, false, true)
	}
	return count, nil
}

// AddStepExecutions loads the job execution's step runs from the store and
// attaches them to the passed object, ordered by identifier.
func (r *MongoJobRepository) AddStepExecutions(ctx context.Context, jobExecution *model.JobExecution) error {
	opts := options.Find().SetSort(bson.D{{Key: fieldID, Value: 1}})

	cursor, err := r.collection(colStepExecution).Find(ctx,
		bson.M{fieldJobExecutionID: jobExecution.ExecutionID}, opts)
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to query StepExecutions", err, false, true)
	}

	var docs []stepExecutionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return exception.NewBatchError(moduleName, "failed to decode StepExecutions", err, false, true)
	}

	steps := make([]*model.StepExecution, 0, len(docs))
	for _, doc := range docs {
		se := fromStepExecutionDoc(doc)
		se.JobExecution = jobExecution
		steps = append(steps, se)
	}
	jobExecution.StepExecutions = steps
	return nil
}

// executionsByID loads every execution of the instance into an id-keyed map.
// Step executions are not loaded; callers attach back-references as needed.
func (r *MongoJobRepository) executionsByID(ctx context.Context, jobInstance *model.JobInstance) (map[int64]*model.JobExecution, []int64, error) {
	cursor, err := r.collection(colJobExecution).Find(ctx,
		bson.M{fieldJobInstanceID: jobInstance.InstanceID})
	if err != nil {
		return nil, nil, exception.NewBatchError(moduleName, "failed to query JobExecutions", err, false, true)
	}

	var docs []jobExecutionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, nil, exception.NewBatchError(moduleName, "failed to decode JobExecutions", err, false, true)
	}

	executions := make(map[int64]*model.JobExecution, len(docs))
	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		je, err := fromJobExecutionDoc(doc)
		if err != nil {
			return nil, nil, err
		}
		executions[je.ExecutionID] = je
		ids = append(ids, je.ExecutionID)
	}
	return executions, ids, nil
}
