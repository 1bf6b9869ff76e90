package mongo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/reef/pkg/batch/support/util/logger"
)

// jobKeyFilter matches documents by parameter fingerprint. The empty
// fingerprint matches documents where the field is empty or absent, so
// instances written before the field existed still resolve.
func jobKeyFilter(jobKey string) bson.M {
	if jobKey == "" {
		return bson.M{"$or": []bson.M{
			{fieldJobKey: ""},
			{fieldJobKey: bson.M{"$exists": false}},
		}}
	}
	return bson.M{fieldJobKey: jobKey}
}

// CreateJobInstance allocates an identifier and persists a new JobInstance.
func (r *MongoJobRepository) CreateJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	start := time.Now()
	var err error
	defer func() { r.observe(ctx, "CreateJobInstance", entityJobInstance, start, err) }()

	if jobName == "" {
		err = exception.NewValidationError(moduleName, "job name must not be empty")
		return nil, err
	}

	existing, err := r.GetJobInstance(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		err = exception.NewBatchError(moduleName,
			fmt.Sprintf("JobInstance for job '%s' with the same parameters already exists", jobName),
			repo.ErrJobInstanceAlreadyExists, false, false)
		return nil, err
	}

	id, err := r.nextSequence(ctx, seqJobInstance)
	if err != nil {
		return nil, err
	}

	instance := model.NewJobInstance(jobName, params)
	instance.InstanceID = id

	if _, err = r.collection(colJobInstance).InsertOne(ctx, toJobInstanceDoc(instance)); err != nil {
		// A racing creator may have won between the exists-check and the
		// insert. The unique (jobName, jobKey) index turns that into a
		// duplicate key failure.
		if isDuplicateKey(err) {
			err = exception.NewBatchError(moduleName,
				fmt.Sprintf("JobInstance for job '%s' with the same parameters already exists", jobName),
				repo.ErrJobInstanceAlreadyExists, false, false)
			return nil, err
		}
		err = exception.NewBatchError(moduleName, "failed to insert JobInstance", err, false, true)
		return nil, err
	}

	logger.Debugf("Created JobInstance id=%d for job '%s'", id, jobName)
	return instance, nil
}

// GetJobInstance finds the instance matching the job name and exact parameter
// fingerprint. Returns (nil, nil) when absent.
func (r *MongoJobRepository) GetJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	filter := jobKeyFilter(params.JobKey())
	filter[fieldJobName] = jobName

	var doc jobInstanceDoc
	err := r.collection(colJobInstance).FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, exception.NewBatchError(moduleName, "failed to query JobInstance", err, false, true)
	}
	return fromJobInstanceDoc(doc)
}

// GetJobInstanceByID finds a JobInstance by its identifier.
func (r *MongoJobRepository) GetJobInstanceByID(ctx context.Context, instanceID int64) (*model.JobInstance, error) {
	var doc jobInstanceDoc
	err := r.collection(colJobInstance).FindOne(ctx, bson.M{fieldID: instanceID}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, exception.NewBatchError(moduleName,
				fmt.Sprintf("JobInstance with id=%d does not exist", instanceID),
				repo.ErrJobInstanceNotFound, false, false)
		}
		return nil, exception.NewBatchError(moduleName, "failed to query JobInstance", err, false, true)
	}
	return fromJobInstanceDoc(doc)
}

// GetJobInstanceByExecution finds the JobInstance owning the given execution.
// The instance identifier is resolved from the persisted execution record, not
// from the possibly stale in-memory object.
func (r *MongoJobRepository) GetJobInstanceByExecution(ctx context.Context, jobExecution *model.JobExecution) (*model.JobInstance, error) {
	var doc jobExecutionDoc
	err := r.collection(colJobExecution).FindOne(ctx, bson.M{fieldID: jobExecution.ExecutionID}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, exception.NewBatchError(moduleName,
				fmt.Sprintf("JobExecution with id=%d does not exist", jobExecution.ExecutionID),
				repo.ErrJobExecutionNotFound, false, false)
		}
		return nil, exception.NewBatchError(moduleName, "failed to query JobExecution", err, false, true)
	}
	return r.GetJobInstanceByID(ctx, doc.JobInstanceID)
}

// GetJobInstances returns instances of the named job, newest first.
func (r *MongoJobRepository) GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	return r.findInstances(ctx, bson.M{fieldJobName: jobName}, start, count)
}

// GetLastJobInstance returns the most recently created instance of the named job.
func (r *MongoJobRepository) GetLastJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: fieldID, Value: -1}})

	var doc jobInstanceDoc
	err := r.collection(colJobInstance).FindOne(ctx, bson.M{fieldJobName: jobName}, opts).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, exception.NewBatchError(moduleName, "failed to query JobInstance", err, false, true)
	}
	return fromJobInstanceDoc(doc)
}

// FindJobInstancesByName returns instances whose job name contains the given
// fragment anywhere. Newest first.
func (r *MongoJobRepository) FindJobInstancesByName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	filter := bson.M{fieldJobName: bson.M{"$regex": regexp.QuoteMeta(jobName)}}
	return r.findInstances(ctx, filter, start, count)
}

func (r *MongoJobRepository) findInstances(ctx context.Context, filter bson.M, start, count int) ([]*model.JobInstance, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: fieldID, Value: -1}}).
		SetSkip(int64(start)).
		SetLimit(int64(count))

	cursor, err := r.collection(colJobInstance).Find(ctx, filter, opts)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to query JobInstances", err, false, true)
	}

	var docs []jobInstanceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to decode JobInstances", err, false, true)
	}

	instances := make([]*model.JobInstance, 0, len(docs))
	for _, doc := range docs {
		instance, err := fromJobInstanceDoc(doc)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// GetJobNames returns the distinct job names present in the store, sorted.
func (r *MongoJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	res := r.collection(colJobInstance).Distinct(ctx, fieldJobName, bson.M{})

	var names []string
	if err := res.Decode(&names); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to list job names", err, false, true)
	}
	sort.Strings(names)
	return names, nil
}

// GetJobInstanceCount returns the number of instances of the named job.
func (r *MongoJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int64, error) {
	count, err := r.collection(colJobInstance).CountDocuments(ctx, bson.M{fieldJobName: jobName})
	if err != nil {
		return 0, exception.NewBatchError(moduleName, "failed to count JobInstances", err, false, true)
	}
	if count == 0 {
		return 0, exception.NewBatchError(moduleName,
			fmt.Sprintf("no job instances were found for job name '%s'", jobName),
			repo.ErrNoSuchJob, false, false)
	}
	return count, nil
}
