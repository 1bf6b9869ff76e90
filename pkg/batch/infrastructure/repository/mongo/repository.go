// Package mongo implements the JobRepository interfaces on top of a MongoDB
// document store. Identifiers are allocated from a counter collection, and all
// mutations of existing execution records go through version-conditioned
// single-document updates.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tigerroll/reef/pkg/batch/core/config"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/reef/pkg/batch/core/metrics"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/reef/pkg/batch/support/util/logger"
	"github.com/tigerroll/reef/pkg/batch/support/util/serialization"
)

const moduleName = "repository"

// Collection name constants.
const (
	colSequence         = "Sequence"
	colJobInstance      = "JobInstance"
	colJobExecution     = "JobExecution"
	colStepExecution    = "StepExecution"
	colExecutionContext = "ExecutionContext"
)

// Document field name constants shared across collections.
const (
	fieldID                = "_id"
	fieldJobName           = "jobName"
	fieldJobInstanceID     = "jobInstanceId"
	fieldJobKey            = "jobKey"
	fieldJobParameters     = "jobParameters"
	fieldJobExecutionID    = "jobExecutionId"
	fieldStepExecutionID   = "stepExecutionId"
	fieldStepName          = "stepName"
	fieldVersion           = "version"
	fieldStatus            = "status"
	fieldExitCode          = "exitCode"
	fieldExitMessage       = "exitMessage"
	fieldCreateTime        = "createTime"
	fieldStartTime         = "startTime"
	fieldEndTime           = "endTime"
	fieldLastUpdated       = "lastUpdated"
	fieldCommitCount       = "commitCount"
	fieldReadCount         = "readCount"
	fieldFilterCount       = "filterCount"
	fieldWriteCount        = "writeCount"
	fieldReadSkipCount     = "readSkipCount"
	fieldWriteSkipCount    = "writeSkipCount"
	fieldProcessSkipCount  = "processSkipCount"
	fieldRollbackCount     = "rollbackCount"
	fieldExecutionID       = "executionId"
	fieldContextType       = "type"
	fieldSerializedContext = "serializedContext"
)

// Entity name constants used in metrics and conflict reports.
const (
	entityJobInstance      = "JobInstance"
	entityJobExecution     = "JobExecution"
	entityStepExecution    = "StepExecution"
	entityExecutionContext = "ExecutionContext"
)

// MongoJobRepository implements repository.JobRepository against a MongoDB
// database. It is safe for concurrent use; cross-process races on execution
// records are resolved by the store through conditional updates.
type MongoJobRepository struct {
	client     *mongod.Client
	db         *mongod.Database
	prefix     string
	serializer serialization.ExecutionContextSerializer
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer
	ownsClient bool
}

var _ repo.JobRepository = (*MongoJobRepository)(nil)

// Option configures a MongoJobRepository.
type Option func(*MongoJobRepository)

// WithSerializer sets the execution context serializer. Defaults to JSON.
func WithSerializer(s serialization.ExecutionContextSerializer) Option {
	return func(r *MongoJobRepository) { r.serializer = s }
}

// WithMetricRecorder sets the metric recorder. Defaults to a no-op.
func WithMetricRecorder(rec metrics.MetricRecorder) Option {
	return func(r *MongoJobRepository) { r.recorder = rec }
}

// WithTracer sets the tracer. Defaults to a no-op.
func WithTracer(t metrics.Tracer) Option {
	return func(r *MongoJobRepository) { r.tracer = t }
}

// WithCollectionPrefix prepends the given prefix to every collection name.
func WithCollectionPrefix(prefix string) Option {
	return func(r *MongoJobRepository) { r.prefix = prefix }
}

// NewMongoJobRepository creates a repository over an existing database handle.
// The caller owns the client lifecycle; Close does not disconnect it.
func NewMongoJobRepository(db *mongod.Database, opts ...Option) *MongoJobRepository {
	r := &MongoJobRepository{
		db:         db,
		serializer: serialization.NewJSONSerializer(),
		recorder:   metrics.NewNoOpMetricRecorder(),
		tracer:     metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect establishes a client from configuration and returns a repository
// owning it. Close disconnects the client.
func Connect(ctx context.Context, cfg config.MongoConfig, opts ...Option) (*MongoJobRepository, error) {
	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout)

	client, err := mongod.Connect(clientOpts)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to connect to MongoDB", err, false, true)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, exception.NewBatchError(moduleName, "failed to ping MongoDB", err, false, true)
	}

	r := NewMongoJobRepository(client.Database(cfg.Database), opts...)
	r.client = client
	r.ownsClient = true
	if r.prefix == "" && cfg.CollectionPrefix != "" {
		r.prefix = cfg.CollectionPrefix
	}

	logger.Infof("Connected to MongoDB database '%s'", cfg.Database)
	return r, nil
}

// collection returns the named collection with the configured prefix applied.
func (r *MongoJobRepository) collection(name string) *mongod.Collection {
	return r.db.Collection(r.prefix + name)
}

// observe records one repository call against the metric recorder and traces it.
func (r *MongoJobRepository) observe(ctx context.Context, operation, entity string, start time.Time, err error) {
	r.recorder.RecordRepositoryOperation(ctx, operation, entity, time.Since(start), err)
	if err != nil {
		r.tracer.RecordError(ctx, moduleName, err)
	}
}

// now returns the current time in UTC. Document stores round timestamps to
// millisecond precision, so values are truncated up front to keep in-memory
// and persisted representations comparable.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// isNoDocuments returns true when err indicates no matching document.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// collectionIndexes returns the index models backing lookups and uniqueness
// guarantees, keyed by collection name.
func collectionIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobInstance: {
			// One instance per (jobName, jobKey) pair.
			{
				Keys:    bson.D{{Key: fieldJobName, Value: 1}, {Key: fieldJobKey, Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			// Fingerprint-only lookups bypass the compound prefix.
			{Keys: bson.D{{Key: fieldJobKey, Value: 1}}},
		},
		colJobExecution: {
			{Keys: bson.D{{Key: fieldJobInstanceID, Value: 1}}},
			// Running-executions scan: join from instances by name, filter on times.
			{Keys: bson.D{{Key: fieldJobInstanceID, Value: 1}, {Key: fieldStartTime, Value: -1}}},
		},
		colStepExecution: {
			{Keys: bson.D{{Key: fieldJobExecutionID, Value: 1}}},
			// Version-conditioned updates match on (owner, version).
			{Keys: bson.D{{Key: fieldJobExecutionID, Value: 1}, {Key: fieldVersion, Value: 1}}},
			{Keys: bson.D{{Key: fieldStepName, Value: 1}, {Key: fieldStartTime, Value: -1}}},
		},
		colExecutionContext: {
			// One context document per (executionId, type) pair.
			{
				Keys:    bson.D{{Key: fieldExecutionID, Value: 1}, {Key: fieldContextType, Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}

// EnsureIndexes creates the indexes backing lookups and uniqueness guarantees.
// Safe to call repeatedly: existing indexes are left untouched.
func (r *MongoJobRepository) EnsureIndexes(ctx context.Context) error {
	start := now()
	var err error
	defer func() { r.observe(ctx, "EnsureIndexes", "all", start, err) }()

	for col, models := range collectionIndexes() {
		if _, err = r.collection(col).Indexes().CreateMany(ctx, models); err != nil {
			err = exception.NewBatchError(moduleName, fmt.Sprintf("failed to create indexes on %s", col), err, false, true)
			return err
		}
	}
	return nil
}

// DropCollections removes every metadata collection, counters included.
// Intended for tests and tooling, never for production paths.
func (r *MongoJobRepository) DropCollections(ctx context.Context) error {
	for _, col := range []string{colSequence, colJobInstance, colJobExecution, colStepExecution, colExecutionContext} {
		if err := r.collection(col).Drop(ctx); err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to drop collection %s", col), err, false, false)
		}
	}
	return nil
}

// Close disconnects the client when this repository owns it; otherwise a no-op.
func (r *MongoJobRepository) Close() error {
	if !r.ownsClient || r.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Disconnect(ctx); err != nil {
		return exception.NewBatchError(moduleName, "failed to disconnect from MongoDB", err, false, false)
	}
	return nil
}
