package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// Sequence names. Each entity kind draws identifiers from its own counter.
const (
	seqJobInstance   = "jobInstanceId"
	seqJobExecution  = "jobExecutionId"
	seqStepExecution = "stepExecutionId"
)

// sequenceDoc is the counter document. The sequence name is the document key,
// so allocation is a single upsert-increment with no read-modify-write window.
type sequenceDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// nextSequence atomically increments and returns the named counter. The first
// allocation upserts the counter document and returns 1. Two concurrent
// callers can never observe the same value.
func (r *MongoJobRepository) nextSequence(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc sequenceDoc
	err := r.collection(colSequence).FindOneAndUpdate(
		ctx,
		bson.M{fieldID: name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, exception.NewBatchError(moduleName,
			fmt.Sprintf("failed to allocate next value of sequence '%s'", name), err, false, true)
	}

	r.recorder.RecordSequenceAllocation(ctx, name)
	return doc.Value, nil
}
