package metrics

import (
	"context"
	"time"
)

// Span represents a single operation or unit of work in distributed tracing.
type Span interface {
	// End sets the end time of the current span and finishes the span.
	End()
}

// MetricRecorder is an abstract interface for recording metrics emitted by the
// metadata store. It decouples the repository layer from any particular
// metrics backend (e.g., Prometheus, OpenTelemetry Metrics).
type MetricRecorder interface {
	// RecordRepositoryOperation records one repository call: the operation
	// name (e.g., "UpdateJobExecution"), the entity it touched, how long it
	// took, and whether it failed.
	//
	// ctx: The context for the operation.
	// operation: The repository method name.
	// entity: The record kind the operation targeted.
	// duration: Wall-clock time the call took.
	// err: The call's error result, nil on success.
	RecordRepositoryOperation(ctx context.Context, operation, entity string, duration time.Duration, err error)

	// RecordSequenceAllocation records one identifier allocation from the
	// named counter.
	//
	// ctx: The context for the operation.
	// sequenceName: The counter the identifier was drawn from.
	RecordSequenceAllocation(ctx context.Context, sequenceName string)

	// RecordLockConflict records a conditional update that matched nothing
	// because the caller held a stale version.
	//
	// ctx: The context for the operation.
	// entity: The record kind the update targeted.
	RecordLockConflict(ctx context.Context, entity string)

	// RecordBatchInsert records an ordered batch insert: how many documents
	// were attempted and how many committed before any failure.
	//
	// ctx: The context for the operation.
	// entity: The record kind inserted.
	// attempted: The number of documents submitted.
	// inserted: The number of documents actually written.
	RecordBatchInsert(ctx context.Context, entity string, attempted, inserted int)

	// RecordDuration records the execution time of an arbitrary named
	// operation outside the standard repository call path.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "index_build_time").
	// duration: The length of the duration to record.
	// tags: Additional attributes to associate with the measurement.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
