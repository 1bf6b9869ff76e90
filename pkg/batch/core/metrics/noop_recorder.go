package metrics

import (
	"context"
	"time"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordRepositoryOperation does nothing.
func (r *NoOpMetricRecorder) RecordRepositoryOperation(ctx context.Context, operation, entity string, duration time.Duration, err error) {
}

// RecordSequenceAllocation does nothing.
func (r *NoOpMetricRecorder) RecordSequenceAllocation(ctx context.Context, sequenceName string) {}

// RecordLockConflict does nothing.
func (r *NoOpMetricRecorder) RecordLockConflict(ctx context.Context, entity string) {}

// RecordBatchInsert does nothing.
func (r *NoOpMetricRecorder) RecordBatchInsert(ctx context.Context, entity string, attempted, inserted int) {
}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartOperationSpan returns the context unchanged and a no-op end function.
func (t *NoOpTracer) StartOperationSpan(ctx context.Context, operation string) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
