package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/reef/pkg/batch/core/metrics"
	logger "github.com/tigerroll/reef/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	operationDurationSeconds *prometheus.HistogramVec
	operationErrorsTotal     *prometheus.CounterVec
	sequenceAllocationsTotal *prometheus.CounterVec
	lockConflictsTotal       *prometheus.CounterVec
	batchInsertDocsTotal     *prometheus.CounterVec
	genericDurationSeconds   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_repository_operation_duration_seconds",
			Help:    "Duration of metadata repository operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "entity", "status"}),
		operationErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_repository_operation_errors_total",
			Help: "Total number of failed metadata repository operations.",
		}, []string{"operation", "entity"}),
		sequenceAllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_repository_sequence_allocations_total",
			Help: "Total number of identifiers allocated per sequence.",
		}, []string{"sequence"}),
		lockConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_repository_lock_conflicts_total",
			Help: "Total number of optimistic lock conflicts by entity.",
		}, []string{"entity"}),
		batchInsertDocsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_repository_batch_insert_documents_total",
			Help: "Documents submitted and committed by batch inserts.",
		}, []string{"entity", "result"}), // result: attempted, inserted
		genericDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_repository_named_duration_seconds",
			Help:    "Duration of named auxiliary operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(r.operationDurationSeconds)
	registry.MustRegister(r.operationErrorsTotal)
	registry.MustRegister(r.sequenceAllocationsTotal)
	registry.MustRegister(r.lockConflictsTotal)
	registry.MustRegister(r.batchInsertDocsTotal)
	registry.MustRegister(r.genericDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRepositoryOperation records one repository call.
func (r *PrometheusRecorder) RecordRepositoryOperation(ctx context.Context, operation, entity string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		r.operationErrorsTotal.WithLabelValues(operation, entity).Inc()
	}
	r.operationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
	logger.Debugf("Metrics: %s on %s took %.3fms (%s)", operation, entity, float64(duration.Microseconds())/1000.0, status)
}

// RecordSequenceAllocation records one identifier allocation.
func (r *PrometheusRecorder) RecordSequenceAllocation(ctx context.Context, sequenceName string) {
	r.sequenceAllocationsTotal.WithLabelValues(sequenceName).Inc()
}

// RecordLockConflict records a stale-version update attempt.
func (r *PrometheusRecorder) RecordLockConflict(ctx context.Context, entity string) {
	r.lockConflictsTotal.WithLabelValues(entity).Inc()
}

// RecordBatchInsert records the outcome of an ordered batch insert.
func (r *PrometheusRecorder) RecordBatchInsert(ctx context.Context, entity string, attempted, inserted int) {
	r.batchInsertDocsTotal.WithLabelValues(entity, "attempted").Add(float64(attempted))
	r.batchInsertDocsTotal.WithLabelValues(entity, "inserted").Add(float64(inserted))
}

// RecordDuration records the execution time of a named auxiliary operation.
// Tags are folded into the metric name's label set only via the name label;
// high-cardinality tag maps are deliberately not exported.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.genericDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
