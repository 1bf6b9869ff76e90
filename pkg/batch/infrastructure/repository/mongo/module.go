package mongo

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/reef/pkg/batch/core/config"
	repo "github.com/tigerroll/reef/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/reef/pkg/batch/core/metrics"
	"github.com/tigerroll/reef/pkg/batch/support/util/serialization"
)

// RepositoryParams defines the dependencies for NewJobRepositoryProvider.
type RepositoryParams struct {
	fx.In
	Config     *config.Config
	Recorder   metrics.MetricRecorder                   `optional:"true"`
	Tracer     metrics.Tracer                           `optional:"true"`
	Serializer serialization.ExecutionContextSerializer `optional:"true"`
}

// NewJobRepositoryProvider is an Fx provider that connects to the configured
// document store and provides the repository as repo.JobRepository. Indexes
// are ensured on application start and the connection is released on stop.
func NewJobRepositoryProvider(lc fx.Lifecycle, params RepositoryParams) (repo.JobRepository, error) {
	opts := []Option{}
	if params.Recorder != nil {
		opts = append(opts, WithMetricRecorder(params.Recorder))
	}
	if params.Tracer != nil {
		opts = append(opts, WithTracer(params.Tracer))
	}
	if params.Serializer != nil {
		opts = append(opts, WithSerializer(params.Serializer))
	}

	r, err := Connect(context.Background(), params.Config.Reef.Mongo, opts...)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return r.EnsureIndexes(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return r.Close()
		},
	})

	return r, nil
}

// Module is an Fx module that provides the MongoDB-backed JobRepository.
var Module = fx.Options(
	fx.Provide(NewJobRepositoryProvider),
)
