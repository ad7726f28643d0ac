package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/formbricks/atlas/internal/jobs"
	"github.com/formbricks/atlas/internal/observability"
	"github.com/formbricks/atlas/internal/service"
)

type satelliteGraphBuilder interface {
	Build(ctx context.Context, ownerID string, anchors []service.AnchorSatellites) (*service.GraphBuildResult, error)
}

type satelliteResolver interface {
	Resolve(ctx context.Context, ownerID string) (*service.SatelliteLayoutResult, error)
}

// LayoutSatellitesWorker writes anchor->satellite edges (when given) and recomputes the owner's
// satellite positions.
type LayoutSatellitesWorker struct {
	river.WorkerDefaults[jobs.LayoutSatellitesArgs]

	builder  satelliteGraphBuilder
	resolver satelliteResolver
	metrics  observability.JobMetrics
	timeout  time.Duration
}

// NewLayoutSatellitesWorker creates the worker. metrics may be nil.
func NewLayoutSatellitesWorker(
	builder satelliteGraphBuilder, resolver satelliteResolver, metrics observability.JobMetrics, timeout time.Duration,
) *LayoutSatellitesWorker {
	return &LayoutSatellitesWorker{builder: builder, resolver: resolver, metrics: metrics, timeout: timeoutOr(timeout)}
}

// Timeout limits how long a single layout job can run.
func (w *LayoutSatellitesWorker) Timeout(*river.Job[jobs.LayoutSatellitesArgs]) time.Duration {
	return w.timeout
}

// Work builds the satellite graph and resolves positions.
func (w *LayoutSatellitesWorker) Work(ctx context.Context, job *river.Job[jobs.LayoutSatellitesArgs]) error {
	args := job.Args

	return runJob(ctx, job.JobRow, args.OwnerID, w.metrics, func(ctx context.Context) (string, error) {
		if len(args.Anchors) > 0 {
			if _, err := w.builder.Build(ctx, args.OwnerID, args.Anchors); err != nil {
				return "", fmt.Errorf("build satellite graph: %w", err)
			}
		}

		result, err := w.resolver.Resolve(ctx, args.OwnerID)
		if err != nil {
			return "", fmt.Errorf("resolve satellites: %w", err)
		}

		if len(result.Positions) == 0 {
			return statusSkipped, nil
		}

		return statusSuccess, nil
	})
}
