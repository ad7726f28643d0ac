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

type clusterRegenerator interface {
	RegenerateClusters(ctx context.Context, ownerID string, opts service.ClusterOptions) (*service.ClusteringResult, error)
}

// RegenerateClustersWorker replaces an owner's cluster set.
type RegenerateClustersWorker struct {
	river.WorkerDefaults[jobs.RegenerateClustersArgs]

	clusters clusterRegenerator
	metrics  observability.JobMetrics
	timeout  time.Duration
}

// NewRegenerateClustersWorker creates the worker. metrics may be nil.
func NewRegenerateClustersWorker(
	clusters clusterRegenerator, metrics observability.JobMetrics, timeout time.Duration,
) *RegenerateClustersWorker {
	return &RegenerateClustersWorker{clusters: clusters, metrics: metrics, timeout: timeoutOr(timeout)}
}

// Timeout limits how long a single regeneration can run.
func (w *RegenerateClustersWorker) Timeout(*river.Job[jobs.RegenerateClustersArgs]) time.Duration {
	return w.timeout
}

// Work regenerates clusters. A result that could not be persisted is retried.
func (w *RegenerateClustersWorker) Work(ctx context.Context, job *river.Job[jobs.RegenerateClustersArgs]) error {
	args := job.Args

	return runJob(ctx, job.JobRow, args.OwnerID, w.metrics, func(ctx context.Context) (string, error) {
		result, err := w.clusters.RegenerateClusters(ctx, args.OwnerID, service.ClusterOptions{
			MinClusterSize: args.MinClusterSize,
			Seed:           args.Seed,
			ItemType:       args.ItemType,
		})
		if err != nil {
			return "", fmt.Errorf("regenerate clusters: %w", err)
		}

		if !result.Persisted {
			return "", fmt.Errorf("regenerate clusters: cluster set for %s was not persisted", args.OwnerID)
		}

		if len(result.Clusters) == 0 {
			return statusSkipped, nil
		}

		return statusSuccess, nil
	})
}
