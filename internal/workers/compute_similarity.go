package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/formbricks/atlas/internal/jobs"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/observability"
	"github.com/formbricks/atlas/internal/service"
)

type similarityComputer interface {
	ComputeBatch(
		ctx context.Context, ownerID string, itemIDs []uuid.UUID, opts service.SimilarityOptions,
	) (*service.BatchResult, error)
	ComputeForOwner(
		ctx context.Context, lister service.EmbeddingLister, ownerID, itemType string, opts service.SimilarityOptions,
	) (*service.BatchResult, error)
}

// ComputeSimilarityWorker writes similar_to edges for a batch of items or a whole owner.
type ComputeSimilarityWorker struct {
	river.WorkerDefaults[jobs.ComputeSimilarityArgs]

	similarity similarityComputer
	lister     service.EmbeddingLister
	metrics    observability.JobMetrics
	timeout    time.Duration
}

// NewComputeSimilarityWorker creates the worker. metrics may be nil.
func NewComputeSimilarityWorker(
	similarity similarityComputer, lister service.EmbeddingLister, metrics observability.JobMetrics, timeout time.Duration,
) *ComputeSimilarityWorker {
	return &ComputeSimilarityWorker{similarity: similarity, lister: lister, metrics: metrics, timeout: timeoutOr(timeout)}
}

// Timeout limits how long a single similarity job can run.
func (w *ComputeSimilarityWorker) Timeout(*river.Job[jobs.ComputeSimilarityArgs]) time.Duration {
	return w.timeout
}

// Work runs the batch. Per-item failures are counted by the service; the job only fails when
// every requested item failed.
func (w *ComputeSimilarityWorker) Work(ctx context.Context, job *river.Job[jobs.ComputeSimilarityArgs]) error {
	args := job.Args

	return runJob(ctx, job.JobRow, args.OwnerID, w.metrics, func(ctx context.Context) (string, error) {
		opts := service.SimilarityOptions{Mode: args.Mode}

		var (
			result *service.BatchResult
			err    error
		)

		if len(args.ItemIDs) > 0 {
			result, err = w.similarity.ComputeBatch(ctx, args.OwnerID, args.ItemIDs, opts)
		} else {
			itemType := args.ItemType
			if itemType == "" {
				itemType = models.ItemTypeContent
			}

			result, err = w.similarity.ComputeForOwner(ctx, w.lister, args.OwnerID, itemType, opts)
		}

		if err != nil {
			return "", fmt.Errorf("compute similarity: %w", err)
		}

		switch {
		case result.Requested == 0:
			return statusSkipped, nil
		case result.Succeeded == 0:
			return "", fmt.Errorf("compute similarity: all %d items failed", result.Failed)
		default:
			return statusSuccess, nil
		}
	})
}
