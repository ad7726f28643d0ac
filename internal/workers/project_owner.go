package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/formbricks/atlas/internal/jobs"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/observability"
	"github.com/formbricks/atlas/internal/service"
)

// ownerProjector is the minimal projector interface needed by the worker.
type ownerProjector interface {
	ProjectItems(ctx context.Context, ownerID, itemType string) (*service.ProjectionResult, error)
}

// ProjectOwnerWorker positions an owner's unpositioned items and optionally fans out the
// dependent jobs.
type ProjectOwnerWorker struct {
	river.WorkerDefaults[jobs.ProjectOwnerArgs]

	projector ownerProjector
	inserter  jobs.JobInserter
	metrics   observability.JobMetrics
	timeout   time.Duration
}

// NewProjectOwnerWorker creates the worker. inserter is only needed for follow-up jobs and
// metrics may be nil.
func NewProjectOwnerWorker(
	projector ownerProjector, inserter jobs.JobInserter, metrics observability.JobMetrics, timeout time.Duration,
) *ProjectOwnerWorker {
	return &ProjectOwnerWorker{projector: projector, inserter: inserter, metrics: metrics, timeout: timeoutOr(timeout)}
}

// SetInserter sets the inserter used for follow-up jobs. The River client that backs it is
// created after its workers, so the worker process wires it in afterwards.
func (w *ProjectOwnerWorker) SetInserter(inserter jobs.JobInserter) {
	w.inserter = inserter
}

// Timeout limits how long a single projection job can run.
func (w *ProjectOwnerWorker) Timeout(*river.Job[jobs.ProjectOwnerArgs]) time.Duration {
	return w.timeout
}

// Work runs the projector for the owner.
func (w *ProjectOwnerWorker) Work(ctx context.Context, job *river.Job[jobs.ProjectOwnerArgs]) error {
	args := job.Args

	return runJob(ctx, job.JobRow, args.OwnerID, w.metrics, func(ctx context.Context) (string, error) {
		itemType := args.ItemType
		if itemType == "" {
			itemType = models.ItemTypeContent
		}

		result, err := w.projector.ProjectItems(ctx, args.OwnerID, itemType)
		if err != nil {
			return "", fmt.Errorf("project owner: %w", err)
		}

		if result.Computed == 0 {
			return statusSkipped, nil
		}

		if args.FollowUp && w.inserter != nil {
			w.enqueueFollowUps(ctx, args.OwnerID, itemType, computedIDs(result))
		}

		return statusSuccess, nil
	})
}

// enqueueFollowUps schedules the work that depends on fresh positions. Enqueue failures are
// logged; the projection itself already succeeded.
func (w *ProjectOwnerWorker) enqueueFollowUps(ctx context.Context, ownerID, itemType string, ids []uuid.UUID) {
	followUps := []river.JobArgs{
		jobs.LayoutSatellitesArgs{OwnerID: ownerID},
		jobs.ComputeSimilarityArgs{OwnerID: ownerID, ItemType: itemType, ItemIDs: ids},
		jobs.RegenerateClustersArgs{OwnerID: ownerID, ItemType: itemType},
	}

	for _, args := range followUps {
		if err := w.inserter.Enqueue(ctx, args); err != nil {
			slog.ErrorContext(ctx, "project owner: enqueue follow-up failed", "job_kind", args.Kind(), "error", err)
		}
	}
}

func computedIDs(result *service.ProjectionResult) []uuid.UUID {
	ids := make([]uuid.UUID, 0, result.Computed)

	for _, pos := range result.Positions {
		if pos.Method != models.PositionStored {
			ids = append(ids, pos.ItemID)
		}
	}

	return ids
}
