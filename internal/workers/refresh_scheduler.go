package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/formbricks/atlas/internal/jobs"
	"github.com/formbricks/atlas/internal/models"
)

// PendingOwnerLister finds owners with embedded items that have no position yet.
type PendingOwnerLister interface {
	ListPendingOwners(ctx context.Context, itemType string, limit int) ([]string, error)
}

// RefreshScheduler periodically enqueues a projection (with follow-ups) for every owner that
// has unpositioned items. River's by-args uniqueness keeps repeated polls from piling up jobs.
type RefreshScheduler struct {
	lister       PendingOwnerLister
	inserter     jobs.JobInserter
	itemType     string
	pollInterval time.Duration
	batchSize    int
}

// NewRefreshScheduler creates a scheduler. Zero values fall back to a one minute interval
// and batches of 100 owners.
func NewRefreshScheduler(
	lister PendingOwnerLister, inserter jobs.JobInserter, pollInterval time.Duration, batchSize int,
) *RefreshScheduler {
	if pollInterval <= 0 {
		pollInterval = 1 * time.Minute
	}

	if batchSize <= 0 {
		batchSize = 100
	}

	return &RefreshScheduler{
		lister:       lister,
		inserter:     inserter,
		itemType:     models.ItemTypeContent,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Start runs the poll loop until ctx is cancelled.
func (s *RefreshScheduler) Start(ctx context.Context) {
	slog.Info("refresh scheduler started",
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
	)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce enqueues one batch and returns how many owners were enqueued.
func (s *RefreshScheduler) RunOnce(ctx context.Context) int {
	owners, err := s.lister.ListPendingOwners(ctx, s.itemType, s.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "refresh scheduler: list pending owners failed", "error", err)
		return 0
	}

	if len(owners) == 0 {
		slog.DebugContext(ctx, "refresh scheduler: no pending owners")
		return 0
	}

	enqueued := 0

	for _, owner := range owners {
		args := jobs.ProjectOwnerArgs{OwnerID: owner, ItemType: s.itemType, FollowUp: true}
		if err := s.inserter.Enqueue(ctx, args); err != nil {
			slog.ErrorContext(ctx, "refresh scheduler: enqueue projection failed", "owner_id", owner, "error", err)
			continue
		}

		enqueued++
	}

	slog.InfoContext(ctx, "refresh scheduler: projections enqueued", "owners", len(owners), "enqueued", enqueued)

	return enqueued
}
