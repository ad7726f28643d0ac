package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/formbricks/atlas/internal/observability"
)

// riverClient is the subset of *river.Client used for inserts.
type riverClient interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

var _ riverClient = (*river.Client[pgx.Tx])(nil)

// RiverJobInserter implements JobInserter using the River client.
type RiverJobInserter struct {
	client      riverClient
	maxAttempts int
	metrics     observability.JobMetrics
}

// NewRiverJobInserter creates a River-based job inserter. maxAttempts <= 0 keeps River's default;
// metrics may be nil.
func NewRiverJobInserter(client riverClient, maxAttempts int, metrics observability.JobMetrics) *RiverJobInserter {
	return &RiverJobInserter{client: client, maxAttempts: maxAttempts, metrics: metrics}
}

// Enqueue inserts the job with uniqueness by args across every non-final state.
func (r *RiverJobInserter) Enqueue(ctx context.Context, args river.JobArgs) error {
	opts := &river.InsertOpts{
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			// JobStatePending is required by River when using ByState.
			ByState: []rivertype.JobState{
				rivertype.JobStatePending,
				rivertype.JobStateAvailable,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	}
	if r.maxAttempts > 0 {
		opts.MaxAttempts = r.maxAttempts
	}

	res, err := r.client.Insert(ctx, args, opts)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordJobEnqueueError(ctx, args.Kind())
		}

		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}

	if r.metrics != nil && !res.UniqueSkippedAsDuplicate {
		r.metrics.RecordJobsEnqueued(ctx, args.Kind(), 1)
	}

	return nil
}
