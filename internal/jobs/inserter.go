package jobs

import (
	"context"

	"github.com/riverqueue/river"
)

// JobInserter enqueues atlas jobs. Workers and the scheduler depend on this rather than on
// the River client.
type JobInserter interface {
	// Enqueue inserts one job. A job with identical args that is still pending is not duplicated.
	Enqueue(ctx context.Context, args river.JobArgs) error
}
