// Package workers provides the River workers of the atlas worker process, one per component,
// and the scheduler that enqueues projections for owners with new items.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/observability"
)

// DefaultJobTimeout bounds a single job when the worker is created without a timeout.
const DefaultJobTimeout = 5 * time.Minute

// Job outcome statuses.
const (
	statusSuccess = "success"
	statusSkipped = "skipped"
	statusFailed  = "failed"
)

// runJob wraps a job body with owner and job context, a span, outcome metrics and error
// classification. Validation errors cancel the job since a retry cannot succeed.
func runJob(
	ctx context.Context,
	row *rivertype.JobRow,
	ownerID string,
	metrics observability.JobMetrics,
	body func(ctx context.Context) (string, error),
) error {
	start := time.Now()

	ctx = observability.WithOwnerID(ctx, ownerID)
	ctx = observability.WithJobID(ctx, row.ID)

	ctx, span := observability.Tracer().Start(ctx, "job."+row.Kind)
	defer span.End()

	span.SetAttributes(
		attribute.String("atlas.job.kind", row.Kind),
		attribute.Int("atlas.job.attempt", row.Attempt),
	)

	if ownerID == "" {
		err := apperrors.NewValidationError("owner_id", "owner id is required")
		record(ctx, metrics, row.Kind, statusFailed, start)

		return river.JobCancel(err)
	}

	status, err := body(ctx)
	if err != nil {
		status = statusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	record(ctx, metrics, row.Kind, status, start)

	if err != nil && errors.Is(err, apperrors.ErrValidation) {
		slog.ErrorContext(ctx, "job cancelled: invalid arguments", "job_kind", row.Kind, "error", err)

		return river.JobCancel(err)
	}

	return err
}

func record(ctx context.Context, metrics observability.JobMetrics, kind, status string, start time.Time) {
	if metrics != nil {
		metrics.RecordJobOutcome(ctx, kind, status, time.Since(start))
	}
}

func timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}

	return DefaultJobTimeout
}
