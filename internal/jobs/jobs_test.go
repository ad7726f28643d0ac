package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/atlas/internal/observability"
)

type mockRiverClient struct {
	mock.Mock
}

func (m *mockRiverClient) Insert(
	ctx context.Context, args river.JobArgs, opts *river.InsertOpts,
) (*rivertype.JobInsertResult, error) {
	ret := m.Called(ctx, args, opts)

	res, _ := ret.Get(0).(*rivertype.JobInsertResult)

	return res, ret.Error(1)
}

type recordingJobMetrics struct {
	enqueued map[string]int
	errors   map[string]int
}

func newRecordingJobMetrics() *recordingJobMetrics {
	return &recordingJobMetrics{enqueued: map[string]int{}, errors: map[string]int{}}
}

func (m *recordingJobMetrics) RecordJobOutcome(context.Context, string, string, time.Duration) {}

func (m *recordingJobMetrics) RecordJobsEnqueued(_ context.Context, kind string, count int) {
	m.enqueued[kind] += count
}

func (m *recordingJobMetrics) RecordJobEnqueueError(_ context.Context, kind string) {
	m.errors[kind]++
}

func TestKindsAreAllowedMetricValues(t *testing.T) {
	for _, args := range []river.JobArgs{
		ProjectOwnerArgs{}, LayoutSatellitesArgs{}, ComputeSimilarityArgs{}, RegenerateClustersArgs{},
	} {
		assert.True(t, observability.AllowedJobKinds[args.Kind()], args.Kind())
	}
}

func TestRiverJobInserter_Enqueue(t *testing.T) {
	ctx := context.Background()
	args := ProjectOwnerArgs{OwnerID: "owner-a"}

	t.Run("inserts unique by args", func(t *testing.T) {
		client := &mockRiverClient{}
		metrics := newRecordingJobMetrics()
		client.On("Insert", ctx, args, mock.MatchedBy(func(opts *river.InsertOpts) bool {
			return opts.UniqueOpts.ByArgs && opts.MaxAttempts == 5 &&
				len(opts.UniqueOpts.ByState) == 5
		})).Return(&rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 1}}, nil)

		require.NoError(t, NewRiverJobInserter(client, 5, metrics).Enqueue(ctx, args))
		client.AssertExpectations(t)
		assert.Equal(t, 1, metrics.enqueued[KindProjectOwner])
	})

	t.Run("duplicates are not counted", func(t *testing.T) {
		client := &mockRiverClient{}
		metrics := newRecordingJobMetrics()
		client.On("Insert", ctx, args, mock.Anything).
			Return(&rivertype.JobInsertResult{UniqueSkippedAsDuplicate: true}, nil)

		require.NoError(t, NewRiverJobInserter(client, 0, metrics).Enqueue(ctx, args))
		assert.Zero(t, metrics.enqueued[KindProjectOwner])
	})

	t.Run("errors are wrapped and counted", func(t *testing.T) {
		client := &mockRiverClient{}
		metrics := newRecordingJobMetrics()
		boom := errors.New("connection refused")
		client.On("Insert", ctx, args, mock.Anything).Return(nil, boom)

		err := NewRiverJobInserter(client, 0, metrics).Enqueue(ctx, args)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), KindProjectOwner)
		assert.Equal(t, 1, metrics.errors[KindProjectOwner])
	})

	t.Run("nil metrics", func(t *testing.T) {
		client := &mockRiverClient{}
		client.On("Insert", ctx, args, mock.Anything).Return(&rivertype.JobInsertResult{}, nil)

		require.NoError(t, NewRiverJobInserter(client, 0, nil).Enqueue(ctx, args))
	})
}

func TestErrorHandler_DefersToRiverRetries(t *testing.T) {
	h := &ErrorHandler{}
	job := &rivertype.JobRow{ID: 7, Kind: KindRegenerateClusters, Attempt: 1, MaxAttempts: 3}

	assert.Nil(t, h.HandleError(context.Background(), job, errors.New("boom")))
	assert.Nil(t, h.HandlePanic(context.Background(), job, "boom", "trace"))
}
