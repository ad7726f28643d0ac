package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
)

func newTestProjector(store ProjectorStore) *Projector {
	return NewProjector(ProjectorParams{Store: store, NewRand: SeededRand(7)})
}

func TestProjector_SmallDatasetFallback(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1, 1, 0), record(2, 0, 1), record(3, 1, 1), record(4, -1, 0))

	p := newTestProjector(store)

	result, err := p.Project(context.Background(), "owner-1")
	require.NoError(t, err)

	assert.Equal(t, models.PositionFallback, result.Method)
	assert.Equal(t, reasonDegenerateInput, result.FallbackReason)
	assert.Equal(t, 4, result.Computed)
	require.Len(t, result.Positions, 4)

	canvas := DefaultCanvas()
	seen := make(map[[2]float64]bool)

	for _, pos := range result.Positions {
		assert.True(t, canvas.Contains(pos.X, pos.Y))
		assert.Equal(t, models.PositionFallback, pos.Method)
		assert.False(t, seen[[2]float64{pos.X, pos.Y}])
		seen[[2]float64{pos.X, pos.Y}] = true
	}

	assert.Len(t, store.positions, 4)
}

func TestProjector_SmallDatasetFallbackIsDeterministic(t *testing.T) {
	run := func() []models.Position {
		store := newMemoryStore()
		store.add(record(3, 1, 0), record(1, 0, 1), record(2, 1, 1))

		result, err := NewProjector(ProjectorParams{Store: store}).Project(context.Background(), "owner-1")
		require.NoError(t, err)

		return result.Positions
	}

	a, b := run(), run()
	require.Len(t, a, 3)

	for i := range a {
		assert.Equal(t, a[i].ItemID, b[i].ItemID)
		assert.InDelta(t, a[i].X, b[i].X, 0)
		assert.InDelta(t, a[i].Y, b[i].Y, 0)
	}
}

func TestProjector_ConsecutiveFallbackRunsDoNotStackItems(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1, 1, 0))

	p := newTestProjector(store)

	_, err := p.Project(context.Background(), "owner-1")
	require.NoError(t, err)

	first := store.positions[itemID(1)]

	store.add(record(2, 0, 1))

	result, err := p.Project(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionFallback, result.Method)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, result.Computed)

	store.add(record(3, 1, 1), record(4, -1, 0))

	_, err = p.Project(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, store.positions, 4)

	assert.InDelta(t, first.X, store.positions[itemID(1)].X, 0)
	assert.InDelta(t, first.Y, store.positions[itemID(1)].Y, 0)

	seen := make(map[[2]float64]uuid.UUID)
	for id, pos := range store.positions {
		key := [2]float64{pos.X, pos.Y}
		other, dup := seen[key]
		assert.False(t, dup, "%s and %s share a position", id, other)
		seen[key] = id
	}
}

func TestProjector_CallerCancelDoesNotFailSharedRun(t *testing.T) {
	store := &gatedStore{memoryStore: newMemoryStore(), entered: make(chan struct{}, 4), release: make(chan struct{})}
	store.add(record(1, 1, 0), record(2, 0, 1))

	p := newTestProjector(store)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)

	go func() {
		_, err := p.Project(ctxA, "owner-1")
		errA <- err
	}()

	waitEntered(t, store)
	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	resultB := make(chan *ProjectionResult, 1)
	errB := make(chan error, 1)

	go func() {
		r, err := p.Project(context.Background(), "owner-1")
		resultB <- r
		errB <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(store.release)

	require.NoError(t, <-errB)
	assert.Len(t, (<-resultB).Positions, 2)
}

func TestProjector_Stability(t *testing.T) {
	store := newMemoryStore()

	for i := range 10 {
		angle := float64(i) / 10 * math.Pi
		store.add(placedRecord(i+1, 500+float64(i)*200, 1500, float32(math.Cos(angle)), float32(math.Sin(angle)), 0.1))
	}

	before := make(map[uuid.UUID]models.Position)
	for id, pos := range store.positions {
		before[id] = pos
	}

	store.add(record(101, 1, 0, 0.1), record(102, 0, 1, 0.1), record(103, 0.7, 0.7, 0.1))

	p := newTestProjector(store)

	result, err := p.Project(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionInterpolated, result.Method)
	assert.Equal(t, 10, result.Stored)
	assert.Equal(t, 3, result.Computed)
	assert.Equal(t, 3, store.positionWrites)

	for id, pos := range before {
		after := store.positions[id]
		assert.InDelta(t, pos.X, after.X, 0)
		assert.InDelta(t, pos.Y, after.Y, 0)
	}

	for _, pos := range result.Positions {
		if old, ok := before[pos.ItemID]; ok {
			assert.Equal(t, models.PositionStored, pos.Method)
			assert.InDelta(t, old.X, pos.X, 0)
			assert.InDelta(t, old.Y, pos.Y, 0)
		}
	}

	// A second run with nothing new writes nothing and reports stored positions.
	second, err := p.Project(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionStored, second.Method)
	assert.Equal(t, 13, second.Stored)
	assert.Zero(t, second.Computed)
	assert.Equal(t, 3, store.positionWrites)
}

func TestProjector_InterpolationLocality(t *testing.T) {
	store := newMemoryStore()
	store.add(
		placedRecord(1, 1000, 1000, 1, 0, 0, 0),
		placedRecord(2, 3000, 1000, 0, 1, 0, 0),
		placedRecord(3, 1000, 2000, 0, 0, 1, 0),
		placedRecord(4, 3000, 2000, 0, 0, 0, 1),
		placedRecord(5, 2000, 1500, 0.5, 0.5, 0.5, 0.5),
		record(6, 1, 0.001, 0, 0),
	)

	p := NewProjector(ProjectorParams{Store: store, NewRand: SeededRand(99), JitterRadius: 15})

	result, err := p.Project(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Computed)

	pos := store.positions[itemID(6)]
	assert.Equal(t, models.PositionInterpolated, pos.Method)
	assert.LessOrEqual(t, math.Hypot(pos.X-1000, pos.Y-1000), 15.0)
}

func TestProjector_InterpolatesTowardSimilarNeighbours(t *testing.T) {
	store := newMemoryStore()
	store.add(
		placedRecord(1, 500, 500, 1, 0, 0),
		placedRecord(2, 600, 500, 0.9, 0.1, 0),
		placedRecord(3, 3500, 2500, 0, 0, 1),
		placedRecord(4, 3400, 2500, 0, 0.1, 0.9),
		placedRecord(5, 2000, 1500, 0, 1, 0),
		record(6, 0.95, 0.05, 0),
	)

	result, err := newTestProjector(store).Project(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Computed)

	pos := store.positions[itemID(6)]
	near := math.Hypot(pos.X-550, pos.Y-500)
	far := math.Hypot(pos.X-3450, pos.Y-2500)
	assert.Less(t, near, far)
}

func TestProjector_FirstRunReduction(t *testing.T) {
	vectors, _ := groupedVectors(3, 4, 6, 0.05, 11)

	run := func() (*ProjectionResult, *memoryStore) {
		store := newMemoryStore()
		for i, v := range vectors {
			store.add(record(i+1, v...))
		}

		result, err := newTestProjector(store).Project(context.Background(), "owner-1")
		require.NoError(t, err)

		return result, store
	}

	first, store := run()
	assert.Equal(t, models.PositionReduced, first.Method)
	assert.Equal(t, len(vectors), first.Computed)
	assert.Empty(t, first.FallbackReason)

	canvas := DefaultCanvas()
	for _, pos := range store.positions {
		assert.True(t, canvas.Contains(pos.X, pos.Y))
		assert.Equal(t, models.PositionReduced, pos.Method)
	}

	second, _ := run()
	for i := range first.Positions {
		assert.Equal(t, first.Positions[i].ItemID, second.Positions[i].ItemID)
		assert.InDelta(t, first.Positions[i].X, second.Positions[i].X, 1e-9)
		assert.InDelta(t, first.Positions[i].Y, second.Positions[i].Y, 1e-9)
	}
}

func TestProjector_FirstRunKeepsFewStoredPositions(t *testing.T) {
	vectors, _ := groupedVectors(2, 4, 4, 0.05, 5)

	store := newMemoryStore()
	store.add(placedRecord(1, 123, 456, vectors[0]...), placedRecord(2, 789, 1011, vectors[1]...))

	for i, v := range vectors[2:] {
		store.add(record(i+3, v...))
	}

	result, err := newTestProjector(store).Project(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionReduced, result.Method)
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 6, result.Computed)
	assert.Equal(t, 6, store.positionWrites)
	assert.InDelta(t, 123, store.positions[itemID(1)].X, 0)
	assert.InDelta(t, 1011, store.positions[itemID(2)].Y, 0)
}

func TestProjector_ReductionFailuresFallBackToGrid(t *testing.T) {
	tests := []struct {
		name   string
		reduce reduceFunc
		reason string
	}{
		{
			name: "timeout",
			reduce: func(ctx context.Context, _ [][]float32, _ int64) ([][2]float64, error) {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)

				return nil, nil
			},
			reason: reasonTimeout,
		},
		{
			name: "ignores cancellation",
			reduce: func(_ context.Context, _ [][]float32, _ int64) ([][2]float64, error) {
				time.Sleep(time.Second)

				return nil, nil
			},
			reason: reasonTimeout,
		},
		{
			name: "panic",
			reduce: func(context.Context, [][]float32, int64) ([][2]float64, error) {
				panic("index out of range")
			},
			reason: reasonComputeError,
		},
		{
			name: "error",
			reduce: func(context.Context, [][]float32, int64) ([][2]float64, error) {
				return nil, apperrors.NewComputeError("reduction", errors.New("boom"))
			},
			reason: reasonComputeError,
		},
		{
			name: "wrong coordinate count",
			reduce: func(context.Context, [][]float32, int64) ([][2]float64, error) {
				return [][2]float64{{1, 2}}, nil
			},
			reason: reasonComputeError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			for i := range 6 {
				store.add(record(i+1, float32(i), 1))
			}

			p := NewProjector(ProjectorParams{Store: store, ReductionTimeout: 20 * time.Millisecond})
			p.reduce = tt.reduce

			result, err := p.Project(context.Background(), "owner-1")
			require.NoError(t, err)
			assert.Equal(t, models.PositionFallback, result.Method)
			assert.Equal(t, tt.reason, result.FallbackReason)
			assert.Equal(t, 6, result.Computed)
			assert.Len(t, store.positions, 6)
		})
	}
}

func TestProjector_PersistFailureIsCountedAndSkipped(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1, 1, 0), record(2, 0, 1), record(3, 1, 1))
	store.upsertPosition = func(pos models.Position) error {
		if pos.ItemID == itemID(2) {
			return errors.New("connection reset")
		}

		return nil
	}

	result, err := newTestProjector(store).Project(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PersistFailures)
	assert.Equal(t, 3, result.Computed)
	assert.Len(t, store.positions, 2)
}

func TestProjector_LoadErrorIsReturned(t *testing.T) {
	store := newMemoryStore()
	store.listErr = errors.New("database unavailable")

	_, err := newTestProjector(store).Project(context.Background(), "owner-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list embeddings")
}

func TestProjector_RequiresOwner(t *testing.T) {
	_, err := newTestProjector(newMemoryStore()).Project(context.Background(), "")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestProjector_EmptyOwnerData(t *testing.T) {
	result, err := newTestProjector(newMemoryStore()).Project(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionStored, result.Method)
	assert.Empty(t, result.Positions)
}
