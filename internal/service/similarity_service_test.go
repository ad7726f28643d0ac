package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
)

// mockSimilarityStore is a testify mock of SimilarityStore.
type mockSimilarityStore struct {
	mock.Mock
}

func (m *mockSimilarityStore) GetEmbedding(ctx context.Context, ownerID string, itemID uuid.UUID) (*models.EmbeddingRecord, error) {
	args := m.Called(ctx, ownerID, itemID)
	rec, _ := args.Get(0).(*models.EmbeddingRecord)

	return rec, args.Error(1)
}

func (m *mockSimilarityStore) NearestCandidates(
	ctx context.Context, ownerID, itemType string, query []float32, excludeID uuid.UUID, limit int, minSimilarity float64,
) ([]models.ScoredRecord, error) {
	args := m.Called(ctx, ownerID, itemType, query, excludeID, limit, minSimilarity)
	recs, _ := args.Get(0).([]models.ScoredRecord)

	return recs, args.Error(1)
}

func (m *mockSimilarityStore) UpsertRelationshipEdge(ctx context.Context, edge models.RelationshipEdge) error {
	return m.Called(ctx, edge).Error(0)
}

func TestSimilarityService_WritesSymmetricEdges(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1, 1, 0), record(2, unitAt(0.9)...), record(3, unitAt(0.8)...), record(4, unitAt(-0.5)...))

	svc := NewSimilarityService(SimilarityServiceParams{Store: store})

	result, err := svc.ComputeForItem(context.Background(), "owner-1", itemID(1), SimilarityOptions{})
	require.NoError(t, err)

	assert.Equal(t, SimilarityModeVector, result.Mode)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, 4, result.EdgesWritten)

	for _, m := range result.Matches {
		fwd, ok := store.edges[edgeKey{sourceID: itemID(1), targetID: m.ItemID, relationshipType: models.RelationshipSimilarTo}]
		require.True(t, ok)

		rev, ok := store.edges[edgeKey{sourceID: m.ItemID, targetID: itemID(1), relationshipType: models.RelationshipSimilarTo}]
		require.True(t, ok)

		assert.InDelta(t, fwd.Weight, rev.Weight, 0)
		assert.GreaterOrEqual(t, fwd.Weight, 0.0)
		assert.LessOrEqual(t, fwd.Weight, 1.0)
		assert.Equal(t, "vector", fwd.Metadata["mode"])
	}

	// Recomputing is idempotent on the natural key.
	_, err = svc.ComputeForItem(context.Background(), "owner-1", itemID(1), SimilarityOptions{})
	require.NoError(t, err)
	assert.Len(t, store.edges, 4)
}

func TestSimilarityService_HybridWidensCandidatePool(t *testing.T) {
	store := &mockSimilarityStore{}
	query := record(1, 1, 0)
	query.Tags = []string{"go"}

	cand := record(2, unitAt(0.4)...) // s = 0.70
	cand.Tags = []string{"go"}

	store.On("GetEmbedding", mock.Anything, "owner-1", itemID(1)).Return(&query, nil)
	store.On("NearestCandidates", mock.Anything, "owner-1", models.ItemTypeContent, query.Embedding, itemID(1), 10, 0.5).
		Return([]models.ScoredRecord{{EmbeddingRecord: cand, Similarity: 0.7}}, nil)
	store.On("UpsertRelationshipEdge", mock.Anything, mock.AnythingOfType("models.RelationshipEdge")).Return(nil)

	svc := NewSimilarityService(SimilarityServiceParams{Store: store})

	result, err := svc.ComputeForItem(context.Background(), "owner-1", itemID(1), SimilarityOptions{Mode: SimilarityModeHybrid, Limit: 5})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.InDelta(t, 0.70*0.70+0.20, result.Matches[0].Score, 1e-6)
	assert.Equal(t, 2, result.EdgesWritten)

	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "UpsertRelationshipEdge", 2)
}

func TestSimilarityService_EdgeFailureDoesNotAbortOthers(t *testing.T) {
	store := &mockSimilarityStore{}
	query := record(1, 1, 0)
	a := record(2, unitAt(0.9)...)
	b := record(3, unitAt(0.8)...)

	store.On("GetEmbedding", mock.Anything, "owner-1", itemID(1)).Return(&query, nil)
	store.On("NearestCandidates", mock.Anything, "owner-1", models.ItemTypeContent, query.Embedding, itemID(1), 20, 0.7).
		Return([]models.ScoredRecord{{EmbeddingRecord: a}, {EmbeddingRecord: b}}, nil)
	store.On("UpsertRelationshipEdge", mock.Anything, mock.MatchedBy(func(e models.RelationshipEdge) bool {
		return e.SourceID == itemID(1) && e.TargetID == itemID(2)
	})).Return(errors.New("serialization failure"))
	store.On("UpsertRelationshipEdge", mock.Anything, mock.Anything).Return(nil)

	svc := NewSimilarityService(SimilarityServiceParams{Store: store})

	result, err := svc.ComputeForItem(context.Background(), "owner-1", itemID(1), SimilarityOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EdgeFailures)
	assert.Equal(t, 3, result.EdgesWritten)
}

func TestSimilarityService_BatchCountsMissingEmbeddings(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1, 1, 0), record(2, unitAt(0.95)...), record(3, unitAt(0.9)...))

	svc := NewSimilarityService(SimilarityServiceParams{Store: store})

	result, err := svc.ComputeBatch(context.Background(), "owner-1",
		[]uuid.UUID{itemID(1), itemID(99), itemID(2)}, SimilarityOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Positive(t, result.EdgesWritten)
}

func TestSimilarityService_MissingEmbeddingIsNotFound(t *testing.T) {
	svc := NewSimilarityService(SimilarityServiceParams{Store: newMemoryStore()})

	_, err := svc.ComputeForItem(context.Background(), "owner-1", itemID(5), SimilarityOptions{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSimilarityService_EmptyVectorIsNotFound(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1))

	_, err := NewSimilarityService(SimilarityServiceParams{Store: store}).
		ComputeForItem(context.Background(), "owner-1", itemID(1), SimilarityOptions{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSimilarityService_ValidatesOptions(t *testing.T) {
	svc := NewSimilarityService(SimilarityServiceParams{Store: newMemoryStore()})

	tests := []struct {
		name string
		opts SimilarityOptions
	}{
		{"unknown mode", SimilarityOptions{Mode: "semantic"}},
		{"negative limit", SimilarityOptions{Limit: -1}},
		{"limit too large", SimilarityOptions{Limit: 1000}},
		{"threshold above one", SimilarityOptions{Threshold: 1.5}},
		{"negative candidate threshold", SimilarityOptions{CandidateThreshold: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ComputeForItem(context.Background(), "owner-1", itemID(1), tt.opts)
			require.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestSimilarityService_BatchStopsOnCancelledContext(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1, 1, 0), record(2, 0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewSimilarityService(SimilarityServiceParams{Store: store}).
		ComputeBatch(ctx, "owner-1", []uuid.UUID{itemID(1), itemID(2)}, SimilarityOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, result.Succeeded)
}
