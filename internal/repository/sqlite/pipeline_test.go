package sqlite

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/service"
)

// TestPipeline runs every component against a real SQLite store.
func TestPipeline(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	owner := "owner-a"

	titles := []string{"Invoice billing", "Shipping parcel", "Password login"}
	var ids []uuid.UUID
	for g := range 3 {
		for j := range 3 {
			vec := make([]float32, 4)
			vec[g] = 1
			vec[3] = float32(j) * 0.05
			n := byte(g*3 + j + 1)
			id := uuid.UUID{15: n}
			require.NoError(t, store.PutEmbedding(ctx, models.EmbeddingRecord{
				ItemID: id, OwnerID: owner, Embedding: vec, Title: titles[g],
			}))
			ids = append(ids, id)
		}
	}

	canvas := service.DefaultCanvas()
	projector := service.NewProjector(service.ProjectorParams{
		Store:   store,
		NewRand: service.SeededRand(7),
	})

	first, err := projector.Project(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 9, first.Computed)
	assert.Zero(t, first.PersistFailures)
	for _, pos := range first.Positions {
		assert.True(t, canvas.Contains(pos.X, pos.Y), "position %v outside canvas", pos)
	}

	second, err := projector.Project(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 9, second.Stored)
	assert.Zero(t, second.Computed)

	late := uuid.UUID{15: 20}
	require.NoError(t, store.PutEmbedding(ctx, models.EmbeddingRecord{
		ItemID: late, OwnerID: owner, Embedding: []float32{1, 0, 0, 0.02}, Title: "Billing question",
	}))

	third, err := projector.Project(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Computed)
	assert.Equal(t, models.PositionInterpolated, third.Method)

	t.Run("satellites", func(t *testing.T) {
		builder := service.NewSatelliteGraphBuilder(store, nil, nil)
		built, err := builder.Build(ctx, owner, []service.AnchorSatellites{
			{AnchorID: ids[0], Satellites: []service.SatelliteMention{{Category: models.SatelliteTag, Name: "billing", Weight: 1}}},
			{AnchorID: ids[1], Satellites: []service.SatelliteMention{{Category: models.SatelliteTag, Name: "Billing", Weight: 0.5}}},
			{AnchorID: ids[4], Satellites: []service.SatelliteMention{{Category: models.SatelliteTopic, Name: "delivery", Weight: 0.8}}},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, built.Satellites)
		assert.Equal(t, 3, built.EdgesWritten)

		resolver := service.NewRadialLayoutResolver(service.RadialLayoutParams{
			Store:   store,
			NewRand: service.SeededRand(7),
		})
		layout, err := resolver.Resolve(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, layout.Positions, 2)
		assert.Equal(t, 1, layout.Single)
		assert.Equal(t, 1, layout.Multi)

		stored, err := store.ListSatellitePositions(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, stored, 2)
	})

	t.Run("similarity", func(t *testing.T) {
		similarity := service.NewSimilarityService(service.SimilarityServiceParams{Store: store})
		batch, err := similarity.ComputeForOwner(ctx, store, owner, models.ItemTypeContent, service.SimilarityOptions{})
		require.NoError(t, err)
		assert.Equal(t, 10, batch.Requested)
		assert.Equal(t, 10, batch.Succeeded)
		assert.Positive(t, batch.EdgesWritten)

		edges, err := store.ListRelationshipEdges(ctx, owner, models.ItemTypeContent)
		require.NoError(t, err)
		for _, e := range edges {
			if e.RelationshipType != models.RelationshipSimilarTo {
				continue
			}
			assert.GreaterOrEqual(t, e.Weight, 0.7)
			assert.LessOrEqual(t, e.Weight, 1.0)
		}
	})

	t.Run("clusters", func(t *testing.T) {
		seed := int64(42)
		clustering := service.NewClusteringService(service.ClusteringServiceParams{Store: store})
		result, err := clustering.RegenerateClusters(ctx, owner, service.ClusterOptions{Seed: &seed})
		require.NoError(t, err)
		assert.True(t, result.Persisted)
		require.Len(t, result.Clusters, 3)

		stored, err := store.ListClusters(ctx, owner)
		require.NoError(t, err)
		require.Len(t, stored, 3)

		labels := map[string]bool{}
		for _, c := range stored {
			assert.GreaterOrEqual(t, c.Size(), 3)
			assert.Greater(t, c.Coherence, 0.8)
			labels[c.Label] = true
		}
		assert.True(t, labels["Billing"] || labels["Invoice"], "labels: %v", labels)
	})
}
