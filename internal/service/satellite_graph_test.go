package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
)

func TestSatelliteGraphBuilder_TwoPass(t *testing.T) {
	store := newMemoryStore()
	b := NewSatelliteGraphBuilder(store, nil, nil)

	anchors := []AnchorSatellites{
		{AnchorID: itemID(1), Satellites: []SatelliteMention{
			{Category: models.SatelliteTag, Name: "Go", Weight: 1},
			{Category: models.SatelliteTopic, Name: "Concurrency", Weight: 0.6},
		}},
		{AnchorID: itemID(2), Satellites: []SatelliteMention{
			{Category: models.SatelliteTag, Name: " go ", Weight: 1.7},
			{Category: models.SatelliteMention, Name: "Rob Pike", Weight: 0.4},
			{Category: "unknown", Name: "ignored", Weight: 1},
			{Category: models.SatelliteTag, Name: "  ", Weight: 1},
		}},
	}

	result, err := b.Build(context.Background(), "owner-1", anchors)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Satellites)
	assert.Equal(t, 3, store.satelliteCalls)
	assert.Equal(t, 4, result.EdgesWritten)
	assert.Zero(t, result.EdgeFailures)

	goID := store.satellites[NewSatelliteKey(models.SatelliteTag, "go")]
	edge, ok := store.edges[edgeKey{sourceID: itemID(2), targetID: goID, relationshipType: models.RelationshipHasTag}]
	require.True(t, ok)
	assert.Equal(t, models.SatelliteTag, edge.TargetType)
	assert.Equal(t, models.ItemTypeContent, edge.SourceType)
	assert.InDelta(t, 1.0, edge.Weight, 0)
}

func TestSatelliteGraphBuilder_FailedSatelliteSkipsItsEdges(t *testing.T) {
	store := newMemoryStore()
	store.upsertSatellite = func(_, name string) error {
		if name == "broken" {
			return errors.New("unique violation")
		}

		return nil
	}

	b := NewSatelliteGraphBuilder(store, nil, nil)

	result, err := b.Build(context.Background(), "owner-1", []AnchorSatellites{
		{AnchorID: itemID(1), Satellites: []SatelliteMention{
			{Category: models.SatelliteTag, Name: "broken", Weight: 1},
			{Category: models.SatelliteTag, Name: "fine", Weight: 1},
		}},
		{AnchorID: itemID(2), Satellites: []SatelliteMention{
			{Category: models.SatelliteTag, Name: "broken", Weight: 1},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SatelliteFailures)
	assert.Equal(t, 1, result.Satellites)
	assert.Equal(t, 1, result.EdgesWritten)
	assert.Equal(t, 2, store.satelliteCalls)
}

func TestSatelliteGraphBuilder_EdgeFailureContinues(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	store.upsertEdge = func(models.RelationshipEdge) error {
		calls++
		if calls == 1 {
			return errors.New("deadlock detected")
		}

		return nil
	}

	result, err := NewSatelliteGraphBuilder(store, nil, nil).Build(context.Background(), "owner-1", []AnchorSatellites{
		{AnchorID: itemID(1), Satellites: []SatelliteMention{
			{Category: models.SatelliteTag, Name: "a", Weight: 1},
			{Category: models.SatelliteTag, Name: "b", Weight: 1},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EdgeFailures)
	assert.Equal(t, 1, result.EdgesWritten)
}

func TestSatelliteGraphBuilder_RequiresOwner(t *testing.T) {
	_, err := NewSatelliteGraphBuilder(newMemoryStore(), nil, nil).Build(context.Background(), "", nil)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}
