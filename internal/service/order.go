package service

import (
	"bytes"
	"slices"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/models"
)

// compareIDs orders ids by their byte value, which matches their canonical string order.
func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func sortedByItemID(records []models.EmbeddingRecord) []models.EmbeddingRecord {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b models.EmbeddingRecord) int {
		return compareIDs(a.ItemID, b.ItemID)
	})

	return sorted
}
