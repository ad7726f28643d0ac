package service

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/pkg/embeddings"
)

// HybridWeights are the contributions of each signal to the hybrid score. They sum to 1.
type HybridWeights struct {
	Vector   float64 `json:"vector"`
	Tags     float64 `json:"tags"`
	Temporal float64 `json:"temporal"`
	Domain   float64 `json:"domain"`
}

// DefaultHybridWeights returns 0.70 vector, 0.20 tags, 0.05 recency, 0.05 domain.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Vector: 0.70, Tags: 0.20, Temporal: 0.05, Domain: 0.05}
}

// ScoreParts are the per-signal values of a hybrid score, each in [0,1].
type ScoreParts struct {
	Vector   float64 `json:"vector"`
	Tags     float64 `json:"tags"`
	Temporal float64 `json:"temporal"`
	Domain   float64 `json:"domain"`
}

// SimilarityMatch is one accepted neighbour of a query item.
type SimilarityMatch struct {
	ItemID           uuid.UUID  `json:"item_id"`
	ItemType         string     `json:"item_type"`
	Score            float64    `json:"score"`
	VectorSimilarity float64    `json:"vector_similarity"`
	Parts            ScoreParts `json:"parts"`
}

// RankByVector scores candidates by vector similarity, keeps those at or above threshold,
// and returns at most limit matches ordered by score desc then item id. The query item itself is skipped.
func RankByVector(query models.EmbeddingRecord, candidates []models.EmbeddingRecord, threshold float64, limit int) []SimilarityMatch {
	matches := make([]SimilarityMatch, 0, len(candidates))

	for _, c := range candidates {
		if c.ItemID == query.ItemID {
			continue
		}

		s := embeddings.Similarity(query.Embedding, c.Embedding)
		if s < threshold {
			continue
		}

		matches = append(matches, SimilarityMatch{
			ItemID:           c.ItemID,
			ItemType:         c.ItemType,
			Score:            s,
			VectorSimilarity: s,
			Parts:            ScoreParts{Vector: s},
		})
	}

	return topMatches(matches, limit)
}

// RankHybrid scores candidates with the weighted multi-signal score. Only candidates whose vector
// similarity reaches candidateThreshold are considered; the final score must reach threshold.
func RankHybrid(
	query models.EmbeddingRecord, candidates []models.EmbeddingRecord, weights HybridWeights,
	threshold, candidateThreshold float64, limit int,
) []SimilarityMatch {
	matches := make([]SimilarityMatch, 0, len(candidates))

	for _, c := range candidates {
		if c.ItemID == query.ItemID {
			continue
		}

		s := embeddings.Similarity(query.Embedding, c.Embedding)
		if s < candidateThreshold {
			continue
		}

		score, parts := HybridScore(query, c, s, weights)
		if score < threshold {
			continue
		}

		matches = append(matches, SimilarityMatch{
			ItemID:           c.ItemID,
			ItemType:         c.ItemType,
			Score:            score,
			VectorSimilarity: s,
			Parts:            parts,
		})
	}

	return topMatches(matches, limit)
}

// HybridScore combines vector similarity with tag overlap, recency and domain agreement.
func HybridScore(query, candidate models.EmbeddingRecord, vectorSimilarity float64, w HybridWeights) (float64, ScoreParts) {
	parts := ScoreParts{
		Vector:   vectorSimilarity,
		Tags:     tagJaccard(query.Tags, candidate.Tags),
		Temporal: temporalProximity(query, candidate),
		Domain:   domainMatch(query.Domain, candidate.Domain),
	}

	score := w.Vector*parts.Vector + w.Tags*parts.Tags + w.Temporal*parts.Temporal + w.Domain*parts.Domain

	return clamp(score, 0, 1), parts
}

const temporalDecayDays = 30.0

// temporalProximity is exp(-days apart / 30). Unknown timestamps contribute 0.
func temporalProximity(a, b models.EmbeddingRecord) float64 {
	if a.CreatedAt.IsZero() || b.CreatedAt.IsZero() {
		return 0
	}

	days := math.Abs(a.CreatedAt.Sub(b.CreatedAt).Hours()) / 24

	return math.Exp(-days / temporalDecayDays)
}

// tagJaccard is |A∩B| / |A∪B| over case-insensitive tags. Two empty sets score 0.
func tagJaccard(a, b []string) float64 {
	setA := tagSet(a)
	setB := tagSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	var intersection int

	for t := range setA {
		if setB[t] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection

	return float64(intersection) / float64(union)
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))

	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			set[t] = true
		}
	}

	return set
}

func domainMatch(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || !strings.EqualFold(a, b) {
		return 0
	}

	return 1
}

func topMatches(matches []SimilarityMatch, limit int) []SimilarityMatch {
	slices.SortFunc(matches, func(a, b SimilarityMatch) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}

		return compareIDs(a.ItemID, b.ItemID)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches
}
