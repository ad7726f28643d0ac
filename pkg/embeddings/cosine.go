package embeddings

import "math"

// MaxDistance is the largest possible cosine distance (opposite vectors).
const MaxDistance = 2.0

// CosineSimilarity returns cos(a, b) in [-1, 1].
// Mismatched lengths and zero-norm vectors are treated as orthogonal (0).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))

	return math.Max(-1, math.Min(1, cos))
}

// CosineDistance returns 1 - cos(a, b), in [0, 2] (smaller is more similar).
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// SimilarityFromDistance maps a cosine distance d in [0, 2] onto a similarity s = 1 - d/2 in [0, 1].
func SimilarityFromDistance(d float64) float64 {
	s := 1 - d/MaxDistance

	return math.Max(0, math.Min(1, s))
}

// Similarity returns the [0, 1] similarity of a and b.
func Similarity(a, b []float32) float64 {
	return SimilarityFromDistance(CosineDistance(a, b))
}

// Mean returns the coordinate-wise mean of vectors. All vectors must share dim; shorter ones are ignored.
// Returns nil for an empty input.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	count := 0

	for _, v := range vectors {
		if len(v) != dim {
			continue
		}

		for d := range v {
			sum[d] += float64(v[d])
		}

		count++
	}

	out := make([]float32, dim)
	if count == 0 {
		return out
	}

	for d := range sum {
		out[d] = float32(sum[d] / float64(count))
	}

	return out
}
