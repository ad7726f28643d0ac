// Package embeddings provides the vector primitives shared by layout, similarity and clustering:
// L2 normalisation, cosine distance/similarity and centroids.
package embeddings

import (
	"math"
)

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}

	return math.Sqrt(sumSquares)
}

// NormalizeL2 scales v to unit length in place. Zero vectors are left unchanged.
func NormalizeL2(vector []float32) {
	magnitude := Norm(vector)
	if magnitude == 0 {
		return
	}

	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}

// Normalized returns a unit-length copy of v; v itself is not modified.
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	NormalizeL2(out)

	return out
}
