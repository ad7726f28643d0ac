package service

import (
	"math"
	"math/rand"

	"github.com/formbricks/atlas/pkg/embeddings"
)

const defaultMaxIterations = 50

// maxClusters caps k regardless of how many items an owner has.
const maxClusters = 10

// clusterCount returns k = min(floor(n/minSize), 10). A result below 1 means "no clusters".
func clusterCount(n, minSize int) int {
	if minSize < 1 {
		minSize = 1
	}

	return min(n/minSize, maxClusters)
}

type kMeansResult struct {
	assignments []int
	centroids   [][]float32
	iterations  int
}

// kMeans partitions vectors into k groups by cosine distance. Initial centroids are k distinct
// points sampled k-means++ style from rng; iteration stops early once assignments settle.
func kMeans(vectors [][]float32, k, maxIterations int, rng *rand.Rand) kMeansResult {
	n := len(vectors)
	if k > n {
		k = n
	}

	centroids := initializeCentroidsKMeansPlusPlus(vectors, k, rng)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	iterations := 0

	for iter := 0; iter < maxIterations; iter++ {
		iterations = iter + 1
		changed := false

		for i, v := range vectors {
			nearest := findNearestCentroid(v, centroids)
			if assignments[i] != nearest {
				assignments[i] = nearest
				changed = true
			}
		}

		if !changed {
			break
		}

		members := make([][][]float32, k)
		for i, c := range assignments {
			members[c] = append(members[c], vectors[i])
		}

		for c := range centroids {
			// An emptied cluster keeps its previous centroid.
			if len(members[c]) > 0 {
				centroids[c] = embeddings.Mean(members[c])
			}
		}
	}

	return kMeansResult{assignments: assignments, centroids: centroids, iterations: iterations}
}

// initializeCentroidsKMeansPlusPlus picks k distinct points, each new one with probability
// proportional to its squared distance from the nearest centroid chosen so far.
func initializeCentroidsKMeansPlusPlus(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	n := len(vectors)
	centroids := make([][]float32, 0, k)
	chosen := make([]bool, n)

	pick := func(i int) {
		chosen[i] = true
		centroids = append(centroids, cloneVector(vectors[i]))
	}

	pick(rng.Intn(n))

	distances := make([]float64, n)

	for len(centroids) < k {
		var totalDist float64

		for i, v := range vectors {
			if chosen[i] {
				distances[i] = 0

				continue
			}

			minDist := math.MaxFloat64
			for _, centroid := range centroids {
				minDist = math.Min(minDist, embeddings.CosineDistance(v, centroid))
			}

			distances[i] = minDist * minDist
			totalDist += distances[i]
		}

		if totalDist == 0 {
			// Every remaining point coincides with a centroid; any unchosen one will do.
			for _, i := range rng.Perm(n) {
				if !chosen[i] {
					pick(i)

					break
				}
			}

			continue
		}

		target := rng.Float64() * totalDist
		selected := -1

		var cumDist float64
		for i, d := range distances {
			if d == 0 {
				continue
			}

			cumDist += d
			selected = i

			if cumDist >= target {
				break
			}
		}

		pick(selected)
	}

	return centroids
}

func findNearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestDist := math.MaxFloat64

	for i, c := range centroids {
		if d := embeddings.CosineDistance(v, c); d < bestDist {
			bestDist = d
			best = i
		}
	}

	return best
}

// coherence is the mean similarity of members to their centroid, in [0,1].
func coherence(members [][]float32, centroid []float32) float64 {
	if len(members) == 0 {
		return 0
	}

	var sum float64
	for _, m := range members {
		sum += embeddings.Similarity(m, centroid)
	}

	return clamp(sum/float64(len(members)), 0, 1)
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	return out
}
