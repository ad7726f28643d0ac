package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/pkg/embeddings"
)

// reductionConfig holds the parameters of the neighbour-graph layout.
type reductionConfig struct {
	NNeighbors         int
	Epochs             int
	A, B               float64
	NegativeSampleRate int
	LearningRate       float64
	GradientClip       float64
	InitSpread         float64
}

func defaultReductionConfig(n int) reductionConfig {
	epochs := 200
	if n > 10000 {
		epochs = 100
	}

	return reductionConfig{
		NNeighbors:         min(15, n-1),
		Epochs:             epochs,
		A:                  1.577,
		B:                  0.895,
		NegativeSampleRate: 5,
		LearningRate:       1.0,
		GradientClip:       4.0,
		InitSpread:         10.0,
	}
}

type neighbor struct {
	index int
	dist  float64
}

type graphEdge struct {
	head, tail int
	weight     float64
}

// reduceEmbeddings projects vectors to 2D with a UMAP-style fuzzy neighbour graph and
// stochastic layout optimisation. The result depends only on vectors and seed.
// ctx is checked between kNN rows and between epochs.
func reduceEmbeddings(ctx context.Context, vectors [][]float32, seed int64) ([][2]float64, error) {
	n := len(vectors)
	if n < 2 {
		return nil, apperrors.ErrDegenerateInput
	}

	unit := make([][]float64, n)
	usable := 0

	for i, v := range vectors {
		unit[i] = toUnit(v)
		if len(v) > 0 && embeddings.Norm(v) > 0 {
			usable++
		}
	}

	if usable < 2 {
		return nil, fmt.Errorf("%w: fewer than two non-zero vectors", apperrors.ErrDegenerateInput)
	}

	cfg := defaultReductionConfig(n)

	knn, err := nearestNeighbors(ctx, unit, cfg.NNeighbors)
	if err != nil {
		return nil, err
	}

	edges := fuzzyUnion(knn, smoothKNN(knn))
	rng := rand.New(rand.NewSource(seed))

	coords := make([][2]float64, n)
	for i := range coords {
		coords[i] = [2]float64{
			(rng.Float64()*2 - 1) * cfg.InitSpread,
			(rng.Float64()*2 - 1) * cfg.InitSpread,
		}
	}

	if err := optimizeLayout(ctx, coords, edges, cfg, rng); err != nil {
		return nil, err
	}

	for i, c := range coords {
		if math.IsNaN(c[0]) || math.IsNaN(c[1]) || math.IsInf(c[0], 0) || math.IsInf(c[1], 0) {
			return nil, apperrors.NewComputeError("reduction", fmt.Errorf("non-finite coordinate for item %d", i))
		}
	}

	return coords, nil
}

func toUnit(v []float32) []float64 {
	out := make([]float64, len(v))

	norm := embeddings.Norm(v)
	if norm == 0 {
		return out
	}

	for i, x := range v {
		out[i] = float64(x) / norm
	}

	return out
}

// unitDistance is the cosine distance of two unit vectors. Zero or mismatched vectors are at distance 1.
func unitDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}

	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}

	return clamp(1-dot, 0, embeddings.MaxDistance)
}

func timeoutError(err error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrComputeTimeout, err)
}

// nearestNeighbors returns the k closest items of every item, ties broken by index.
func nearestNeighbors(ctx context.Context, unit [][]float64, k int) ([][]neighbor, error) {
	n := len(unit)
	out := make([][]neighbor, n)
	candidates := make([]neighbor, 0, n-1)

	for i := range unit {
		if err := ctx.Err(); err != nil {
			return nil, timeoutError(err)
		}

		candidates = candidates[:0]
		for j := range unit {
			if j != i {
				candidates = append(candidates, neighbor{index: j, dist: unitDistance(unit[i], unit[j])})
			}
		}

		slices.SortFunc(candidates, func(a, b neighbor) int {
			if c := cmp.Compare(a.dist, b.dist); c != 0 {
				return c
			}

			return cmp.Compare(a.index, b.index)
		})

		out[i] = slices.Clone(candidates[:k])
	}

	return out, nil
}

// smoothKNN converts neighbour distances into fuzzy membership strengths. For each item it finds
// rho (distance to the nearest distinct neighbour) and sigma such that the memberships sum to log2(k).
func smoothKNN(knn [][]neighbor) [][]float64 {
	const (
		searchIterations = 64
		tolerance        = 1e-5
		minScale         = 1e-3
	)

	weights := make([][]float64, len(knn))

	for i, row := range knn {
		target := math.Log2(float64(len(row)))

		var rho, mean float64
		for _, nb := range row {
			mean += nb.dist
			if rho == 0 && nb.dist > 0 {
				rho = nb.dist
			}
		}

		mean /= float64(len(row))

		lo, hi, sigma := 0.0, math.Inf(1), 1.0

		for range searchIterations {
			var psum float64
			for _, nb := range row {
				psum += membership(nb.dist, rho, sigma)
			}

			if math.Abs(psum-target) < tolerance {
				break
			}

			if psum > target {
				hi = sigma
				sigma = (lo + hi) / 2
			} else {
				lo = sigma
				if math.IsInf(hi, 1) {
					sigma *= 2
				} else {
					sigma = (lo + hi) / 2
				}
			}
		}

		if floor := minScale * mean; sigma < floor {
			sigma = floor
		}

		weights[i] = make([]float64, len(row))
		for j, nb := range row {
			weights[i][j] = membership(nb.dist, rho, sigma)
		}
	}

	return weights
}

func membership(dist, rho, sigma float64) float64 {
	d := dist - rho
	if d <= 0 {
		return 1
	}

	if sigma <= 0 {
		return 0
	}

	return math.Exp(-d / sigma)
}

// fuzzyUnion symmetrises the directed membership graph with w = a + b - a*b.
// Edges are returned sorted so the layout is reproducible.
func fuzzyUnion(knn [][]neighbor, weights [][]float64) []graphEdge {
	directed := make(map[[2]int]float64)

	for i, row := range knn {
		for j, nb := range row {
			directed[[2]int{i, nb.index}] = weights[i][j]
		}
	}

	seen := make(map[[2]int]bool, len(directed))
	edges := make([]graphEdge, 0, len(directed))

	for key := range directed {
		lo, hi := min(key[0], key[1]), max(key[0], key[1])
		if seen[[2]int{lo, hi}] {
			continue
		}

		seen[[2]int{lo, hi}] = true

		a, b := directed[[2]int{lo, hi}], directed[[2]int{hi, lo}]
		if w := a + b - a*b; w > 0 {
			edges = append(edges, graphEdge{head: lo, tail: hi, weight: w})
		}
	}

	slices.SortFunc(edges, func(x, y graphEdge) int {
		if c := cmp.Compare(x.head, y.head); c != 0 {
			return c
		}

		return cmp.Compare(x.tail, y.tail)
	})

	return edges
}

// optimizeLayout runs the attractive/repulsive SGD over the graph edges with a linearly decaying
// learning rate. Each edge is sampled in proportion to its weight.
func optimizeLayout(ctx context.Context, coords [][2]float64, edges []graphEdge, cfg reductionConfig, rng *rand.Rand) error {
	if len(edges) == 0 {
		return nil
	}

	var maxWeight float64
	for _, e := range edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}

	epochs := float64(cfg.Epochs)
	negRate := float64(cfg.NegativeSampleRate)

	perSample := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	perNegative := make([]float64, len(edges))
	nextNegative := make([]float64, len(edges))

	for i, e := range edges {
		if e.weight/maxWeight*epochs < 1 {
			perSample[i] = -1

			continue
		}

		perSample[i] = maxWeight / e.weight
		nextSample[i] = perSample[i]
		perNegative[i] = perSample[i] / negRate
		nextNegative[i] = perNegative[i]
	}

	n := len(coords)
	a, b := cfg.A, cfg.B

	for epoch := range cfg.Epochs {
		if err := ctx.Err(); err != nil {
			return timeoutError(err)
		}

		fe := float64(epoch)
		alpha := cfg.LearningRate * (1 - fe/epochs)

		for ei, e := range edges {
			if perSample[ei] < 0 || nextSample[ei] > fe {
				continue
			}

			i, j := e.head, e.tail

			dist2 := squaredDistance(coords[i], coords[j])
			if dist2 > 0 {
				coeff := -2 * a * b * math.Pow(dist2, b-1) / (a*math.Pow(dist2, b) + 1)
				for d := range 2 {
					g := clamp(coeff*(coords[i][d]-coords[j][d]), -cfg.GradientClip, cfg.GradientClip)
					coords[i][d] += g * alpha
					coords[j][d] -= g * alpha
				}
			}

			nextSample[ei] += perSample[ei]

			negatives := int((fe - nextNegative[ei]) / perNegative[ei])
			if negatives < 0 {
				negatives = 0
			}

			for range negatives {
				k := rng.Intn(n)
				if k == i {
					continue
				}

				dist2 := squaredDistance(coords[i], coords[k])

				var coeff float64
				if dist2 > 0 {
					coeff = 2 * b / ((0.001 + dist2) * (a*math.Pow(dist2, b) + 1))
				}

				for d := range 2 {
					g := cfg.GradientClip
					if coeff > 0 {
						g = clamp(coeff*(coords[i][d]-coords[k][d]), -cfg.GradientClip, cfg.GradientClip)
					}

					coords[i][d] += g * alpha
				}
			}

			nextNegative[ei] += float64(negatives) * perNegative[ei]
		}
	}

	return nil
}

func squaredDistance(p, q [2]float64) float64 {
	dx, dy := p[0]-q[0], p[1]-q[1]

	return dx*dx + dy*dy
}

// fallbackReason maps a reduction error to its bounded metric/result reason.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDegenerateInput):
		return reasonDegenerateInput
	case errors.Is(err, apperrors.ErrComputeTimeout):
		return reasonTimeout
	default:
		return reasonComputeError
	}
}

const (
	reasonDegenerateInput = "degenerate_input"
	reasonTimeout         = "timeout"
	reasonComputeError    = "compute_error"
)
