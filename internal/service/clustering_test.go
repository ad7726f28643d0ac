package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/atlas/internal/models"
)

type labelerFunc func(ctx context.Context, items []RepresentativeItem) (GroupLabel, error)

func (f labelerFunc) LabelGroup(ctx context.Context, items []RepresentativeItem) (GroupLabel, error) {
	return f(ctx, items)
}

func seed(v int64) *int64 { return &v }

// syntheticStore holds three well separated groups of three items each.
func syntheticStore() *memoryStore {
	store := newMemoryStore()
	titles := []string{"Billing fee", "Shipping box", "Password pin"}

	for g := range 3 {
		for i := range 3 {
			v := []float32{0.01 * float32(i), 0.01 * float32(i), 0.01 * float32(i)}
			v[g] = 1

			r := record(g*3+i+1, v...)
			r.Title = fmt.Sprintf("%s %d", titles[g], i)
			store.add(r)
		}
	}

	return store
}

func TestClusterCount(t *testing.T) {
	tests := []struct {
		n, minSize, expected int
	}{
		{0, 3, 0},
		{2, 3, 0},
		{3, 3, 1},
		{9, 3, 3},
		{100, 3, 10},
		{100, 0, 10},
		{10, 5, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,min=%d", tt.n, tt.minSize), func(t *testing.T) {
			assert.Equal(t, tt.expected, clusterCount(tt.n, tt.minSize))
		})
	}
}

func TestClustering_SyntheticSeparation(t *testing.T) {
	store := syntheticStore()
	svc := NewClusteringService(ClusteringServiceParams{Store: store})

	result, err := svc.RegenerateClusters(context.Background(), "owner-1", ClusterOptions{MinClusterSize: 3, Seed: seed(1)})
	require.NoError(t, err)

	assert.Equal(t, 3, result.K)
	require.Len(t, result.Clusters, 3)
	assert.Empty(t, result.Unclustered)
	assert.True(t, result.Persisted)

	groups := make(map[int]bool)

	for _, c := range result.Clusters {
		require.Len(t, c.MemberIDs, 3)
		assert.Greater(t, c.Coherence, 0.8)

		group := (int(c.MemberIDs[0][15]) - 1) / 3
		for _, id := range c.MemberIDs {
			assert.Equal(t, group, (int(id[15])-1)/3, "cluster mixes groups")
		}

		groups[group] = true
	}

	assert.Len(t, groups, 3)
	assert.Len(t, store.clusters, 3)
}

func TestClustering_SeparationHoldsAcrossSeeds(t *testing.T) {
	for s := range int64(20) {
		result, err := NewClusteringService(ClusteringServiceParams{Store: syntheticStore()}).
			RegenerateClusters(context.Background(), "owner-1", ClusterOptions{Seed: seed(s)})
		require.NoError(t, err)
		assert.Len(t, result.Clusters, 3, "seed %d", s)
	}
}

func TestClustering_Bounds(t *testing.T) {
	store := newMemoryStore()
	rng := rand.New(rand.NewSource(5))

	for i := range 40 {
		v := make([]float32, 6)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}

		store.add(record(i+1, v...))
	}

	result, err := NewClusteringService(ClusteringServiceParams{Store: store, NewRand: SeededRand(9)}).
		RegenerateClusters(context.Background(), "owner-1", ClusterOptions{MinClusterSize: 4})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(result.Clusters), 10)

	seen := make(map[uuid.UUID]bool)

	for _, c := range result.Clusters {
		assert.GreaterOrEqual(t, c.Size(), 4)
		assert.GreaterOrEqual(t, c.Coherence, 0.0)
		assert.LessOrEqual(t, c.Coherence, 1.0)
		assert.NotEmpty(t, c.Label)

		for _, id := range c.MemberIDs {
			assert.False(t, seen[id], "item %s in two clusters", id)
			seen[id] = true
		}
	}

	for _, id := range result.Unclustered {
		assert.False(t, seen[id])
		seen[id] = true
	}

	assert.Len(t, seen, 40)
}

func TestClustering_TooFewItemsReplacesWithEmptySet(t *testing.T) {
	store := newMemoryStore()
	store.add(record(1, 1, 0), record(2, 0, 1))
	store.clusters = []models.Cluster{{ID: uuid.New(), OwnerID: "owner-1"}}

	result, err := NewClusteringService(ClusteringServiceParams{Store: store}).
		RegenerateClusters(context.Background(), "owner-1", ClusterOptions{MinClusterSize: 3})
	require.NoError(t, err)

	assert.Zero(t, result.K)
	assert.Empty(t, result.Clusters)
	assert.Len(t, result.Unclustered, 2)
	assert.Equal(t, 1, store.replaceCalls)
	assert.Empty(t, store.clusters)
}

func TestClustering_UsesLabeler(t *testing.T) {
	var seenItems []int

	labeler := labelerFunc(func(_ context.Context, items []RepresentativeItem) (GroupLabel, error) {
		seenItems = append(seenItems, len(items))

		return GroupLabel{Name: "  Support topics ", Description: "Tickets"}, nil
	})

	result, err := NewClusteringService(ClusteringServiceParams{Store: syntheticStore(), Labeler: labeler}).
		RegenerateClusters(context.Background(), "owner-1", ClusterOptions{Seed: seed(2)})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 3)
	assert.Equal(t, []int{3, 3, 3}, seenItems)

	for _, c := range result.Clusters {
		assert.Equal(t, "Support topics", c.Label)
		assert.Equal(t, "Tickets", c.Description)
	}
}

func TestClustering_LabelFailureFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		labeler Labeler
	}{
		{"error", labelerFunc(func(context.Context, []RepresentativeItem) (GroupLabel, error) {
			return GroupLabel{}, errors.New("rate limited")
		})},
		{"empty name", labelerFunc(func(context.Context, []RepresentativeItem) (GroupLabel, error) {
			return GroupLabel{Name: "   "}, nil
		})},
		{"timeout", labelerFunc(func(ctx context.Context, _ []RepresentativeItem) (GroupLabel, error) {
			<-ctx.Done()

			return GroupLabel{}, ctx.Err()
		})},
		{"ignores deadline", labelerFunc(func(context.Context, []RepresentativeItem) (GroupLabel, error) {
			time.Sleep(500 * time.Millisecond)

			return GroupLabel{Name: "too late"}, nil
		})},
		{"panic", labelerFunc(func(context.Context, []RepresentativeItem) (GroupLabel, error) {
			panic("labeler exploded")
		})},
		{"nil labeler", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewClusteringService(ClusteringServiceParams{
				Store:        syntheticStore(),
				Labeler:      tt.labeler,
				LabelTimeout: 20 * time.Millisecond,
			})

			result, err := svc.RegenerateClusters(context.Background(), "owner-1", ClusterOptions{Seed: seed(3)})
			require.NoError(t, err)
			require.Len(t, result.Clusters, 3)

			labels := make(map[string]bool)
			for _, c := range result.Clusters {
				labels[c.Label] = true
			}

			assert.Equal(t, map[string]bool{"Billing": true, "Shipping": true, "Password": true}, labels)
		})
	}
}

func TestClustering_ConcurrentCallsWithDifferentOptions(t *testing.T) {
	store := &gatedStore{memoryStore: syntheticStore(), entered: make(chan struct{}, 4), release: make(chan struct{})}
	svc := NewClusteringService(ClusteringServiceParams{Store: store})

	type outcome struct {
		result *ClusteringResult
		err    error
	}

	run := func(opts ClusterOptions) <-chan outcome {
		ch := make(chan outcome, 1)

		go func() {
			r, err := svc.RegenerateClusters(context.Background(), "owner-1", opts)
			ch <- outcome{result: r, err: err}
		}()

		return ch
	}

	small := run(ClusterOptions{MinClusterSize: 3, Seed: seed(1)})
	waitEntered(t, store)

	large := run(ClusterOptions{MinClusterSize: 9, Seed: seed(1)})
	waitEntered(t, store)

	close(store.release)

	a, b := <-small, <-large
	require.NoError(t, a.err)
	require.NoError(t, b.err)

	assert.Len(t, a.result.Clusters, 3)
	assert.Equal(t, 1, b.result.K)

	for _, c := range b.result.Clusters {
		assert.GreaterOrEqual(t, c.Size(), 9)
	}
}

func TestClustering_CallerCancelDoesNotFailSharedRun(t *testing.T) {
	store := &gatedStore{memoryStore: syntheticStore(), entered: make(chan struct{}, 4), release: make(chan struct{})}
	svc := NewClusteringService(ClusteringServiceParams{Store: store})
	opts := ClusterOptions{Seed: seed(5)}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)

	go func() {
		_, err := svc.RegenerateClusters(ctxA, "owner-1", opts)
		errA <- err
	}()

	waitEntered(t, store)
	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	resultB := make(chan *ClusteringResult, 1)
	errB := make(chan error, 1)

	go func() {
		r, err := svc.RegenerateClusters(context.Background(), "owner-1", opts)
		resultB <- r
		errB <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(store.release)

	require.NoError(t, <-errB)
	assert.Len(t, (<-resultB).Clusters, 3)
}

func TestClusterOptions_FlightKey(t *testing.T) {
	base := ClusterOptions{MinClusterSize: 3, ItemType: models.ItemTypeContent}

	assert.Equal(t, base.flightKey("owner-1"), base.flightKey("owner-1"))
	assert.NotEqual(t, base.flightKey("owner-1"), base.flightKey("owner-2"))
	assert.NotEqual(t, base.flightKey("owner-1"), ClusterOptions{MinClusterSize: 9, ItemType: models.ItemTypeContent}.flightKey("owner-1"))
	assert.NotEqual(t, base.flightKey("owner-1"), ClusterOptions{MinClusterSize: 3, ItemType: "anchor"}.flightKey("owner-1"))
	assert.NotEqual(t, base.flightKey("owner-1"), ClusterOptions{MinClusterSize: 3, ItemType: models.ItemTypeContent, Seed: seed(1)}.flightKey("owner-1"))
}

func TestClustering_ReplaceFailureKeepsResult(t *testing.T) {
	store := syntheticStore()
	store.replaceErr = errors.New("lock timeout")

	result, err := NewClusteringService(ClusteringServiceParams{Store: store}).
		RegenerateClusters(context.Background(), "owner-1", ClusterOptions{Seed: seed(4)})
	require.NoError(t, err)
	assert.False(t, result.Persisted)
	assert.Len(t, result.Clusters, 3)
}

func TestClustering_LoadErrorIsReturned(t *testing.T) {
	store := newMemoryStore()
	store.listErr = errors.New("connection refused")

	_, err := NewClusteringService(ClusteringServiceParams{Store: store}).
		RegenerateClusters(context.Background(), "owner-1", ClusterOptions{})
	require.Error(t, err)
}

func TestKMeans_DistinctInitialCentroids(t *testing.T) {
	vectors := [][]float32{{1, 0}, {1, 0}, {1, 0}, {0, 1}}

	centroids := initializeCentroidsKMeansPlusPlus(vectors, 3, rand.New(rand.NewSource(1)))
	require.Len(t, centroids, 3)

	ones := 0
	for _, c := range centroids {
		if c[1] == 1 {
			ones++
		}
	}

	assert.Equal(t, 1, ones)
}

func TestKMeans_StopsEarly(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0.99, 0.01}, {0, 1}, {0.01, 0.99}}

	res := kMeans(vectors, 2, 50, rand.New(rand.NewSource(1)))
	assert.Less(t, res.iterations, 50)
	assert.Equal(t, res.assignments[0], res.assignments[1])
	assert.Equal(t, res.assignments[2], res.assignments[3])
	assert.NotEqual(t, res.assignments[0], res.assignments[2])
}

func TestFallbackLabel(t *testing.T) {
	tests := []struct {
		name     string
		titles   []string
		index    int
		expected string
	}{
		{"most frequent word", []string{"Refund request", "Refund delayed", "Late delivery"}, 0, "Refund"},
		{"ties are alphabetical", []string{"zebra apple", "apple zebra"}, 0, "Apple"},
		{"stopwords and short words skipped", []string{"this is about the app", "the app that works"}, 0, "Works"},
		{"punctuation split", []string{"Login: failing!", "login-failing"}, 0, "Failing"},
		{"no qualifying word", []string{"a b c", "the"}, 2, "Cluster 3"},
		{"empty titles", nil, 0, "Cluster 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fallbackLabel(tt.titles, tt.index).Name)
		})
	}
}

func TestRepresentatives(t *testing.T) {
	centroid := []float32{1, 0}
	members := make([]clusterMember, 0, 15)

	for i := range 15 {
		members = append(members, clusterMember{
			id:      itemID(i + 1),
			title:   fmt.Sprintf("item %d", i),
			summary: strings.Repeat("x", 300),
			vector:  []float32{1, float32(i) * 0.1},
		})
	}

	reps := representatives(members, centroid)
	require.Len(t, reps, 10)
	assert.Equal(t, itemID(1), reps[0].ItemID)
	assert.Equal(t, itemID(10), reps[9].ItemID)
	assert.Len(t, reps[0].Summary, 200)
}
