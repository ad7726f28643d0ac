package service

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/pkg/embeddings"
)

type edgeKey struct {
	sourceID, targetID uuid.UUID
	relationshipType   string
}

// memoryStore is an in-memory Store for service tests. Hooks inject failures.
type memoryStore struct {
	mu sync.Mutex

	records            map[uuid.UUID]models.EmbeddingRecord
	positions          map[uuid.UUID]models.Position
	edges              map[edgeKey]models.RelationshipEdge
	clusters           []models.Cluster
	satellites         map[SatelliteKey]uuid.UUID
	satellitePositions map[uuid.UUID]models.SatellitePosition

	positionWrites  int
	satelliteCalls  int
	replaceCalls    int
	listErr         error
	replaceErr      error
	upsertPosition  func(pos models.Position) error
	upsertEdge      func(edge models.RelationshipEdge) error
	upsertSatellite func(category, name string) error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records:            make(map[uuid.UUID]models.EmbeddingRecord),
		positions:          make(map[uuid.UUID]models.Position),
		edges:              make(map[edgeKey]models.RelationshipEdge),
		satellites:         make(map[SatelliteKey]uuid.UUID),
		satellitePositions: make(map[uuid.UUID]models.SatellitePosition),
	}
}

func (m *memoryStore) add(records ...models.EmbeddingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if r.ItemType == "" {
			r.ItemType = models.ItemTypeContent
		}

		if r.Position != nil {
			m.positions[r.ItemID] = *r.Position
			r.Position = nil
		}

		m.records[r.ItemID] = r
	}
}

func (m *memoryStore) PutEmbedding(_ context.Context, rec models.EmbeddingRecord) error {
	m.add(rec)

	return nil
}

func (m *memoryStore) ListEmbeddings(_ context.Context, _, itemType string) ([]models.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	out := make([]models.EmbeddingRecord, 0, len(m.records))

	for _, r := range m.records {
		if r.ItemType != itemType {
			continue
		}

		if pos, ok := m.positions[r.ItemID]; ok {
			r.Position = &pos
		}

		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b models.EmbeddingRecord) int { return compareIDs(a.ItemID, b.ItemID) })

	return out, nil
}

func (m *memoryStore) UpsertPosition(_ context.Context, _ string, pos models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertPosition != nil {
		if err := m.upsertPosition(pos); err != nil {
			return err
		}
	}

	m.positionWrites++

	if _, exists := m.positions[pos.ItemID]; !exists {
		m.positions[pos.ItemID] = pos
	}

	return nil
}

func (m *memoryStore) ListPositions(_ context.Context, _, itemType string) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Position, 0, len(m.positions))

	for id, pos := range m.positions {
		if r, ok := m.records[id]; ok && r.ItemType != itemType {
			continue
		}

		out = append(out, pos)
	}

	return out, nil
}

func (m *memoryStore) GetEmbedding(_ context.Context, _ string, itemID uuid.UUID) (*models.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[itemID]
	if !ok {
		return nil, apperrors.ErrEmbeddingNotFound
	}

	return &r, nil
}

func (m *memoryStore) NearestCandidates(
	_ context.Context, _, itemType string, query []float32, excludeID uuid.UUID, limit int, minSimilarity float64,
) ([]models.ScoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ScoredRecord

	for _, r := range m.records {
		if r.ItemID == excludeID || r.ItemType != itemType {
			continue
		}

		if s := embeddings.Similarity(query, r.Embedding); s >= minSimilarity {
			out = append(out, models.ScoredRecord{EmbeddingRecord: r, Similarity: s})
		}
	}

	slices.SortFunc(out, func(a, b models.ScoredRecord) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}

		return compareIDs(a.ItemID, b.ItemID)
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (m *memoryStore) UpsertRelationshipEdge(_ context.Context, edge models.RelationshipEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertEdge != nil {
		if err := m.upsertEdge(edge); err != nil {
			return err
		}
	}

	m.edges[edgeKey{sourceID: edge.SourceID, targetID: edge.TargetID, relationshipType: edge.RelationshipType}] = edge

	return nil
}

func (m *memoryStore) ListRelationshipEdges(_ context.Context, _, sourceType string) ([]models.RelationshipEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.RelationshipEdge

	for _, e := range m.edges {
		if e.SourceType == sourceType {
			out = append(out, e)
		}
	}

	return out, nil
}

func (m *memoryStore) UpsertSatellite(_ context.Context, _, category, name string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.satelliteCalls++

	if m.upsertSatellite != nil {
		if err := m.upsertSatellite(category, name); err != nil {
			return uuid.Nil, err
		}
	}

	key := NewSatelliteKey(category, name)
	if id, ok := m.satellites[key]; ok {
		return id, nil
	}

	id := uuid.New()
	m.satellites[key] = id

	return id, nil
}

func (m *memoryStore) UpsertSatellitePosition(_ context.Context, _ string, pos models.SatellitePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.satellitePositions[pos.SatelliteID] = pos

	return nil
}

func (m *memoryStore) ReplaceClusters(_ context.Context, _ string, clusters []models.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replaceCalls++

	if m.replaceErr != nil {
		return m.replaceErr
	}

	m.clusters = slices.Clone(clusters)

	return nil
}

var _ Store = (*memoryStore)(nil)

// itemID returns a deterministic id so tests can reason about id ordering.
// gatedStore blocks ListEmbeddings until release is closed, signalling entered on each call.
type gatedStore struct {
	*memoryStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) ListEmbeddings(ctx context.Context, ownerID, itemType string) ([]models.EmbeddingRecord, error) {
	g.entered <- struct{}{}
	<-g.release

	return g.memoryStore.ListEmbeddings(ctx, ownerID, itemType)
}

func waitEntered(t *testing.T, g *gatedStore) {
	t.Helper()

	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("store was not called")
	}
}

func itemID(n int) uuid.UUID {
	var id uuid.UUID
	id[14] = byte(n >> 8)
	id[15] = byte(n)

	return id
}

func record(n int, vec ...float32) models.EmbeddingRecord {
	return models.EmbeddingRecord{ItemID: itemID(n), OwnerID: "owner-1", ItemType: models.ItemTypeContent, Embedding: vec}
}

func placedRecord(n int, x, y float64, vec ...float32) models.EmbeddingRecord {
	r := record(n, vec...)
	r.Position = &models.Position{ItemID: r.ItemID, X: x, Y: y, Method: models.PositionReduced}

	return r
}
