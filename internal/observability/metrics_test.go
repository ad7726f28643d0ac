package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAtlasMetrics_NilMeter(t *testing.T) {
	m, err := NewAtlasMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewMeterProvider_ExposesRecordedMetrics(t *testing.T) {
	ctx := context.Background()

	provider, handler, metrics, err := NewMeterProvider(ctx, MeterProviderConfig{ServiceName: "atlas-test"})
	require.NoError(t, err)
	require.NotNil(t, metrics)

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics.RecordProjection(ctx, "interpolated", 3, 20*time.Millisecond)
	metrics.RecordLayoutFallback(ctx, "timeout")
	metrics.RecordSimilarityEdges(ctx, "hybrid", 4)
	metrics.RecordClustering(ctx, 2, 1, time.Second)
	metrics.RecordLabelFallback(ctx, "something-unexpected")
	metrics.RecordHit(ctx, "cluster_label")
	metrics.RecordJobOutcome(ctx, "atlas_regenerate_clusters", "success", time.Second)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "atlas_projections_total")
	assert.Contains(t, text, `method="interpolated"`)
	assert.Contains(t, text, `reason="timeout"`)
	assert.Contains(t, text, "atlas_similarity_edges_written_total")
	assert.Contains(t, text, `reason="other"`)
	assert.Contains(t, text, `cache="cluster_label"`)
}
