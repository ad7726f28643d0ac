package components

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/atlas/internal/config"
	"github.com/formbricks/atlas/internal/labeler"
	"github.com/formbricks/atlas/internal/repository/sqlite"
)

func baseConfig() *config.Config {
	return &config.Config{
		CanvasWidth:      4000,
		CanvasHeight:     3000,
		CanvasPadding:    100,
		ReductionTimeout: time.Second,
		SimilarityMode:   "vector",
		LabelProvider:    config.LabelProviderNone,
		LabelModel:       labeler.DefaultModel,
		LabelTimeout:     time.Second,
	}
}

func TestNew(t *testing.T) {
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("without labeler", func(t *testing.T) {
		comps, err := New(baseConfig(), store, nil, nil)
		require.NoError(t, err)

		assert.NotNil(t, comps.Projector)
		assert.NotNil(t, comps.Builder)
		assert.NotNil(t, comps.Resolver)
		assert.NotNil(t, comps.Similarity)
		assert.NotNil(t, comps.Clusters)
		assert.Equal(t, store, comps.Store)
	})

	t.Run("openai labeler", func(t *testing.T) {
		cfg := baseConfig()
		cfg.LabelProvider = config.LabelProviderOpenAI
		cfg.OpenAIAPIKey = "sk-test"
		cfg.OpenAIBaseURL = "http://127.0.0.1:1"

		l, err := newLabeler(cfg, nil, slog.Default())
		require.NoError(t, err)
		assert.IsType(t, &labeler.OpenAILabeler{}, l)
	})

	t.Run("openai labeler without key", func(t *testing.T) {
		cfg := baseConfig()
		cfg.LabelProvider = config.LabelProviderOpenAI

		_, err := New(cfg, store, nil, nil)
		require.ErrorIs(t, err, labeler.ErrMissingAPIKey)
	})
}
