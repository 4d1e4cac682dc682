package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderType(t *testing.T) {
	p, err := ParseProviderType(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)

	_, err = ParseProviderType("mlx")
	assert.Error(t, err)
}

func TestNewChainFromConfig_SkipsUnconfiguredProvider(t *testing.T) {
	// Given: openai first but no API key
	cfg := Config{
		Providers:  []ProviderType{ProviderOpenAI, ProviderStatic},
		Dimensions: 32,
	}

	// When: building the chain
	chain, err := NewChainFromConfig(context.Background(), cfg, nil, nil)

	// Then: static is the only provider, wrapped in the cache
	require.NoError(t, err)
	status := chain.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "static", status[0].Name)
	assert.Equal(t, 32, chain.Dimensions())

	_, isCached := chain.providers[0].Embedder.(*CachedEmbedder)
	assert.True(t, isCached)
}

func TestNewChainFromConfig_DefaultsToStatic(t *testing.T) {
	chain, err := NewChainFromConfig(context.Background(), Config{
		Providers: []ProviderType{ProviderOpenAI},
		CacheSize: -1,
	}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "static", chain.ModelName())
	assert.Equal(t, StaticDimensions, chain.Dimensions())

	_, isCached := chain.providers[0].Embedder.(*CachedEmbedder)
	assert.False(t, isCached)
}

func TestNewChainFromConfig_OpenAIPrimary(t *testing.T) {
	chain, err := NewChainFromConfig(context.Background(), Config{
		OpenAIAPIKey: "sk-test",
		OpenAIModel:  "embed-v2",
		Dimensions:   64,
	}, nil, nil)

	require.NoError(t, err)
	status := chain.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "openai", status[0].Name)
	assert.Equal(t, "embed-v2", status[0].Model)
	assert.Equal(t, "static", status[1].Name)
	assert.Equal(t, 64, chain.Dimensions())
}
