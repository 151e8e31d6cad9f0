package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetModel(t *testing.T) {
	t.Parallel()
	model, err := GetModel("openai/gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "GPT-4o", model.Name)

	_, err = GetModel("nonsense")
	require.Error(t, err)
}

func TestCalculateCost(t *testing.T) {
	t.Parallel()
	model, err := GetModel("openai/gpt-4o")
	require.NoError(t, err)

	// 1M prompt tokens at $5/1k tokens per 1k requests: 1e6/1e3 * 5/1e3 = 5.
	cost := model.CalculateCost(1_000_000, 0)
	require.Equal(t, "5", cost.String())

	cost = model.CalculateCost(0, 1_000_000)
	require.Equal(t, "15", cost.String())

	require.True(t, model.CalculateCost(0, 0).IsZero())
}

func TestModelsByCapability(t *testing.T) {
	t.Parallel()
	vision := ModelsByCapability("vision")
	require.NotEmpty(t, vision)
	for _, model := range vision {
		require.Contains(t, model.Capabilities, "vision")
	}
	require.Greater(t, len(ModelsByCapability("text")), len(vision))
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("hey"))
	require.Equal(t, 2, EstimateTokens("hello"))
}
