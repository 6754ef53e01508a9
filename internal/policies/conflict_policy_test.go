package policies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esm-federation/internal/types"
)

func strategy(kind types.StrategyType, fallback string) *types.VersionStrategy {
	return &types.VersionStrategy{Type: kind, FallbackVersion: fallback}
}

func TestEffectiveStrategyDerivedFromStrictVersion(t *testing.T) {
	got, err := EffectiveStrategy([]types.SharedPackageConfig{{}, {StrictVersion: true}})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyExact, got.Type)

	got, err = EffectiveStrategy([]types.SharedPackageConfig{{}, {}})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyCompatible, got.Type)
}

func TestEffectiveStrategyExplicitWins(t *testing.T) {
	got, err := EffectiveStrategy([]types.SharedPackageConfig{
		{StrictVersion: true},
		{Strategy: strategy(types.StrategyFallback, "1.0.0")},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyFallback, got.Type)
	assert.Equal(t, "1.0.0", got.FallbackVersion)
}

func TestEffectiveStrategyStrictestExplicitWins(t *testing.T) {
	got, err := EffectiveStrategy([]types.SharedPackageConfig{
		{Strategy: strategy(types.StrategyFallback, "1.0.0")},
		{Strategy: strategy("ERROR", "")},
		{Strategy: strategy(types.StrategyExact, "")},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyError, got.Type)
}

func TestEffectiveStrategyRejectsUnknown(t *testing.T) {
	_, err := EffectiveStrategy([]types.SharedPackageConfig{{Strategy: strategy("newest", "")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown version strategy")
}

func TestAllowsMixedSingleton(t *testing.T) {
	assert.False(t, AllowsMixedSingleton([]types.SharedPackageConfig{{Singleton: true}, {}}))
	assert.True(t, AllowsMixedSingleton([]types.SharedPackageConfig{{Singleton: true}, {Strategy: strategy(types.StrategyFallback, "")}}))
}

func TestFailsHard(t *testing.T) {
	tests := []struct {
		name      string
		strategy  types.StrategyType
		singleton bool
		expect    bool
	}{
		{"error always", types.StrategyError, false, true},
		{"exact singleton", types.StrategyExact, true, true},
		{"exact shared copy", types.StrategyExact, false, false},
		{"compatible singleton", types.StrategyCompatible, true, false},
		{"fallback singleton", types.StrategyFallback, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, FailsHard(types.VersionStrategy{Type: tt.strategy}, tt.singleton))
		})
	}
}
