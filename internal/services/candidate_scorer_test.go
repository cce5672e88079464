package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/papertrade/internal/models"
)

func TestScoreSymbolRejectsAtPerSymbolCap(t *testing.T) {
	scorer := NewCandidateScorer(FixedDirectionSource{Side: models.SideLong})
	profile, err := ProfileByKey(ModeScalper)
	require.NoError(t, err)

	regime := models.RegimeSnapshot{Symbol: "BTC-USD", Bias: models.BiasNeutral}
	thermo := ThermostatState{Aggression: 0.6}

	_, ok := scorer.ScoreSymbol(profile, regime, thermo, 0.5, profile.MaxPerSymbol)
	assert.False(t, ok)

	_, ok = scorer.ScoreSymbol(profile, regime, thermo, 0.5, profile.MaxPerSymbol-1)
	assert.True(t, ok)
}

func TestScoreSymbolCrowdingPenalty(t *testing.T) {
	scorer := NewCandidateScorer(FixedDirectionSource{Side: models.SideLong})
	profile, err := ProfileByKey(ModeBurst)
	require.NoError(t, err)

	regime := models.RegimeSnapshot{Symbol: "BTC-USD", Bias: models.BiasNeutral, Volatility: models.VolatilityNormal}
	thermo := ThermostatState{Aggression: 0.6}

	fresh, ok := scorer.ScoreSymbol(profile, regime, thermo, 0.5, 0)
	require.True(t, ok)
	crowded, ok := scorer.ScoreSymbol(profile, regime, thermo, 0.5, 2)
	require.True(t, ok)

	assert.InDelta(t, 20, fresh.Score-crowded.Score, 1e-9)
}

func TestChooseDirectionFollowsConfidentBias(t *testing.T) {
	scorer := NewCandidateScorer(FixedDirectionSource{Side: models.SideLong})

	bearish := models.RegimeSnapshot{Bias: models.BiasBearish, Confidence: 0.8}
	assert.Equal(t, models.SideShort, scorer.chooseDirection(bearish))

	bullish := models.RegimeSnapshot{Bias: models.BiasBullish, Confidence: 0.8}
	assert.Equal(t, models.SideLong, scorer.chooseDirection(bullish))
}

func TestChooseDirectionFallsBackWhenWeak(t *testing.T) {
	scorer := NewCandidateScorer(FixedDirectionSource{Side: models.SideShort})

	// Low confidence ignores the bias entirely.
	weak := models.RegimeSnapshot{Bias: models.BiasBullish, Confidence: 0.2}
	assert.Equal(t, models.SideShort, scorer.chooseDirection(weak))

	// Neutral bias always defers, whatever the confidence.
	neutral := models.RegimeSnapshot{Bias: models.BiasNeutral, Confidence: 0.9}
	assert.Equal(t, models.SideShort, scorer.chooseDirection(neutral))
}

func TestRankOrdersByScoreWithSymbolTiebreak(t *testing.T) {
	scorer := NewCandidateScorer(FixedDirectionSource{Side: models.SideLong})
	profile, err := ProfileByKey(ModeBurst)
	require.NoError(t, err)

	market := marketWith(snapshotAt("AAA", 100), snapshotAt("BBB", 100), snapshotAt("CCC", 100))
	thermo := ThermostatState{Aggression: 0.6}
	regimes := map[string]models.RegimeSnapshot{
		"AAA": {Symbol: "AAA", Bias: models.BiasNeutral},
		"BBB": {Symbol: "BBB", Bias: models.BiasNeutral},
		// A trending, confident regime must outrank the neutral ones.
		"CCC": {Symbol: "CCC", Bias: models.BiasBullish, Structure: models.StructureTrending, Confidence: 0.9},
	}

	ranked := scorer.Rank(profile, market, regimes, thermo, nil)
	require.Len(t, ranked, 3)
	assert.Equal(t, "CCC", ranked[0].Symbol)
	// AAA and BBB score identically; the tiebreak is lexicographic.
	assert.Equal(t, "AAA", ranked[1].Symbol)
	assert.Equal(t, "BBB", ranked[2].Symbol)
}

func TestRankSkipsSymbolsWithoutSnapshot(t *testing.T) {
	scorer := NewCandidateScorer(FixedDirectionSource{Side: models.SideLong})
	profile, err := ProfileByKey(ModeBurst)
	require.NoError(t, err)

	market := marketWith(snapshotAt("AAA", 100))
	regimes := map[string]models.RegimeSnapshot{
		"AAA":   {Symbol: "AAA"},
		"STALE": {Symbol: "STALE"},
	}

	ranked := scorer.Rank(profile, market, regimes, ThermostatState{Aggression: 0.6}, nil)
	require.Len(t, ranked, 1)
	assert.Equal(t, "AAA", ranked[0].Symbol)
}

func TestCandidateConfidenceBounds(t *testing.T) {
	scorer := NewCandidateScorer(FixedDirectionSource{Side: models.SideLong})
	profile, err := ProfileByKey(ModeTrend)
	require.NoError(t, err)

	regimes := []models.RegimeSnapshot{
		{Symbol: "X", Bias: models.BiasNeutral, Volatility: models.VolatilityHigh},
		{Symbol: "X", Bias: models.BiasBullish, Structure: models.StructureTrending, TrendStrength: 100, Confidence: 0.95, Volatility: models.VolatilityNormal},
	}
	for _, regime := range regimes {
		cand, ok := scorer.ScoreSymbol(profile, regime, ThermostatState{Aggression: 1.0}, 1.0, 0)
		require.True(t, ok)
		assert.GreaterOrEqual(t, cand.Confidence, 0.3)
		assert.LessOrEqual(t, cand.Confidence, 0.95)
	}
}
