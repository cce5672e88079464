package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantfold/papertrade/internal/models"
)

func tradeWithPnL(pnl float64) models.Trade {
	return models.Trade{RealizedPnL: decimal.NewFromFloat(pnl)}
}

func tradesWithPnL(pnls ...float64) []models.Trade {
	out := make([]models.Trade, 0, len(pnls))
	for _, p := range pnls {
		out = append(out, tradeWithPnL(p))
	}
	return out
}

func TestComputeThermostatRegimes(t *testing.T) {
	tests := []struct {
		name         string
		recent       []models.Trade
		todayPnLPct  float64
		wantRegime   ThermoRegime
		wantAggr     float64
	}{
		{
			name:        "deep daily loss is danger",
			recent:      nil,
			todayPnLPct: -3.0,
			wantRegime:  ThermoDanger,
			wantAggr:    0.2,
		},
		{
			name:        "four losses in a row is danger",
			recent:      tradesWithPnL(-1, -2, -1, -3),
			todayPnLPct: 0,
			wantRegime:  ThermoDanger,
			wantAggr:    0.2,
		},
		{
			name:        "moderate loss calms down",
			recent:      nil,
			todayPnLPct: -1.5,
			wantRegime:  ThermoCalm,
			wantAggr:    0.4,
		},
		{
			name:        "two losses calm down",
			recent:      tradesWithPnL(-1, -1, 2, 3, 1),
			todayPnLPct: 0.2,
			wantRegime:  ThermoCalm,
			wantAggr:    0.4,
		},
		{
			name:        "winning run heats up",
			recent:      tradesWithPnL(1, 2, 1, 3, 2, 1, 2, -1, 2, 1),
			todayPnLPct: 1.2,
			wantRegime:  ThermoHot,
			wantAggr:    0.9,
		},
		{
			name:        "no history is normal",
			recent:      nil,
			todayPnLPct: 0,
			wantRegime:  ThermoNormal,
			wantAggr:    0.6,
		},
		{
			name:        "winning run without daily profit stays normal",
			recent:      tradesWithPnL(1, 2, 1, 3, 2, 1, 2, 1, 2, 1),
			todayPnLPct: 0.3,
			wantRegime:  ThermoNormal,
			wantAggr:    0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := ComputeThermostat(tt.recent, tt.todayPnLPct)
			assert.Equal(t, tt.wantRegime, state.Regime)
			assert.InDelta(t, tt.wantAggr, state.Aggression, 1e-9)
		})
	}
}

func TestComputeThermostatDangerBeatsHot(t *testing.T) {
	// A deep daily loss must win even if the last trades were winners.
	state := ComputeThermostat(tradesWithPnL(5, 5, 5, 5, 5), -4.0)
	assert.Equal(t, ThermoDanger, state.Regime)
}

func TestComputeThermostatClamps(t *testing.T) {
	for _, pnl := range []float64{-50, -3, 0, 3, 50} {
		state := ComputeThermostat(tradesWithPnL(1, -1, 1, -1), pnl)
		assert.GreaterOrEqual(t, state.Aggression, 0.15)
		assert.LessOrEqual(t, state.Aggression, 1.0)
		assert.GreaterOrEqual(t, state.Confidence, 0.2)
		assert.LessOrEqual(t, state.Confidence, 1.0)
	}
}

func TestStreak(t *testing.T) {
	assert.Equal(t, 0, streak(nil, 5))
	assert.Equal(t, 3, streak(tradesWithPnL(1, 2, 1, -1), 5))
	assert.Equal(t, -2, streak(tradesWithPnL(-1, -2, 3), 5))
	// Lookback caps the run.
	assert.Equal(t, 5, streak(tradesWithPnL(1, 1, 1, 1, 1, 1, 1), 5))
	// A flat trade terminates the run.
	assert.Equal(t, 0, streak(tradesWithPnL(0, 1, 1), 5))
	assert.Equal(t, 1, streak(tradesWithPnL(1, 0, 1), 5))
}

func TestWinRate(t *testing.T) {
	assert.Equal(t, 0.0, winRate(nil, 10))
	assert.InDelta(t, 60.0, winRate(tradesWithPnL(1, 1, 1, -1, -1), 10), 1e-9)
	// Only the window counts.
	assert.InDelta(t, 100.0, winRate(tradesWithPnL(1, 1, -1), 2), 1e-9)
}
