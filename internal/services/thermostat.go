package services

import (
	"github.com/quantfold/papertrade/internal/models"
)

// ThermoRegime is the discrete output tag of the thermostat.
type ThermoRegime string

const (
	ThermoCalm   ThermoRegime = "calm"
	ThermoNormal ThermoRegime = "normal"
	ThermoHot    ThermoRegime = "hot"
	ThermoDanger ThermoRegime = "danger"
)

// ThermostatState is the adaptive aggression/confidence pair derived from
// recent performance. Recomputed every tick, never persisted mid-tick.
type ThermostatState struct {
	Aggression       float64      `json:"aggression"`
	Confidence       float64      `json:"confidence"`
	WinRate          float64      `json:"win_rate"`
	RecentPnLPercent float64      `json:"recent_pnl_percent"`
	Streak           int          `json:"streak"`
	Regime           ThermoRegime `json:"regime"`
}

const (
	minAggression = 0.15
	maxAggression = 1.0
	minConfidence = 0.2
	maxConfidence = 1.0

	streakLookback = 5
	winRateWindow  = 10
)

// ComputeThermostat derives the thermostat state from the trailing trade
// window and today's P&L percent. Pure function; recent must be ordered
// newest first. Rules are evaluated in priority order, first match wins.
func ComputeThermostat(recent []models.Trade, todayPnLPercent float64) ThermostatState {
	state := ThermostatState{
		WinRate:          winRate(recent, winRateWindow),
		RecentPnLPercent: todayPnLPercent,
		Streak:           streak(recent, streakLookback),
	}

	switch {
	case todayPnLPercent <= -3.0 || state.Streak <= -4:
		state.Regime = ThermoDanger
		state.Aggression = 0.2
		state.Confidence = 0.3
	case todayPnLPercent <= -1.5 || state.Streak <= -2:
		state.Regime = ThermoCalm
		state.Aggression = 0.4
		state.Confidence = 0.5
	case state.WinRate > 65 && state.Streak >= 3 && todayPnLPercent > 0.5:
		state.Regime = ThermoHot
		state.Aggression = 0.9
		state.Confidence = 0.85
	default:
		state.Regime = ThermoNormal
		state.Aggression = 0.6
		state.Confidence = 0.65
	}

	state.Aggression = clamp(state.Aggression, minAggression, maxAggression)
	state.Confidence = clamp(state.Confidence, minConfidence, maxConfidence)
	return state
}

// streak counts consecutive same-sign trades from the most recent backwards,
// capped at lookback. Positive for a winning run, negative for a losing run.
// Resets on sign change; flat trades terminate the run.
func streak(recent []models.Trade, lookback int) int {
	if len(recent) == 0 {
		return 0
	}
	if lookback < len(recent) {
		recent = recent[:lookback]
	}

	first := recent[0]
	if first.RealizedPnL.IsZero() {
		return 0
	}
	winning := first.IsWin()

	count := 0
	for _, tr := range recent {
		if tr.RealizedPnL.IsZero() || tr.IsWin() != winning {
			break
		}
		count++
	}
	if !winning {
		return -count
	}
	return count
}

// winRate returns the percentage of winners over the last window trades.
func winRate(recent []models.Trade, window int) float64 {
	if window < len(recent) {
		recent = recent[:window]
	}
	if len(recent) == 0 {
		return 0
	}
	wins := 0
	for _, tr := range recent {
		if tr.IsWin() {
			wins++
		}
	}
	return float64(wins) / float64(len(recent)) * 100
}
