package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/papertrade/internal/models"
)

// PositionExit is one position the risk evaluator decided to close, with
// the exit price it should be filled at.
type PositionExit struct {
	Position  models.Position
	Reason    models.CloseReason
	ExitPrice decimal.Decimal
}

// PositionRiskEvaluator decides which open positions must close this tick.
// Stateless; exit priority is fixed: stop, target, cut-loser, trailing stop,
// age limit, regime flip. Positions without a live snapshot are skipped.
type PositionRiskEvaluator struct{}

// NewPositionRiskEvaluator creates the evaluator.
func NewPositionRiskEvaluator() *PositionRiskEvaluator {
	return &PositionRiskEvaluator{}
}

// Evaluate returns the exits for one tick. Each position is evaluated at
// most once; the first matching rule closes it.
func (e *PositionRiskEvaluator) Evaluate(
	positions []models.Position,
	market models.MarketData,
	regimes map[string]models.RegimeSnapshot,
	thermo ThermostatState,
	now time.Time,
) []PositionExit {
	var exits []PositionExit
	for _, pos := range positions {
		snap, ok := market.Snapshot(pos.Symbol)
		if !ok {
			continue
		}

		profile, err := ProfileByKey(pos.Mode)
		if err != nil {
			// Unknown mode (profile removed from the registry): fall back
			// to the most conservative archetype's exits.
			profile, _ = ProfileByKey(ModeTrend)
		}

		price := pos.MarkPrice(snap)
		pnlPct := pos.PnLPercentAt(price)

		reason, hit := e.checkExit(pos, profile, regimes[pos.Symbol], thermo, pnlPct, now)
		if !hit {
			continue
		}
		exits = append(exits, PositionExit{Position: pos, Reason: reason, ExitPrice: price})
	}
	return exits
}

func (e *PositionRiskEvaluator) checkExit(
	pos models.Position,
	profile ModeProfile,
	regime models.RegimeSnapshot,
	thermo ThermostatState,
	pnlPct float64,
	now time.Time,
) (models.CloseReason, bool) {
	switch {
	case pnlPct <= -profile.StopPercent:
		return models.ReasonStopHit, true

	case pnlPct >= profile.StopPercent*profile.TargetMultiplier:
		return models.ReasonTargetHit, true

	case pnlPct <= profile.CutLoserThreshold:
		return models.ReasonCutLoser, true

	case pos.MaxPnLPercent >= profile.TrailingActivation &&
		pnlPct < profile.TrailingActivation-profile.TrailingDistance:
		return models.ReasonTrailingStop, true

	case pos.AgeMinutes(now) > profile.MaxHoldMinutes:
		return models.ReasonAgeLimit, true

	case regime.Bias != models.BiasNeutral &&
		!regime.AgreesWith(pos.Side) &&
		regime.Confidence > 0.6 &&
		pnlPct < 0 &&
		thermo.Regime != ThermoDanger:
		return models.ReasonRegimeFlip, true
	}
	return "", false
}
