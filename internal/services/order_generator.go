package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfold/papertrade/internal/models"
)

// minOrderSize is the floor on generated position size.
var minOrderSize = decimal.NewFromFloat(0.001)

// OrderGenerator turns ranked candidates into sized, priced proposed orders.
type OrderGenerator struct{}

// NewOrderGenerator creates the generator.
func NewOrderGenerator() *OrderGenerator {
	return &OrderGenerator{}
}

// sizeAdjustments nudge sizing and exit distances for one candidate.
type sizeAdjustments struct {
	SizeMultiplier float64
	TpAdjust       float64
	SlAdjust       float64
}

// Generate filters candidates through the effective quality threshold and
// produces up to availableSlots orders. Burst-profile orders generated in
// one call share a single batch identifier.
func (g *OrderGenerator) Generate(
	profile ModeProfile,
	candidates []Candidate,
	thermo ThermostatState,
	market models.MarketData,
	equity decimal.Decimal,
	availableSlots int,
) []models.ProposedOrder {
	threshold := effectiveThreshold(profile, thermo)

	take := profile.MaxEntriesPerTick
	if profile.BurstClusterSize > 0 && profile.BurstClusterSize < take {
		take = profile.BurstClusterSize
	}
	if availableSlots < take {
		take = availableSlots
	}
	if take <= 0 {
		return nil
	}

	batchID := ""
	if profile.BurstClusterSize > 0 {
		batchID = uuid.NewString()
	}

	var orders []models.ProposedOrder
	for _, cand := range candidates {
		if len(orders) >= take {
			break
		}
		if cand.Score < threshold || cand.Confidence < profile.MinEdgeConfidence {
			continue
		}
		snap, ok := market.Snapshot(cand.Symbol)
		if !ok || snap.Mid.IsZero() {
			continue
		}

		adj := adjustments(profile, cand.Regime, thermo, market.SessionQuality)
		order := g.buildOrder(profile, cand, snap, equity, adj)
		order.BatchID = batchID
		orders = append(orders, order)
	}
	return orders
}

// buildOrder sizes one order: risk a fixed slice of equity against the stop
// distance.
func (g *OrderGenerator) buildOrder(
	profile ModeProfile,
	cand Candidate,
	snap models.PriceSnapshot,
	equity decimal.Decimal,
	adj sizeAdjustments,
) models.ProposedOrder {
	entry := snap.Mid

	stopDistance := entry.
		Mul(decimal.NewFromFloat(profile.StopPercent / 100)).
		Mul(decimal.NewFromFloat(adj.SlAdjust))
	targetDistance := stopDistance.
		Mul(decimal.NewFromFloat(profile.TargetMultiplier)).
		Mul(decimal.NewFromFloat(adj.TpAdjust))

	riskAmount := equity.
		Mul(decimal.NewFromFloat(profile.BaseRiskPercent * adj.SizeMultiplier)).
		Div(decimal.NewFromInt(100))

	size := minOrderSize
	if stopDistance.IsPositive() {
		size = riskAmount.Div(stopDistance)
		if size.LessThan(minOrderSize) {
			size = minOrderSize
		}
	}

	var stop, target decimal.Decimal
	if cand.Side == models.SideLong {
		stop = entry.Sub(stopDistance)
		target = entry.Add(targetDistance)
	} else {
		stop = entry.Add(stopDistance)
		target = entry.Sub(targetDistance)
	}

	return models.ProposedOrder{
		Symbol:     cand.Symbol,
		Side:       cand.Side,
		Size:       size,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Mode:       profile.Key,
		Reason: fmt.Sprintf("%s: score %.1f, %s/%s", profile.Key, cand.Score,
			cand.Regime.Structure, cand.Regime.Bias),
		Confidence: cand.Confidence,
		Score:      cand.Score,
	}
}

// effectiveThreshold loosens the entry gate when aggression runs high and
// tightens it hard in the danger regime.
func effectiveThreshold(profile ModeProfile, thermo ThermostatState) float64 {
	threshold := profile.EntryScoreThreshold
	if thermo.Aggression > 0.7 {
		threshold -= 5
	}
	if thermo.Regime == ThermoDanger {
		threshold += 15
	}
	return threshold
}

// adjustments derives size/target/stop nudges from the regime and
// thermostat, clamping the size multiplier to the profile's declared bounds.
func adjustments(profile ModeProfile, regime models.RegimeSnapshot, thermo ThermostatState, sessionQuality float64) sizeAdjustments {
	adj := sizeAdjustments{SizeMultiplier: 1.0, TpAdjust: 1.0, SlAdjust: 1.0}

	if profile.PrefersStructure(regime.Structure) {
		adj.SizeMultiplier += 0.15
		adj.TpAdjust += 0.1
	} else if !profile.RegimeAgnostic() {
		adj.SizeMultiplier -= 0.2
	}

	switch regime.Volatility {
	case models.VolatilityHigh:
		adj.SizeMultiplier -= 0.15
		adj.SlAdjust += 0.2
		adj.TpAdjust += 0.1
	case models.VolatilityLow:
		adj.TpAdjust -= 0.1
	}

	if sessionQuality >= profile.MinSessionQuality {
		adj.SizeMultiplier += 0.05
	} else {
		adj.SizeMultiplier -= 0.1
	}

	adj.SizeMultiplier += (thermo.Aggression - 0.6) * 0.5

	adj.SizeMultiplier = clamp(adj.SizeMultiplier, profile.MinSizeFactor, profile.MaxSizeFactor)
	adj.TpAdjust = clamp(adj.TpAdjust, 0.5, 2.0)
	adj.SlAdjust = clamp(adj.SlAdjust, 0.5, 2.0)
	return adj
}
