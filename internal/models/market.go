package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DirectionalBias classifies which way a market leans.
type DirectionalBias string

const (
	BiasBullish DirectionalBias = "bullish"
	BiasBearish DirectionalBias = "bearish"
	BiasNeutral DirectionalBias = "neutral"
)

// MarketStructure classifies trend versus range conditions.
type MarketStructure string

const (
	StructureTrending MarketStructure = "trending"
	StructureRanging  MarketStructure = "ranging"
)

// VolatilityLevel buckets realized volatility.
type VolatilityLevel string

const (
	VolatilityLow    VolatilityLevel = "low"
	VolatilityNormal VolatilityLevel = "normal"
	VolatilityHigh   VolatilityLevel = "high"
)

// PriceSnapshot is one symbol's quote for a single tick. Produced externally,
// never mutated after creation.
type PriceSnapshot struct {
	Symbol     string          `json:"symbol"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Mid        decimal.Decimal `json:"mid"`
	Volatility float64         `json:"volatility,omitempty"`
	RegimeHint string          `json:"regime_hint,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// MarketData is the full per-tick feed handed to the engine: one snapshot per
// tradable symbol plus provider metadata. Paused signals data unavailability;
// the engine must suppress new entries while it is set but keeps marking open
// positions at last-known prices.
type MarketData struct {
	Snapshots      map[string]PriceSnapshot `json:"snapshots"`
	Source         string                   `json:"source"`
	Paused         bool                     `json:"paused"`
	SessionQuality float64                  `json:"session_quality"`
}

// Snapshot returns the snapshot for a symbol, if present.
func (m MarketData) Snapshot(symbol string) (PriceSnapshot, bool) {
	snap, ok := m.Snapshots[symbol]
	return snap, ok
}

// RegimeSnapshot is the classified market structure for one symbol at one
// tick. Derived, recomputed every tick, immutable once built.
type RegimeSnapshot struct {
	Symbol          string          `json:"symbol"`
	Bias            DirectionalBias `json:"bias"`
	Structure       MarketStructure `json:"structure"`
	Volatility      VolatilityLevel `json:"volatility"`
	TrendStrength   float64         `json:"trend_strength"`
	VolatilityRatio float64         `json:"volatility_ratio"`
	Confidence      float64         `json:"confidence"`
	Timestamp       time.Time       `json:"timestamp"`
}

// AgreesWith reports whether the regime bias points the same way as a
// position side.
func (r RegimeSnapshot) AgreesWith(side PositionSide) bool {
	switch side {
	case SideLong:
		return r.Bias == BiasBullish
	case SideShort:
		return r.Bias == BiasBearish
	default:
		return false
	}
}
