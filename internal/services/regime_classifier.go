package services

import (
	"math"
	"sync"
	"time"

	"github.com/quantfold/papertrade/internal/indicators"
	"github.com/quantfold/papertrade/internal/models"
)

// RegimeClassifierConfig tunes the moving-average regime detection.
type RegimeClassifierConfig struct {
	ShortPeriod int
	LongPeriod  int
	// MaxHistory caps the rolling price window kept per symbol.
	MaxHistory int
	// TrendThreshold is the short/long divergence above which a market is
	// considered trending (fraction, 0.002 = 0.2%).
	TrendThreshold float64
	// HighVolThreshold / LowVolThreshold bucket the mean absolute
	// bar-to-bar return.
	HighVolThreshold float64
	LowVolThreshold  float64
}

// DefaultRegimeClassifierConfig returns the default configuration.
func DefaultRegimeClassifierConfig() RegimeClassifierConfig {
	return RegimeClassifierConfig{
		ShortPeriod:      5,
		LongPeriod:       20,
		MaxHistory:       120,
		TrendThreshold:   0.002,
		HighVolThreshold: 0.015,
		LowVolThreshold:  0.002,
	}
}

// RegimeClassifier derives a market-structure snapshot per symbol from a
// rolling window of mid prices. Classify never fails: with insufficient
// history it returns a neutral/ranging/normal snapshot at low confidence.
type RegimeClassifier struct {
	config  RegimeClassifierConfig
	mu      sync.Mutex
	history map[string][]float64
}

// NewRegimeClassifier creates a classifier with empty history.
func NewRegimeClassifier(config RegimeClassifierConfig) *RegimeClassifier {
	return &RegimeClassifier{
		config:  config,
		history: make(map[string][]float64),
	}
}

// Observe appends a snapshot's mid price to the symbol's rolling window.
func (c *RegimeClassifier) Observe(snap models.PriceSnapshot) {
	mid := snap.Mid.InexactFloat64()
	if mid <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prices := append(c.history[snap.Symbol], mid)
	if len(prices) > c.config.MaxHistory {
		prices = prices[len(prices)-c.config.MaxHistory:]
	}
	c.history[snap.Symbol] = prices
}

// Classify returns the regime snapshot for a symbol at the given time.
func (c *RegimeClassifier) Classify(symbol string, now time.Time) models.RegimeSnapshot {
	c.mu.Lock()
	prices := make([]float64, len(c.history[symbol]))
	copy(prices, c.history[symbol])
	c.mu.Unlock()

	out := models.RegimeSnapshot{
		Symbol:          symbol,
		Bias:            models.BiasNeutral,
		Structure:       models.StructureRanging,
		Volatility:      models.VolatilityNormal,
		VolatilityRatio: 1.0,
		Confidence:      0.4,
		Timestamp:       now,
	}

	if len(prices) < c.config.LongPeriod {
		return out
	}

	short := indicators.Last(indicators.Sma(prices, c.config.ShortPeriod), 0)
	long := indicators.Last(indicators.Sma(prices, c.config.LongPeriod), 0)
	if long == 0 {
		return out
	}

	divergence := (short - long) / long
	absDiv := math.Abs(divergence)

	if absDiv > c.config.TrendThreshold {
		out.Structure = models.StructureTrending
		if divergence > 0 {
			out.Bias = models.BiasBullish
		} else {
			out.Bias = models.BiasBearish
		}
	}

	meanAbs := indicators.MeanAbsReturn(prices)
	switch {
	case meanAbs > c.config.HighVolThreshold:
		out.Volatility = models.VolatilityHigh
	case meanAbs < c.config.LowVolThreshold:
		out.Volatility = models.VolatilityLow
	}

	// Trend strength saturates at a 2% short/long divergence.
	out.TrendStrength = math.Min(100, absDiv*5000)
	baseline := (c.config.HighVolThreshold + c.config.LowVolThreshold) / 2
	if baseline > 0 {
		out.VolatilityRatio = meanAbs / baseline
	}

	sampleFactor := math.Min(1, float64(len(prices))/float64(c.config.MaxHistory))
	out.Confidence = clamp(0.4+absDiv*50+sampleFactor*0.2, 0.2, 0.95)

	return out
}

// ClassifyAll observes and classifies every symbol in the market feed.
func (c *RegimeClassifier) ClassifyAll(market models.MarketData, now time.Time) map[string]models.RegimeSnapshot {
	out := make(map[string]models.RegimeSnapshot, len(market.Snapshots))
	for symbol, snap := range market.Snapshots {
		c.Observe(snap)
		out[symbol] = c.Classify(symbol, now)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
