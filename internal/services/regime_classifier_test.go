package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantfold/papertrade/internal/models"
)

func feedPrices(c *RegimeClassifier, symbol string, prices ...float64) {
	for _, p := range prices {
		mid := decimal.NewFromFloat(p)
		c.Observe(models.PriceSnapshot{Symbol: symbol, Bid: mid, Ask: mid, Mid: mid})
	}
}

func TestClassifyEmptyHistoryDefaults(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())

	regime := c.Classify("BTC-USD", time.Now().UTC())
	assert.Equal(t, models.BiasNeutral, regime.Bias)
	assert.Equal(t, models.StructureRanging, regime.Structure)
	assert.Equal(t, models.VolatilityNormal, regime.Volatility)
	assert.InDelta(t, 0.4, regime.Confidence, 1e-9)
}

func TestClassifyShortHistoryDefaults(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())
	feedPrices(c, "BTC-USD", 100, 101, 102)

	regime := c.Classify("BTC-USD", time.Now().UTC())
	assert.Equal(t, models.StructureRanging, regime.Structure)
}

func TestClassifyDetectsUptrend(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())

	price := 100.0
	for i := 0; i < 40; i++ {
		feedPrices(c, "BTC-USD", price)
		price *= 1.004
	}

	regime := c.Classify("BTC-USD", time.Now().UTC())
	assert.Equal(t, models.StructureTrending, regime.Structure)
	assert.Equal(t, models.BiasBullish, regime.Bias)
	assert.Positive(t, regime.TrendStrength)
	assert.Greater(t, regime.Confidence, 0.4)
}

func TestClassifyDetectsDowntrend(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())

	price := 100.0
	for i := 0; i < 40; i++ {
		feedPrices(c, "BTC-USD", price)
		price *= 0.996
	}

	regime := c.Classify("BTC-USD", time.Now().UTC())
	assert.Equal(t, models.StructureTrending, regime.Structure)
	assert.Equal(t, models.BiasBearish, regime.Bias)
}

func TestClassifyFlatIsRangingLowVol(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())

	for i := 0; i < 40; i++ {
		feedPrices(c, "BTC-USD", 100)
	}

	regime := c.Classify("BTC-USD", time.Now().UTC())
	assert.Equal(t, models.StructureRanging, regime.Structure)
	assert.Equal(t, models.BiasNeutral, regime.Bias)
	assert.Equal(t, models.VolatilityLow, regime.Volatility)
}

func TestClassifyHighVolatility(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())

	// Alternate +2%/-2%: huge bar-to-bar moves with no net trend.
	price := 100.0
	for i := 0; i < 40; i++ {
		feedPrices(c, "BTC-USD", price)
		if i%2 == 0 {
			price *= 1.02
		} else {
			price /= 1.02
		}
	}

	regime := c.Classify("BTC-USD", time.Now().UTC())
	assert.Equal(t, models.VolatilityHigh, regime.Volatility)
}

func TestClassifyConfidenceBounds(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())

	price := 100.0
	for i := 0; i < 200; i++ {
		feedPrices(c, "BTC-USD", price)
		price *= 1.01
	}

	regime := c.Classify("BTC-USD", time.Now().UTC())
	assert.GreaterOrEqual(t, regime.Confidence, 0.2)
	assert.LessOrEqual(t, regime.Confidence, 0.95)
}

func TestObserveCapsHistory(t *testing.T) {
	cfg := DefaultRegimeClassifierConfig()
	cfg.MaxHistory = 30
	c := NewRegimeClassifier(cfg)

	for i := 0; i < 100; i++ {
		feedPrices(c, "BTC-USD", 100+float64(i))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.history["BTC-USD"], 30)
}

func TestClassifyAllObservesEverySymbol(t *testing.T) {
	c := NewRegimeClassifier(DefaultRegimeClassifierConfig())
	market := marketWith(snapshotAt("BTC-USD", 100), snapshotAt("ETH-USD", 200))

	regimes := c.ClassifyAll(market, time.Now().UTC())
	assert.Len(t, regimes, 2)
	assert.Contains(t, regimes, "BTC-USD")
	assert.Contains(t, regimes, "ETH-USD")
}
