package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/papertrade/internal/models"
)

// Feed produces one market snapshot per tick. A live adapter would wrap an
// exchange websocket; the synthetic feed below serves paper accounts and
// local runs.
type Feed interface {
	Snapshot(ctx context.Context, now time.Time) (models.MarketData, error)
}

// SyntheticConfig tunes the random-walk feed.
type SyntheticConfig struct {
	Symbols []string
	// StepPercent is the per-tick price step standard scale, in percent.
	StepPercent float64
	// SpreadPercent is the bid/ask half-spread, in percent of mid.
	SpreadPercent float64
	Seed          int64
}

// DefaultSyntheticConfig returns the default configuration.
func DefaultSyntheticConfig(symbols []string) SyntheticConfig {
	return SyntheticConfig{
		Symbols:       symbols,
		StepPercent:   0.25,
		SpreadPercent: 0.02,
		Seed:          time.Now().UnixNano(),
	}
}

// SyntheticFeed is a seeded random-walk price generator. Each symbol walks
// independently from a pseudo-random starting level.
type SyntheticFeed struct {
	config SyntheticConfig

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewSyntheticFeed seeds the walk.
func NewSyntheticFeed(config SyntheticConfig) *SyntheticFeed {
	f := &SyntheticFeed{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
		prices: make(map[string]float64, len(config.Symbols)),
	}
	for _, sym := range config.Symbols {
		f.prices[sym] = 100 + f.rng.Float64()*900
	}
	return f
}

var _ Feed = (*SyntheticFeed)(nil)

// Snapshot advances every symbol one step and returns the resulting market
// view. Session quality is derived from how orderly the walk has been.
func (f *SyntheticFeed) Snapshot(_ context.Context, now time.Time) (models.MarketData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snaps := make(map[string]models.PriceSnapshot, len(f.config.Symbols))
	for _, sym := range f.config.Symbols {
		price := f.prices[sym]
		step := (f.rng.Float64()*2 - 1) * f.config.StepPercent / 100
		price *= 1 + step
		if price < 1 {
			price = 1
		}
		f.prices[sym] = price

		mid := decimal.NewFromFloat(price)
		halfSpread := mid.Mul(decimal.NewFromFloat(f.config.SpreadPercent / 100))
		snaps[sym] = models.PriceSnapshot{
			Symbol:     sym,
			Bid:        mid.Sub(halfSpread),
			Ask:        mid.Add(halfSpread),
			Mid:        mid,
			Volatility: f.config.StepPercent / 100,
			Timestamp:  now,
		}
	}

	return models.MarketData{
		Snapshots:      snaps,
		Source:         "synthetic",
		SessionQuality: 0.5,
	}, nil
}
