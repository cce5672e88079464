package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	haltKey      = "papertrade:risk:halt:%s"
	dailyLossKey = "papertrade:risk:daily_loss:%s"
	guardTTL     = 24 * time.Hour
)

// DailyGuardConfig holds the daily loss limit.
type DailyGuardConfig struct {
	MaxDailyLossPercent float64
}

// DefaultDailyGuardConfig returns the default configuration.
func DefaultDailyGuardConfig() DailyGuardConfig {
	return DailyGuardConfig{MaxDailyLossPercent: 5.0}
}

// DailyGuard mirrors the daily-halt flag and intraday loss in redis so a
// process restart cannot lose a halt. A nil redis client degrades to an
// in-process mirror, which is enough for single-process paper accounts.
type DailyGuard struct {
	redis  *redis.Client
	config DailyGuardConfig

	mu        sync.Mutex
	localHalt map[string]bool
	localLoss map[string]float64
}

// NewDailyGuard creates a guard. redisClient may be nil.
func NewDailyGuard(redisClient *redis.Client, config DailyGuardConfig) *DailyGuard {
	return &DailyGuard{
		redis:     redisClient,
		config:    config,
		localHalt: make(map[string]bool),
		localLoss: make(map[string]float64),
	}
}

// Config returns the guard configuration.
func (g *DailyGuard) Config() DailyGuardConfig {
	return g.config
}

// Breached reports whether today's P&L percent breaches the loss limit.
func (g *DailyGuard) Breached(todayPnLPercent float64) bool {
	return todayPnLPercent <= -g.config.MaxDailyLossPercent
}

// SetHalted records the halt for the given day.
func (g *DailyGuard) SetHalted(ctx context.Context, day string) error {
	g.mu.Lock()
	g.localHalt[day] = true
	g.mu.Unlock()

	if g.redis == nil {
		return nil
	}
	key := fmt.Sprintf(haltKey, day)
	if err := g.redis.Set(ctx, key, "1", guardTTL).Err(); err != nil {
		return fmt.Errorf("failed to mirror halt flag: %w", err)
	}
	return nil
}

// IsHalted reports whether the day is halted, consulting redis first so a
// halt set before a restart is still honored.
func (g *DailyGuard) IsHalted(ctx context.Context, day string) (bool, error) {
	if g.redis != nil {
		key := fmt.Sprintf(haltKey, day)
		_, err := g.redis.Get(ctx, key).Result()
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("failed to read halt flag: %w", err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.localHalt[day], nil
}

// MirrorLoss records today's running P&L percent for external dashboards.
func (g *DailyGuard) MirrorLoss(ctx context.Context, day string, pnlPercent float64) error {
	g.mu.Lock()
	g.localLoss[day] = pnlPercent
	g.mu.Unlock()

	if g.redis == nil {
		return nil
	}
	key := fmt.Sprintf(dailyLossKey, day)
	if err := g.redis.Set(ctx, key, pnlPercent, guardTTL).Err(); err != nil {
		return fmt.Errorf("failed to mirror daily loss: %w", err)
	}
	return nil
}

// CurrentLoss returns the last mirrored P&L percent for the day.
func (g *DailyGuard) CurrentLoss(ctx context.Context, day string) (decimal.Decimal, error) {
	if g.redis != nil {
		key := fmt.Sprintf(dailyLossKey, day)
		v, err := g.redis.Get(ctx, key).Float64()
		if err == nil {
			return decimal.NewFromFloat(v), nil
		}
		if !errors.Is(err, redis.Nil) {
			return decimal.Zero, fmt.Errorf("failed to read daily loss: %w", err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return decimal.NewFromFloat(g.localLoss[day]), nil
}

// Reset clears the day's halt and loss mirror. The external day-boundary
// reset calls this.
func (g *DailyGuard) Reset(ctx context.Context, day string) error {
	g.mu.Lock()
	delete(g.localHalt, day)
	delete(g.localLoss, day)
	g.mu.Unlock()

	if g.redis == nil {
		return nil
	}
	if err := g.redis.Del(ctx, fmt.Sprintf(haltKey, day), fmt.Sprintf(dailyLossKey, day)).Err(); err != nil {
		return fmt.Errorf("failed to reset daily guard: %w", err)
	}
	return nil
}
