package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfold/papertrade/internal/models"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// BrokerAdapter executes a validated order. The paper adapter fills
// immediately; a live adapter would forward to a brokerage.
type BrokerAdapter interface {
	Execute(ctx context.Context, order models.ProposedOrder, now time.Time) (models.Position, error)
}

// ExecutionConfig tunes the paper fill simulation.
type ExecutionConfig struct {
	// SlippagePercent is applied against the order: longs fill above entry,
	// shorts below. Zero keeps fills exact.
	SlippagePercent float64
}

// DefaultExecutionConfig returns the default configuration.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{SlippagePercent: 0}
}

// ExecutionGuard validates and normalizes an order request into a fill.
// Invalid orders are rejected before anything is persisted.
type ExecutionGuard struct {
	config ExecutionConfig
	broker BrokerAdapter
}

// NewExecutionGuard builds a guard around the paper broker.
func NewExecutionGuard(config ExecutionConfig) *ExecutionGuard {
	g := &ExecutionGuard{config: config}
	g.broker = &paperBroker{config: config}
	return g
}

// NewExecutionGuardWithBroker builds a guard around a custom adapter.
func NewExecutionGuardWithBroker(config ExecutionConfig, broker BrokerAdapter) *ExecutionGuard {
	return &ExecutionGuard{config: config, broker: broker}
}

// Execute validates the order and hands it to the broker adapter.
func (g *ExecutionGuard) Execute(ctx context.Context, order models.ProposedOrder, now time.Time) (models.Position, error) {
	if err := validateOrder(order); err != nil {
		return models.Position{}, err
	}
	return g.broker.Execute(ctx, order, now)
}

func validateOrder(order models.ProposedOrder) error {
	if order.Symbol == "" {
		return fmt.Errorf("order rejected: missing symbol")
	}
	if order.Side != models.SideLong && order.Side != models.SideShort {
		return fmt.Errorf("order rejected: invalid side %q", order.Side)
	}
	if !order.Size.IsPositive() {
		return fmt.Errorf("order rejected: non-positive size %s", order.Size)
	}
	if !order.EntryPrice.IsPositive() {
		return fmt.Errorf("order rejected: non-positive entry price %s", order.EntryPrice)
	}
	return nil
}

// paperBroker fills immediately at the proposed entry price, optionally
// worsened by a fixed slippage percent.
type paperBroker struct {
	config ExecutionConfig
}

func (b *paperBroker) Execute(_ context.Context, order models.ProposedOrder, now time.Time) (models.Position, error) {
	fill := order.EntryPrice
	if b.config.SlippagePercent > 0 {
		slip := fill.Mul(decimal.NewFromFloat(b.config.SlippagePercent / 100))
		if order.Side == models.SideLong {
			fill = fill.Add(slip)
		} else {
			fill = fill.Sub(slip)
		}
	}

	return models.Position{
		ID:         uuid.NewString(),
		Symbol:     order.Symbol,
		Mode:       order.Mode,
		Side:       order.Side,
		Size:       order.Size,
		EntryPrice: fill,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		BatchID:    order.BatchID,
		OpenedAt:   now,
		UpdatedAt:  now,
	}, nil
}
