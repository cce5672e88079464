package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/papertrade/internal/models"
)

func validOrder() models.ProposedOrder {
	return models.ProposedOrder{
		Symbol:     "BTC-USD",
		Side:       models.SideLong,
		Size:       decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(99),
		TakeProfit: decimal.NewFromInt(102),
		Mode:       ModeScalper,
	}
}

func TestExecuteFillsAtEntry(t *testing.T) {
	guard := NewExecutionGuard(DefaultExecutionConfig())
	now := time.Now().UTC()

	pos, err := guard.Execute(context.Background(), validOrder(), now)
	require.NoError(t, err)

	assert.NotEmpty(t, pos.ID)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, now, pos.OpenedAt)
	assert.Equal(t, ModeScalper, pos.Mode)
}

func TestExecuteAppliesSlippageAgainstTheOrder(t *testing.T) {
	guard := NewExecutionGuard(ExecutionConfig{SlippagePercent: 0.1})
	ctx := context.Background()
	now := time.Now().UTC()

	long, err := guard.Execute(ctx, validOrder(), now)
	require.NoError(t, err)
	assert.True(t, long.EntryPrice.Equal(decimal.NewFromFloat(100.1)), "longs fill above: %s", long.EntryPrice)

	short := validOrder()
	short.Side = models.SideShort
	pos, err := guard.Execute(ctx, short, now)
	require.NoError(t, err)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromFloat(99.9)), "shorts fill below: %s", pos.EntryPrice)
}

func TestExecuteRejectsInvalidOrders(t *testing.T) {
	guard := NewExecutionGuard(DefaultExecutionConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name   string
		mutate func(*models.ProposedOrder)
	}{
		{"missing symbol", func(o *models.ProposedOrder) { o.Symbol = "" }},
		{"invalid side", func(o *models.ProposedOrder) { o.Side = "sideways" }},
		{"zero size", func(o *models.ProposedOrder) { o.Size = decimal.Zero }},
		{"negative size", func(o *models.ProposedOrder) { o.Size = decimal.NewFromInt(-1) }},
		{"zero entry", func(o *models.ProposedOrder) { o.EntryPrice = decimal.Zero }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder()
			tt.mutate(&order)
			_, err := guard.Execute(ctx, order, now)
			assert.Error(t, err)
		})
	}
}

type rejectingBroker struct{}

func (rejectingBroker) Execute(context.Context, models.ProposedOrder, time.Time) (models.Position, error) {
	return models.Position{}, assert.AnError
}

func TestExecuteForwardsBrokerErrors(t *testing.T) {
	guard := NewExecutionGuardWithBroker(DefaultExecutionConfig(), rejectingBroker{})
	_, err := guard.Execute(context.Background(), validOrder(), time.Now().UTC())
	assert.Error(t, err)
}
