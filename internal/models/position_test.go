package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMarkPrice(t *testing.T) {
	snap := PriceSnapshot{
		Bid: decimal.NewFromInt(99),
		Ask: decimal.NewFromInt(101),
		Mid: decimal.NewFromInt(100),
	}

	long := Position{Side: SideLong}
	assert.True(t, long.MarkPrice(snap).Equal(decimal.NewFromInt(99)), "longs value at bid")

	short := Position{Side: SideShort}
	assert.True(t, short.MarkPrice(snap).Equal(decimal.NewFromInt(101)), "shorts value at ask")
}

func TestPnLAt(t *testing.T) {
	long := Position{
		Side:       SideLong,
		Size:       decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(100),
	}
	assert.True(t, long.PnLAt(decimal.NewFromInt(105)).Equal(decimal.NewFromInt(10)))
	assert.True(t, long.PnLAt(decimal.NewFromInt(95)).Equal(decimal.NewFromInt(-10)))

	short := long
	short.Side = SideShort
	assert.True(t, short.PnLAt(decimal.NewFromInt(95)).Equal(decimal.NewFromInt(10)))
}

func TestPnLPercentAt(t *testing.T) {
	long := Position{Side: SideLong, EntryPrice: decimal.NewFromInt(100)}
	assert.InDelta(t, 2.0, long.PnLPercentAt(decimal.NewFromInt(102)), 1e-9)
	assert.InDelta(t, -2.0, long.PnLPercentAt(decimal.NewFromInt(98)), 1e-9)

	short := Position{Side: SideShort, EntryPrice: decimal.NewFromInt(100)}
	assert.InDelta(t, 2.0, short.PnLPercentAt(decimal.NewFromInt(98)), 1e-9)

	// Zero entry price cannot divide.
	assert.Zero(t, Position{}.PnLPercentAt(decimal.NewFromInt(100)))
}

func TestAgeMinutes(t *testing.T) {
	opened := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	pos := Position{OpenedAt: opened}
	assert.InDelta(t, 90.0, pos.AgeMinutes(opened.Add(90*time.Minute)), 1e-9)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
}

func TestTradeIsWin(t *testing.T) {
	assert.True(t, Trade{RealizedPnL: decimal.NewFromInt(1)}.IsWin())
	assert.False(t, Trade{RealizedPnL: decimal.NewFromInt(-1)}.IsWin())
	assert.False(t, Trade{RealizedPnL: decimal.Zero}.IsWin())
}
