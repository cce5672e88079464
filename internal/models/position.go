package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the other side.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// CloseReason enumerates every way a position can be converted into a trade.
type CloseReason string

const (
	ReasonStopHit          CloseReason = "position_stop"
	ReasonTargetHit        CloseReason = "position_target"
	ReasonTrailingStop     CloseReason = "trailing_stop"
	ReasonAgeLimit         CloseReason = "age_limit"
	ReasonCutLoser         CloseReason = "cut_loser"
	ReasonRegimeFlip       CloseReason = "regime_flip"
	ReasonManualTakeProfit CloseReason = "manual_take_profit"
	ReasonManualCloseAll   CloseReason = "manual_close_all"
	ReasonRiskHalt         CloseReason = "risk_halt"
)

// Position is an open paper position. Created by the execution guard,
// marked to market every tick, destroyed when any exit trigger fires.
type Position struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Mode          string          `json:"mode"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	StopLoss      decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit    decimal.Decimal `json:"take_profit,omitempty"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// MaxPnLPercent is the best percent P&L the position has reached since
	// open. Drives trailing-stop activation.
	MaxPnLPercent float64   `json:"max_pnl_percent"`
	BatchID       string    `json:"batch_id,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MarkPrice returns the price the position should be valued at: bid for
// longs, ask for shorts.
func (p Position) MarkPrice(snap PriceSnapshot) decimal.Decimal {
	if p.Side == SideLong {
		return snap.Bid
	}
	return snap.Ask
}

// PnLAt returns the unrealized profit or loss at the given price.
func (p Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

// PnLPercentAt returns the percent move relative to entry, signed in the
// position's favor.
func (p Position) PnLPercentAt(price decimal.Decimal) float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	pct := price.Sub(p.EntryPrice).Div(p.EntryPrice).InexactFloat64() * 100
	if p.Side == SideShort {
		pct = -pct
	}
	return pct
}

// AgeMinutes returns how long the position has been open, in minutes.
func (p Position) AgeMinutes(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Minutes()
}

// Trade is the immutable historical record of a closed position.
type Trade struct {
	ID          string          `json:"id"`
	PositionID  string          `json:"position_id"`
	Symbol      string          `json:"symbol"`
	Mode        string          `json:"mode"`
	Side        PositionSide    `json:"side"`
	Size        decimal.Decimal `json:"size"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Reason      CloseReason     `json:"reason"`
	BatchID     string          `json:"batch_id,omitempty"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
}

// IsWin reports whether the trade closed profitable.
func (t Trade) IsWin() bool {
	return t.RealizedPnL.IsPositive()
}

// ProposedOrder is a sized, priced entry produced by the order generator.
// Transient: produced and consumed within a single tick.
type ProposedOrder struct {
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Mode       string          `json:"mode"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
	Score      float64         `json:"score"`
	BatchID    string          `json:"batch_id,omitempty"`
}
