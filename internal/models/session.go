package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the trading session lifecycle state.
type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"
	SessionRunning SessionStatus = "running"
	SessionHolding SessionStatus = "holding"
	SessionStopped SessionStatus = "stopped"
)

// SessionState is the mutable per-account session record. Only the engine
// writes it; manual-action flags are raised by the calling surface and
// consumed (cleared) by the next tick.
type SessionState struct {
	Status              SessionStatus `json:"status"`
	DailyHalt           bool          `json:"daily_halt"`
	ActiveMode          string        `json:"active_mode"`
	PendingMode         string        `json:"pending_mode,omitempty"`
	CloseAllRequested   bool          `json:"close_all_requested"`
	TakeProfitRequested bool          `json:"take_profit_requested"`
	BurstRequested      bool          `json:"burst_requested"`
	StartedAt           time.Time     `json:"started_at,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// AllowsEntries reports whether automated order generation may run. Holding
// and stopped both suppress new entries; exits still fire regardless.
func (s SessionState) AllowsEntries() bool {
	return s.Status == SessionRunning && !s.DailyHalt
}

// DailyStats is one trading day's aggregate row.
type DailyStats struct {
	Day            string          `json:"day"`
	StartingEquity decimal.Decimal `json:"starting_equity"`
	EndingEquity   decimal.Decimal `json:"ending_equity"`
	TradeCount     int             `json:"trade_count"`
	Wins           int             `json:"wins"`
	WinRate        float64         `json:"win_rate"`
}

// StatsSummary is the per-tick account summary handed back to the calling
// surface for display.
type StatsSummary struct {
	Equity          decimal.Decimal `json:"equity"`
	TodayPnL        decimal.Decimal `json:"today_pnl"`
	TodayPnLPercent float64         `json:"today_pnl_percent"`
	WinRate         float64         `json:"win_rate"`
	TradeCount      int             `json:"trade_count"`
	OpenPositions   int             `json:"open_positions"`
}

// EventLevel is the severity of an engine event.
type EventLevel string

const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)

// EngineEvent is one row of the append-only engine log.
type EngineEvent struct {
	Level     EventLevel `json:"level"`
	Source    string     `json:"source"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}
