package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/papertrade/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary of the engine. Implementations must make
// CloseBatch atomic: either every trade row lands and every position row is
// removed, or the call fails and nothing is applied. The engine treats a
// failed CloseBatch as a session-critical error and aborts the tick.
type Store interface {
	// Positions
	OpenPositions(ctx context.Context) ([]models.Position, error)
	InsertPosition(ctx context.Context, pos models.Position) error
	UpdatePosition(ctx context.Context, pos models.Position) error

	// CloseBatch atomically converts positions into trades: inserts every
	// trade row, removes every referenced position row, and applies the net
	// realized PnL to account equity.
	CloseBatch(ctx context.Context, trades []models.Trade) error

	// Trades
	RecentTrades(ctx context.Context, limit int) ([]models.Trade, error)
	TradesSince(ctx context.Context, since time.Time) ([]models.Trade, error)

	// Account
	Equity(ctx context.Context) (decimal.Decimal, error)
	SetEquity(ctx context.Context, equity decimal.Decimal) error

	// Daily stats, keyed by day in "2006-01-02" form.
	DailyStats(ctx context.Context, day string) (models.DailyStats, error)
	UpsertDailyStats(ctx context.Context, stats models.DailyStats) error

	// AppendEvent writes one row of the append-only engine log. Failures
	// here are logged and swallowed by callers; the log is diagnostic.
	AppendEvent(ctx context.Context, event models.EngineEvent) error
}

// DayKey formats a timestamp as a daily-stats key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
