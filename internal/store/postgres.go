package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfold/papertrade/internal/models"
)

// PostgresStore persists engine state in PostgreSQL. CloseBatch runs inside
// a single transaction so the manual-override and risk-halt paths are atomic.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Schema is the DDL the store expects. Applied by the caller (migration
// tooling or ApplySchema on a fresh database).
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	id             TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	mode           TEXT NOT NULL,
	side           TEXT NOT NULL,
	size           NUMERIC NOT NULL,
	entry_price    NUMERIC NOT NULL,
	stop_loss      NUMERIC NOT NULL DEFAULT 0,
	take_profit    NUMERIC NOT NULL DEFAULT 0,
	unrealized_pnl NUMERIC NOT NULL DEFAULT 0,
	max_pnl_pct    DOUBLE PRECISION NOT NULL DEFAULT 0,
	batch_id       TEXT NOT NULL DEFAULT '',
	opened_at      TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	position_id  TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	mode         TEXT NOT NULL,
	side         TEXT NOT NULL,
	size         NUMERIC NOT NULL,
	entry_price  NUMERIC NOT NULL,
	exit_price   NUMERIC NOT NULL,
	realized_pnl NUMERIC NOT NULL,
	reason       TEXT NOT NULL,
	batch_id     TEXT NOT NULL DEFAULT '',
	opened_at    TIMESTAMPTZ NOT NULL,
	closed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades (closed_at DESC);
CREATE TABLE IF NOT EXISTS account (
	id     INT PRIMARY KEY DEFAULT 1,
	equity NUMERIC NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_stats (
	day             TEXT PRIMARY KEY,
	starting_equity NUMERIC NOT NULL,
	ending_equity   NUMERIC NOT NULL,
	trade_count     INT NOT NULL,
	wins            INT NOT NULL,
	win_rate        DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS engine_events (
	id         BIGSERIAL PRIMARY KEY,
	level      TEXT NOT NULL,
	source     TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// ApplySchema creates the engine tables if they do not exist.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) OpenPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, mode, side, size, entry_price, stop_loss, take_profit,
		       unrealized_pnl, max_pnl_pct, batch_id, opened_at, updated_at
		FROM positions ORDER BY opened_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var pos models.Position
		if err := rows.Scan(&pos.ID, &pos.Symbol, &pos.Mode, &pos.Side, &pos.Size,
			&pos.EntryPrice, &pos.StopLoss, &pos.TakeProfit, &pos.UnrealizedPnL,
			&pos.MaxPnLPercent, &pos.BatchID, &pos.OpenedAt, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertPosition(ctx context.Context, pos models.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (id, symbol, mode, side, size, entry_price, stop_loss,
			take_profit, unrealized_pnl, max_pnl_pct, batch_id, opened_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		pos.ID, pos.Symbol, pos.Mode, pos.Side, pos.Size, pos.EntryPrice,
		pos.StopLoss, pos.TakeProfit, pos.UnrealizedPnL, pos.MaxPnLPercent,
		pos.BatchID, pos.OpenedAt, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert position %s: %w", pos.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, pos models.Position) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET size=$2, entry_price=$3, stop_loss=$4, take_profit=$5,
			unrealized_pnl=$6, max_pnl_pct=$7, updated_at=$8
		WHERE id=$1`,
		pos.ID, pos.Size, pos.EntryPrice, pos.StopLoss, pos.TakeProfit,
		pos.UnrealizedPnL, pos.MaxPnLPercent, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", pos.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CloseBatch(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin close batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	netPnL := decimal.Zero
	for _, tr := range trades {
		if _, err := tx.Exec(ctx, `
			INSERT INTO trades (id, position_id, symbol, mode, side, size, entry_price,
				exit_price, realized_pnl, reason, batch_id, opened_at, closed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			tr.ID, tr.PositionID, tr.Symbol, tr.Mode, tr.Side, tr.Size,
			tr.EntryPrice, tr.ExitPrice, tr.RealizedPnL, tr.Reason, tr.BatchID,
			tr.OpenedAt, tr.ClosedAt); err != nil {
			return fmt.Errorf("failed to insert trade for position %s: %w", tr.PositionID, err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM positions WHERE id=$1`, tr.PositionID)
		if err != nil {
			return fmt.Errorf("failed to remove position %s: %w", tr.PositionID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("close batch references unknown position %s: %w", tr.PositionID, ErrNotFound)
		}
		netPnL = netPnL.Add(tr.RealizedPnL)
	}

	if _, err := tx.Exec(ctx, `UPDATE account SET equity = equity + $1 WHERE id = 1`, netPnL); err != nil {
		return fmt.Errorf("failed to apply realized pnl: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit close batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, position_id, symbol, mode, side, size, entry_price, exit_price,
		       realized_pnl, reason, batch_id, opened_at, closed_at
		FROM trades ORDER BY closed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) TradesSince(ctx context.Context, since time.Time) ([]models.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, position_id, symbol, mode, side, size, entry_price, exit_price,
		       realized_pnl, reason, batch_id, opened_at, closed_at
		FROM trades WHERE closed_at >= $1 ORDER BY closed_at`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades since %s: %w", since, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]models.Trade, error) {
	var out []models.Trade
	for rows.Next() {
		var tr models.Trade
		if err := rows.Scan(&tr.ID, &tr.PositionID, &tr.Symbol, &tr.Mode, &tr.Side,
			&tr.Size, &tr.EntryPrice, &tr.ExitPrice, &tr.RealizedPnL, &tr.Reason,
			&tr.BatchID, &tr.OpenedAt, &tr.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Equity(ctx context.Context) (decimal.Decimal, error) {
	var equity decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT equity FROM account WHERE id = 1`).Scan(&equity)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("account row: %w", ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read equity: %w", err)
	}
	return equity, nil
}

func (s *PostgresStore) SetEquity(ctx context.Context, equity decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account (id, equity) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET equity = EXCLUDED.equity`, equity)
	if err != nil {
		return fmt.Errorf("failed to set equity: %w", err)
	}
	return nil
}

func (s *PostgresStore) DailyStats(ctx context.Context, day string) (models.DailyStats, error) {
	var stats models.DailyStats
	err := s.pool.QueryRow(ctx, `
		SELECT day, starting_equity, ending_equity, trade_count, wins, win_rate
		FROM daily_stats WHERE day = $1`, day).
		Scan(&stats.Day, &stats.StartingEquity, &stats.EndingEquity,
			&stats.TradeCount, &stats.Wins, &stats.WinRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DailyStats{}, fmt.Errorf("daily stats for %s: %w", day, ErrNotFound)
	}
	if err != nil {
		return models.DailyStats{}, fmt.Errorf("failed to read daily stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) UpsertDailyStats(ctx context.Context, stats models.DailyStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_stats (day, starting_equity, ending_equity, trade_count, wins, win_rate)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (day) DO UPDATE SET
			ending_equity = EXCLUDED.ending_equity,
			trade_count = EXCLUDED.trade_count,
			wins = EXCLUDED.wins,
			win_rate = EXCLUDED.win_rate`,
		stats.Day, stats.StartingEquity, stats.EndingEquity,
		stats.TradeCount, stats.Wins, stats.WinRate)
	if err != nil {
		return fmt.Errorf("failed to upsert daily stats: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event models.EngineEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_events (level, source, message, created_at)
		VALUES ($1,$2,$3,$4)`,
		event.Level, event.Source, event.Message, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append engine event: %w", err)
	}
	return nil
}
