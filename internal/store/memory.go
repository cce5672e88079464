package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/papertrade/internal/models"
)

// MemoryStore is an in-process Store used for paper accounts without a
// database and for tests. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]models.Position
	trades    []models.Trade
	equity    decimal.Decimal
	daily     map[string]models.DailyStats
	events    []models.EngineEvent
}

// NewMemoryStore creates a MemoryStore seeded with the given equity.
func NewMemoryStore(startingEquity decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]models.Position),
		equity:    startingEquity,
		daily:     make(map[string]models.DailyStats),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) OpenPositions(ctx context.Context) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (s *MemoryStore) InsertPosition(ctx context.Context, pos models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[pos.ID]; exists {
		return fmt.Errorf("position already exists: %s", pos.ID)
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *MemoryStore) UpdatePosition(ctx context.Context, pos models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[pos.ID]; !exists {
		return fmt.Errorf("position not found: %s: %w", pos.ID, ErrNotFound)
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *MemoryStore) CloseBatch(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate before mutating anything so the batch applies all-or-nothing.
	for _, tr := range trades {
		if _, exists := s.positions[tr.PositionID]; !exists {
			return fmt.Errorf("close batch references unknown position %s: %w", tr.PositionID, ErrNotFound)
		}
	}

	for _, tr := range trades {
		delete(s.positions, tr.PositionID)
		s.trades = append(s.trades, tr)
		s.equity = s.equity.Add(tr.RealizedPnL)
	}
	return nil
}

func (s *MemoryStore) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.trades) {
		limit = len(s.trades)
	}
	out := make([]models.Trade, limit)
	// Newest first.
	for i := 0; i < limit; i++ {
		out[i] = s.trades[len(s.trades)-1-i]
	}
	return out, nil
}

func (s *MemoryStore) TradesSince(ctx context.Context, since time.Time) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Trade
	for _, tr := range s.trades {
		if !tr.ClosedAt.Before(since) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *MemoryStore) Equity(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equity, nil
}

func (s *MemoryStore) SetEquity(ctx context.Context, equity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
	return nil
}

func (s *MemoryStore) DailyStats(ctx context.Context, day string) (models.DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.daily[day]
	if !ok {
		return models.DailyStats{}, fmt.Errorf("daily stats for %s: %w", day, ErrNotFound)
	}
	return stats, nil
}

func (s *MemoryStore) UpsertDailyStats(ctx context.Context, stats models.DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily[stats.Day] = stats
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event models.EngineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the event log. Test helper.
func (s *MemoryStore) Events() []models.EngineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EngineEvent, len(s.events))
	copy(out, s.events)
	return out
}
