package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/papertrade/internal/models"
	"github.com/quantfold/papertrade/internal/services/risk"
	"github.com/quantfold/papertrade/internal/store"
)

// EngineConfig tunes the per-tick decision orchestrator.
type EngineConfig struct {
	// DefaultMode is the profile active before any mode request.
	DefaultMode string
	// MaxConcurrentTrades caps open positions across all modes.
	MaxConcurrentTrades int
	// RecentTradeLimit bounds the trailing trade window fetched per tick.
	RecentTradeLimit int
	// DirectionSeed seeds the fallback direction source.
	DirectionSeed int64
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultMode:         ModeAdaptive,
		MaxConcurrentTrades: 15,
		RecentTradeLimit:    20,
		DirectionSeed:       1,
	}
}

// ManualAction identifies which override short-circuited a tick.
type ManualAction string

const (
	ManualNone       ManualAction = ""
	ManualCloseAll   ManualAction = "close_all"
	ManualTakeProfit ManualAction = "take_profit"
)

// TickResult is the structured outcome of one tick. Ticks never panic or
// return a bare error: partial failures land in Diagnostics with Success
// cleared only when the tick had to abort.
type TickResult struct {
	Success        bool                `json:"success"`
	Closed         int                 `json:"closed"`
	Opened         int                 `json:"opened"`
	SkippedOrders  int                 `json:"skipped_orders"`
	Mode           string              `json:"mode"`
	ModeConfidence float64             `json:"mode_confidence"`
	Thermostat     ThermostatState     `json:"thermostat"`
	Stats          models.StatsSummary `json:"stats"`
	Halted         bool                `json:"halted"`
	ManualAction   ManualAction        `json:"manual_action,omitempty"`
	Diagnostics    []string            `json:"diagnostics,omitempty"`
}

func (r *TickResult) diag(format string, args ...interface{}) {
	r.Diagnostics = append(r.Diagnostics, fmt.Sprintf(format, args...))
}

// Engine is the per-tick decision orchestrator. One Engine owns one paper
// account; Tick serializes itself, so callers may invoke it from a timer
// without extra locking.
type Engine struct {
	config     EngineConfig
	store      store.Store
	sessions   *SessionController
	classifier *RegimeClassifier
	riskEval   *PositionRiskEvaluator
	scorer     *CandidateScorer
	generator  *OrderGenerator
	guard      *ExecutionGuard
	dailyGuard *risk.DailyGuard
	clock      Clock
	logger     *zap.Logger

	tickMu sync.Mutex
}

// NewEngine wires the orchestrator. dailyGuard is required; pass one built
// with a nil redis client for pure in-process operation.
func NewEngine(
	config EngineConfig,
	st store.Store,
	sessions *SessionController,
	classifier *RegimeClassifier,
	executionGuard *ExecutionGuard,
	dailyGuard *risk.DailyGuard,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:     config,
		store:      st,
		sessions:   sessions,
		classifier: classifier,
		riskEval:   NewPositionRiskEvaluator(),
		scorer:     NewCandidateScorer(NewRandDirectionSource(config.DirectionSeed)),
		generator:  NewOrderGenerator(),
		guard:      executionGuard,
		dailyGuard: dailyGuard,
		clock:      clock,
		logger:     logger,
	}
}

// SetDirectionSource swaps the fallback direction source. Tests use this to
// pin neutral-regime decisions.
func (e *Engine) SetDirectionSource(src DirectionSource) {
	e.scorer = NewCandidateScorer(src)
}

// Sessions exposes the session controller for the calling surface.
func (e *Engine) Sessions() *SessionController {
	return e.sessions
}

// Tick runs one full decision cycle. Manual overrides are checked first and
// short-circuit everything else; no scoring or order generation may run
// after an override is detected in the same tick.
func (e *Engine) Tick(ctx context.Context, market models.MarketData) TickResult {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	// Clock read once per tick; every later step shares it.
	now := e.clock.Now()
	day := store.DayKey(now)

	result := TickResult{Success: true}

	// Manual overrides preempt everything. Close-all wins when both are
	// raised in the same cycle.
	closeAll, takeProfit := e.sessions.ConsumeManualFlags()
	if closeAll {
		return e.manualClose(ctx, market, now, day, ManualCloseAll)
	}
	if takeProfit {
		return e.manualClose(ctx, market, now, day, ManualTakeProfit)
	}

	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		result.Success = false
		result.diag("failed to load positions: %v", err)
		return result
	}

	// Mark-to-market runs regardless of session status.
	e.markToMarket(ctx, positions, market, now, &result)

	equity, err := e.store.Equity(ctx)
	if err != nil {
		result.Success = false
		result.diag("failed to read equity: %v", err)
		return result
	}

	daily, err := e.ensureDailyStats(ctx, day, equity)
	if err != nil {
		result.Success = false
		result.diag("failed to load daily stats: %v", err)
		return result
	}

	todayPnL := equity.Sub(daily.StartingEquity)
	todayPnLPct := pnlPercent(todayPnL, daily.StartingEquity)

	if err := e.dailyGuard.MirrorLoss(ctx, day, todayPnLPct); err != nil {
		result.diag("daily guard mirror: %v", err)
	}

	// Halt check: a breach, or a mirrored halt surviving a restart, closes
	// everything and parks the session for the day.
	mirroredHalt, err := e.dailyGuard.IsHalted(ctx, day)
	if err != nil {
		result.diag("daily guard read: %v", err)
	}
	if e.sessions.Snapshot().DailyHalt || mirroredHalt || e.dailyGuard.Breached(todayPnLPct) {
		return e.riskHalt(ctx, positions, market, now, day, todayPnLPct, &result)
	}

	recent, err := e.store.RecentTrades(ctx, e.config.RecentTradeLimit)
	if err != nil {
		result.diag("failed to load recent trades: %v", err)
	}
	thermo := ComputeThermostat(recent, todayPnLPct)
	result.Thermostat = thermo

	regimes := e.classifier.ClassifyAll(market, now)

	// Effective-mode resolution.
	activeKey := e.sessions.ApplyPendingMode()
	if activeKey == "" {
		activeKey = e.config.DefaultMode
	}
	profile, modeConfidence, err := e.resolveProfile(activeKey, regimes, market.SessionQuality, thermo, recent)
	if err != nil {
		result.Success = false
		result.diag("mode resolution: %v", err)
		return result
	}
	result.Mode = profile.Key
	result.ModeConfidence = modeConfidence

	// Position risk evaluation: exits fire regardless of status, including
	// while holding.
	exits := e.riskEval.Evaluate(positions, market, regimes, thermo, now)
	if len(exits) > 0 {
		trades := make([]models.Trade, 0, len(exits))
		for _, exit := range exits {
			trades = append(trades, e.tradeFromExit(exit, now))
		}
		if err := e.store.CloseBatch(ctx, trades); err != nil {
			// A half-applied exit batch would leave state inconsistent, so
			// the rest of the tick is abandoned.
			result.Success = false
			result.diag("failed to persist exits: %v", err)
			return result
		}
		result.Closed = len(trades)
		for _, exit := range exits {
			e.logger.Info("position closed",
				zap.String("position_id", exit.Position.ID),
				zap.String("symbol", exit.Position.Symbol),
				zap.String("reason", string(exit.Reason)))
		}
	}

	// Fresh status read immediately before entry generation: a manual
	// command racing in during this cycle must win.
	session := e.sessions.Snapshot()
	if session.CloseAllRequested || session.TakeProfitRequested {
		e.finishTick(ctx, &result, day, now)
		return result
	}
	if !session.AllowsEntries() || market.Paused {
		e.finishTick(ctx, &result, day, now)
		return result
	}

	// The burst flag is consumed only once entries are actually possible, so
	// a burst raised while holding or paused survives to the next eligible
	// tick instead of being swallowed.
	if e.sessions.ConsumeBurstFlag() {
		profile, _ = ProfileByKey(ModeBurst)
		modeConfidence = 1.0
		result.Mode = profile.Key
		result.ModeConfidence = modeConfidence
	}

	// Slot accounting.
	openCount := len(positions) - result.Closed
	openBySymbol := e.countBySymbol(positions, exits)
	slots := profile.MaxConcurrentTotal - openCount
	if globalSlots := e.config.MaxConcurrentTrades - openCount; globalSlots < slots {
		slots = globalSlots
	}

	candidates := e.scorer.Rank(profile, market, regimes, thermo, openBySymbol)
	orders := e.generator.Generate(profile, candidates, thermo, market, equity, slots)

	for _, order := range orders {
		pos, err := e.guard.Execute(ctx, order, now)
		if err != nil {
			result.SkippedOrders++
			result.diag("order rejected: %v", err)
			e.appendEvent(ctx, models.EventWarn, "execution", err.Error(), now)
			continue
		}
		if err := e.store.InsertPosition(ctx, pos); err != nil {
			// Individual insert failures do not abort the batch.
			result.SkippedOrders++
			result.diag("failed to persist position %s: %v", pos.ID, err)
			continue
		}
		result.Opened++
		e.logger.Info("position opened",
			zap.String("position_id", pos.ID),
			zap.String("symbol", pos.Symbol),
			zap.String("side", string(pos.Side)),
			zap.String("mode", pos.Mode),
			zap.String("size", pos.Size.String()))
	}

	e.finishTick(ctx, &result, day, now)
	return result
}

// manualClose is the short-circuit path for take-profit and close-all.
// It fetches every open position unconditionally, closes them atomically,
// and returns without touching any strategy logic.
func (e *Engine) manualClose(ctx context.Context, market models.MarketData, now time.Time, day string, action ManualAction) TickResult {
	result := TickResult{Success: true, ManualAction: action}

	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		result.Success = false
		result.diag("failed to load positions: %v", err)
		return result
	}

	reason := models.ReasonManualTakeProfit
	if action == ManualCloseAll {
		reason = models.ReasonManualCloseAll
	}

	trades := make([]models.Trade, 0, len(positions))
	for _, pos := range positions {
		exitPrice := e.exitPriceFor(pos, market)
		trades = append(trades, models.Trade{
			ID:          uuid.NewString(),
			PositionID:  pos.ID,
			Symbol:      pos.Symbol,
			Mode:        pos.Mode,
			Side:        pos.Side,
			Size:        pos.Size,
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   exitPrice,
			RealizedPnL: pos.PnLAt(exitPrice),
			Reason:      reason,
			BatchID:     pos.BatchID,
			OpenedAt:    pos.OpenedAt,
			ClosedAt:    now,
		})
	}

	if err := e.store.CloseBatch(ctx, trades); err != nil {
		// The override must not claim success when any required write failed.
		result.Success = false
		result.diag("manual close failed: %v", err)
		return result
	}
	result.Closed = len(trades)

	if action == ManualCloseAll {
		e.sessions.ForceIdle(true)
	}

	e.appendEvent(ctx, models.EventInfo, "manual",
		fmt.Sprintf("%s closed %d positions", action, len(trades)), now)
	e.finishTick(ctx, &result, day, now)
	return result
}

// riskHalt force-closes everything, raises the halt flag, and idles the
// session for the rest of the day.
func (e *Engine) riskHalt(ctx context.Context, positions []models.Position, market models.MarketData, now time.Time, day string, todayPnLPct float64, result *TickResult) TickResult {
	result.Halted = true

	trades := make([]models.Trade, 0, len(positions))
	for _, pos := range positions {
		exitPrice := e.exitPriceFor(pos, market)
		trades = append(trades, models.Trade{
			ID:          uuid.NewString(),
			PositionID:  pos.ID,
			Symbol:      pos.Symbol,
			Mode:        pos.Mode,
			Side:        pos.Side,
			Size:        pos.Size,
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   exitPrice,
			RealizedPnL: pos.PnLAt(exitPrice),
			Reason:      models.ReasonRiskHalt,
			BatchID:     pos.BatchID,
			OpenedAt:    pos.OpenedAt,
			ClosedAt:    now,
		})
	}

	if err := e.store.CloseBatch(ctx, trades); err != nil {
		// Session-critical write: abort rather than leave a half-halted day.
		result.Success = false
		result.diag("risk halt close failed: %v", err)
		return *result
	}
	result.Closed += len(trades)

	e.sessions.SetDailyHalt()
	e.sessions.ForceIdle(true)
	if err := e.dailyGuard.SetHalted(ctx, day); err != nil {
		result.diag("failed to mirror halt: %v", err)
	}

	e.appendEvent(ctx, models.EventError, "risk",
		fmt.Sprintf("daily loss halt at %.2f%%, closed %d positions", todayPnLPct, len(trades)), now)
	e.logger.Warn("daily loss halt",
		zap.Float64("today_pnl_percent", todayPnLPct),
		zap.Int("closed", len(trades)))

	e.finishTick(ctx, result, day, now)
	return *result
}

// markToMarket refreshes unrealized P&L and the trailing high-water mark for
// every position with a live snapshot. Update failures are soft.
func (e *Engine) markToMarket(ctx context.Context, positions []models.Position, market models.MarketData, now time.Time, result *TickResult) {
	for i := range positions {
		pos := &positions[i]
		snap, ok := market.Snapshot(pos.Symbol)
		if !ok {
			continue
		}
		price := pos.MarkPrice(snap)
		pos.UnrealizedPnL = pos.PnLAt(price)
		if pct := pos.PnLPercentAt(price); pct > pos.MaxPnLPercent {
			pos.MaxPnLPercent = pct
		}
		pos.UpdatedAt = now

		if err := e.store.UpdatePosition(ctx, *pos); err != nil {
			result.diag("mark-to-market %s: %v", pos.ID, err)
		}
	}
}

// resolveProfile maps the active mode key to a concrete profile, running
// the adaptive meta selection when needed.
func (e *Engine) resolveProfile(activeKey string, regimes map[string]models.RegimeSnapshot, sessionQuality float64, thermo ThermostatState, recent []models.Trade) (ModeProfile, float64, error) {
	profile, err := ProfileByKey(activeKey)
	if err != nil {
		return ModeProfile{}, 0, err
	}
	if profile.Key != ModeAdaptive {
		return profile, 1.0, nil
	}
	winner, confidence := ResolveAdaptive(aggregateRegime(regimes), sessionQuality, thermo, recent)
	return winner, confidence, nil
}

// aggregateRegime condenses per-symbol regimes into one market-wide view by
// majority vote, used only by the adaptive meta selection. Deterministic.
func aggregateRegime(regimes map[string]models.RegimeSnapshot) models.RegimeSnapshot {
	out := models.RegimeSnapshot{
		Bias:       models.BiasNeutral,
		Structure:  models.StructureRanging,
		Volatility: models.VolatilityNormal,
	}
	if len(regimes) == 0 {
		return out
	}

	trending, highVol, lowVol := 0, 0, 0
	confidence := 0.0
	for _, r := range regimes {
		if r.Structure == models.StructureTrending {
			trending++
		}
		switch r.Volatility {
		case models.VolatilityHigh:
			highVol++
		case models.VolatilityLow:
			lowVol++
		}
		confidence += r.Confidence
	}

	n := len(regimes)
	if trending*2 > n {
		out.Structure = models.StructureTrending
	}
	if highVol*2 > n {
		out.Volatility = models.VolatilityHigh
	} else if lowVol*2 > n {
		out.Volatility = models.VolatilityLow
	}
	out.Confidence = confidence / float64(n)
	return out
}

func (e *Engine) tradeFromExit(exit PositionExit, now time.Time) models.Trade {
	pos := exit.Position
	return models.Trade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Mode:        pos.Mode,
		Side:        pos.Side,
		Size:        pos.Size,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit.ExitPrice,
		RealizedPnL: pos.PnLAt(exit.ExitPrice),
		Reason:      exit.Reason,
		BatchID:     pos.BatchID,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
	}
}

// exitPriceFor prices a close at current market, falling back to the
// last-known mark when the feed has no snapshot for the symbol.
func (e *Engine) exitPriceFor(pos models.Position, market models.MarketData) decimal.Decimal {
	if snap, ok := market.Snapshot(pos.Symbol); ok {
		return pos.MarkPrice(snap)
	}
	if pos.Size.IsZero() {
		return pos.EntryPrice
	}
	// Reconstruct the mark that produced the stored unrealized P&L.
	perUnit := pos.UnrealizedPnL.Div(pos.Size)
	if pos.Side == models.SideShort {
		perUnit = perUnit.Neg()
	}
	return pos.EntryPrice.Add(perUnit)
}

// countBySymbol counts open positions per symbol, excluding this tick's
// exits.
func (e *Engine) countBySymbol(positions []models.Position, exits []PositionExit) map[string]int {
	closing := make(map[string]bool, len(exits))
	for _, exit := range exits {
		closing[exit.Position.ID] = true
	}
	out := make(map[string]int)
	for _, pos := range positions {
		if closing[pos.ID] {
			continue
		}
		out[pos.Symbol]++
	}
	return out
}

// finishTick refreshes the daily-stats row and fills the stats summary.
// Failures here are diagnostic only; the tick's decisions already stand.
func (e *Engine) finishTick(ctx context.Context, result *TickResult, day string, now time.Time) {
	equity, err := e.store.Equity(ctx)
	if err != nil {
		result.diag("failed to read equity for summary: %v", err)
		return
	}

	daily, err := e.ensureDailyStats(ctx, day, equity)
	if err != nil {
		result.diag("failed to load daily stats for summary: %v", err)
		return
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	todayTrades, err := e.store.TradesSince(ctx, midnight)
	if err != nil {
		result.diag("failed to load today's trades: %v", err)
	}

	wins := 0
	for _, tr := range todayTrades {
		if tr.IsWin() {
			wins++
		}
	}
	winRate := 0.0
	if len(todayTrades) > 0 {
		winRate = float64(wins) / float64(len(todayTrades)) * 100
	}

	daily.EndingEquity = equity
	daily.TradeCount = len(todayTrades)
	daily.Wins = wins
	daily.WinRate = winRate
	if err := e.store.UpsertDailyStats(ctx, daily); err != nil {
		result.diag("failed to update daily stats: %v", err)
	}

	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		result.diag("failed to count open positions: %v", err)
	}

	unrealized := decimal.Zero
	for _, pos := range open {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}

	todayPnL := equity.Sub(daily.StartingEquity)
	result.Stats = models.StatsSummary{
		Equity:          equity.Add(unrealized),
		TodayPnL:        todayPnL,
		TodayPnLPercent: pnlPercent(todayPnL, daily.StartingEquity),
		WinRate:         winRate,
		TradeCount:      len(todayTrades),
		OpenPositions:   len(open),
	}
}

// ensureDailyStats loads today's row, creating it with the current equity
// as starting equity on the first tick of the day.
func (e *Engine) ensureDailyStats(ctx context.Context, day string, equity decimal.Decimal) (models.DailyStats, error) {
	daily, err := e.store.DailyStats(ctx, day)
	if err == nil {
		return daily, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.DailyStats{}, fmt.Errorf("failed to load daily stats: %w", err)
	}

	daily = models.DailyStats{
		Day:            day,
		StartingEquity: equity,
		EndingEquity:   equity,
	}
	if err := e.store.UpsertDailyStats(ctx, daily); err != nil {
		return models.DailyStats{}, fmt.Errorf("failed to create daily stats: %w", err)
	}
	return daily, nil
}

func (e *Engine) appendEvent(ctx context.Context, level models.EventLevel, source, message string, now time.Time) {
	event := models.EngineEvent{Level: level, Source: source, Message: message, CreatedAt: now}
	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.logger.Warn("failed to append engine event", zap.Error(err))
	}
}

func pnlPercent(pnl, base decimal.Decimal) float64 {
	if base.IsZero() {
		return 0
	}
	return pnl.Div(base).InexactFloat64() * 100
}
