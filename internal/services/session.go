package services

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quantfold/papertrade/internal/models"
)

// SessionController owns the per-account session state machine and
// arbitrates manual overrides against the automatic tick cycle. All
// transitions go through it; the engine reads a fresh snapshot immediately
// before generating orders.
//
// Transitions: idle -> running (start); running <-> holding (pause/start);
// running/holding -> stopped (stop); any -> idle via close-all or risk halt.
// Stopped is terminal until ResetDay.
type SessionController struct {
	mu     sync.Mutex
	state  models.SessionState
	clock  Clock
	logger *zap.Logger
}

// NewSessionController starts in the idle state with the default mode.
func NewSessionController(defaultMode string, clock Clock, logger *zap.Logger) *SessionController {
	return &SessionController{
		state: models.SessionState{
			Status:     models.SessionIdle,
			ActiveMode: defaultMode,
		},
		clock:  clock,
		logger: logger,
	}
}

// Start moves the session to running. Refused while the daily halt is in
// force or after a terminal stop.
func (c *SessionController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.DailyHalt {
		return fmt.Errorf("session halted for the day; reset required before start")
	}
	if c.state.Status == models.SessionStopped {
		return fmt.Errorf("session stopped; reset required before start")
	}
	if c.state.Status == models.SessionRunning {
		return nil
	}

	now := c.clock.Now()
	if c.state.Status == models.SessionIdle {
		c.state.StartedAt = now
	}
	c.state.Status = models.SessionRunning
	c.state.UpdatedAt = now
	c.logger.Info("session started", zap.String("mode", c.state.ActiveMode))
	return nil
}

// Pause moves a running session to holding. Reversible via Start.
func (c *SessionController) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != models.SessionRunning {
		return fmt.Errorf("cannot pause from %s", c.state.Status)
	}
	c.state.Status = models.SessionHolding
	c.state.UpdatedAt = c.clock.Now()
	c.logger.Info("session holding")
	return nil
}

// Stop is terminal for the day.
func (c *SessionController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == models.SessionIdle || c.state.Status == models.SessionStopped {
		return fmt.Errorf("cannot stop from %s", c.state.Status)
	}
	c.state.Status = models.SessionStopped
	c.state.UpdatedAt = c.clock.Now()
	c.logger.Info("session stopped")
	return nil
}

// RequestCloseAll flags a manual close-all for the next tick.
func (c *SessionController) RequestCloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.CloseAllRequested = true
	c.state.UpdatedAt = c.clock.Now()
}

// RequestTakeProfit flags a manual take-profit for the next tick.
func (c *SessionController) RequestTakeProfit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.TakeProfitRequested = true
	c.state.UpdatedAt = c.clock.Now()
}

// RequestBurst asks the engine to run a burst cluster on the next tick.
func (c *SessionController) RequestBurst() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.BurstRequested = true
	c.state.UpdatedAt = c.clock.Now()
}

// RequestMode queues a mode switch; applied at the top of the next tick.
func (c *SessionController) RequestMode(key string) error {
	if _, err := ProfileByKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PendingMode = key
	c.state.UpdatedAt = c.clock.Now()
	return nil
}

// ConsumeManualFlags atomically reads and clears the manual-override flags.
// The engine calls this first in every tick; close-all wins when both are
// raised.
func (c *SessionController) ConsumeManualFlags() (closeAll, takeProfit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	closeAll = c.state.CloseAllRequested
	takeProfit = c.state.TakeProfitRequested
	c.state.CloseAllRequested = false
	c.state.TakeProfitRequested = false
	return closeAll, takeProfit
}

// ConsumeBurstFlag reads and clears the burst request.
func (c *SessionController) ConsumeBurstFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	burst := c.state.BurstRequested
	c.state.BurstRequested = false
	return burst
}

// ApplyPendingMode promotes any queued mode switch and returns the active
// mode key.
func (c *SessionController) ApplyPendingMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PendingMode != "" {
		c.state.ActiveMode = c.state.PendingMode
		c.state.PendingMode = ""
		c.state.UpdatedAt = c.clock.Now()
	}
	return c.state.ActiveMode
}

// ForceIdle drops the session to idle, optionally clearing any pending
// automated-mode request. Used by close-all and the risk halt.
func (c *SessionController) ForceIdle(clearPendingMode bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Status = models.SessionIdle
	if clearPendingMode {
		c.state.PendingMode = ""
	}
	c.state.UpdatedAt = c.clock.Now()
}

// SetDailyHalt raises the halt flag for the remainder of the day.
func (c *SessionController) SetDailyHalt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.DailyHalt = true
	c.state.UpdatedAt = c.clock.Now()
	c.logger.Warn("daily halt engaged")
}

// ResetDay clears the halt and terminal-stop state, returning to idle.
// Called by the external day-boundary reset.
func (c *SessionController) ResetDay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.DailyHalt = false
	c.state.Status = models.SessionIdle
	c.state.CloseAllRequested = false
	c.state.TakeProfitRequested = false
	c.state.BurstRequested = false
	c.state.UpdatedAt = c.clock.Now()
	c.logger.Info("session day reset")
}

// Snapshot returns a copy of the current session state.
func (c *SessionController) Snapshot() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
