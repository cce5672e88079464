package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/papertrade/internal/models"
)

// fakeClock returns a fixed, advanceable time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSessionController() *SessionController {
	clock := newFakeClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	return NewSessionController(ModeAdaptive, clock, zap.NewNop())
}

func TestSessionLifecycle(t *testing.T) {
	c := newTestSessionController()
	assert.Equal(t, models.SessionIdle, c.Snapshot().Status)

	require.NoError(t, c.Start())
	assert.Equal(t, models.SessionRunning, c.Snapshot().Status)
	assert.True(t, c.Snapshot().AllowsEntries())

	require.NoError(t, c.Pause())
	assert.Equal(t, models.SessionHolding, c.Snapshot().Status)
	assert.False(t, c.Snapshot().AllowsEntries())

	require.NoError(t, c.Start())
	assert.Equal(t, models.SessionRunning, c.Snapshot().Status)

	require.NoError(t, c.Stop())
	assert.Equal(t, models.SessionStopped, c.Snapshot().Status)

	// Stopped is terminal until the day reset.
	assert.Error(t, c.Start())
	c.ResetDay()
	require.NoError(t, c.Start())
}

func TestSessionInvalidTransitions(t *testing.T) {
	c := newTestSessionController()

	assert.Error(t, c.Pause())
	assert.Error(t, c.Stop())

	require.NoError(t, c.Start())
	require.NoError(t, c.Start(), "start while running is a no-op")
}

func TestSessionHaltBlocksStart(t *testing.T) {
	c := newTestSessionController()
	c.SetDailyHalt()

	assert.Error(t, c.Start())
	assert.False(t, c.Snapshot().AllowsEntries())

	// Setting running without clearing the halt must still refuse entries.
	c.ResetDay()
	require.NoError(t, c.Start())
	c.SetDailyHalt()
	assert.False(t, c.Snapshot().AllowsEntries())
}

func TestConsumeManualFlagsClearsAtomically(t *testing.T) {
	c := newTestSessionController()
	c.RequestCloseAll()
	c.RequestTakeProfit()

	closeAll, takeProfit := c.ConsumeManualFlags()
	assert.True(t, closeAll)
	assert.True(t, takeProfit)

	closeAll, takeProfit = c.ConsumeManualFlags()
	assert.False(t, closeAll)
	assert.False(t, takeProfit)
}

func TestConsumeBurstFlag(t *testing.T) {
	c := newTestSessionController()
	assert.False(t, c.ConsumeBurstFlag())

	c.RequestBurst()
	assert.True(t, c.ConsumeBurstFlag())
	assert.False(t, c.ConsumeBurstFlag())
}

func TestRequestModeValidatesAndDefers(t *testing.T) {
	c := newTestSessionController()

	assert.Error(t, c.RequestMode("bogus"))

	require.NoError(t, c.RequestMode(ModeTrend))
	assert.Equal(t, ModeAdaptive, c.Snapshot().ActiveMode, "switch deferred until applied")

	assert.Equal(t, ModeTrend, c.ApplyPendingMode())
	assert.Equal(t, ModeTrend, c.Snapshot().ActiveMode)
	assert.Empty(t, c.Snapshot().PendingMode)
}

func TestForceIdleClearsPendingMode(t *testing.T) {
	c := newTestSessionController()
	require.NoError(t, c.Start())
	require.NoError(t, c.RequestMode(ModeScalper))

	c.ForceIdle(true)
	snap := c.Snapshot()
	assert.Equal(t, models.SessionIdle, snap.Status)
	assert.Empty(t, snap.PendingMode)
}
