package stops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdnx/smartbot/position"
	"github.com/evdnx/smartbot/risk"
	"github.com/evdnx/smartbot/testutils"
	"github.com/evdnx/smartbot/types"
)

type fixture struct {
	tracker  *position.Tracker
	exec     *testutils.MockExecutor
	log      *testutils.MockLogger
	trailing *TrailingStopManager
	be       *BreakevenManager
}

func newFixture(t *testing.T, enabled bool) fixture {
	t.Helper()
	log := testutils.NewMockLogger()
	tracker := position.NewTracker(0, log)
	exec := testutils.NewMockExecutor()
	rm := risk.NewManager(risk.Config{RiskPercent: 1, MinOrderSize: 0.001, TrailStepPercent: 0.5}, log)
	return fixture{
		tracker:  tracker,
		exec:     exec,
		log:      log,
		trailing: NewTrailingStopManager(TrailingConfig{Enabled: enabled, StartPercent: 1}, tracker, rm, exec, log),
		be:       NewBreakevenManager(BreakevenConfig{TriggerPercent: 0.5, CommissionPercent: 0.1}, tracker, exec, log),
	}
}

func (f fixture) open(t *testing.T, id string, side types.Side, entry, stop float64) {
	t.Helper()
	require.NoError(t, f.tracker.Add(position.Position{
		ID: id, Symbol: "BTCUSDT", Side: side, EntryPrice: entry, Size: 1, StopLoss: stop,
	}))
}

func (f fixture) stop(id string) float64 {
	p, _ := f.tracker.Get(id)
	return p.StopLoss
}

func TestTrailingBuyStopNeverDecreasesOnRisingPath(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)
	ctx := context.Background()

	prev := f.stop("long")
	moved := 0
	for price := 100.0; price <= 120; price += 0.25 {
		ok, err := f.trailing.UpdatePositionStop(ctx, "long", price)
		require.NoError(t, err)
		if ok {
			moved++
		}
		cur := f.stop("long")
		if cur < prev {
			t.Fatalf("stop decreased at price %v: %v -> %v", price, prev, cur)
		}
		prev = cur
	}
	assert.Greater(t, moved, 1)
	assert.True(t, f.trailing.Status("long"))
	assert.InDelta(t, 119.4, f.stop("long"), 0.01)
	exStop, ok := f.exec.Stop("long")
	require.True(t, ok)
	assert.Equal(t, f.stop("long"), exStop)
}

func TestTrailingSellStopNeverIncreasesOnFallingPath(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "short", types.Sell, 100, 105)
	ctx := context.Background()

	prev := f.stop("short")
	for price := 100.0; price >= 80; price -= 0.25 {
		_, err := f.trailing.UpdatePositionStop(ctx, "short", price)
		require.NoError(t, err)
		cur := f.stop("short")
		if cur > prev {
			t.Fatalf("stop increased at price %v: %v -> %v", price, prev, cur)
		}
		prev = cur
	}
	assert.InDelta(t, 80.4, f.stop("short"), 0.01)
}

func TestTrailingTrendReversalDoesNotLoosen(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)
	ctx := context.Background()

	_, err := f.trailing.UpdatePositionStop(ctx, "long", 110)
	require.NoError(t, err)
	high := f.stop("long")

	ok, err := f.trailing.UpdatePositionStop(ctx, "long", 105)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, high, f.stop("long"))
	assert.True(t, f.trailing.Status("long"), "activation is one-way")
}

func TestTrailingInactiveBelowThreshold(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)

	active, err := f.trailing.ShouldActivate("long", 100.5)
	require.NoError(t, err)
	assert.False(t, active)

	ok, err := f.trailing.UpdatePositionStop(context.Background(), "long", 100.5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 95.0, f.stop("long"))
	assert.Empty(t, f.trailing.ActivePositions())
}

func TestTrailingDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.open(t, "long", types.Buy, 100, 95)
	ok, err := f.trailing.UpdatePositionStop(context.Background(), "long", 150)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, f.exec.StopCalls())
}

func TestTrailingUnknownPosition(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.trailing.UpdatePositionStop(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, position.ErrNotFound)
}

func TestTrailingExchangeFailureKeepsLocalStop(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)
	f.exec.SetStopResult(false, nil)

	ok, err := f.trailing.UpdatePositionStop(context.Background(), "long", 110)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrExchangeUpdate)
	assert.InDelta(t, 109.45, f.stop("long"), 0.01)
	assert.True(t, f.log.HasMessage("error", "stop_update_refused"))

	boom := errors.New("timeout")
	f.exec.SetStopResult(false, boom)
	_, err = f.trailing.UpdatePositionStop(context.Background(), "long", 115)
	assert.ErrorIs(t, err, ErrExchangeUpdate)
	assert.ErrorIs(t, err, boom)
}

func TestTrailingReset(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)
	_, err := f.trailing.ShouldActivate("long", 102)
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, f.trailing.ActivePositions())

	require.NoError(t, f.trailing.Reset("long"))
	assert.False(t, f.trailing.Status("long"))
	assert.ErrorIs(t, f.trailing.Reset("ghost"), position.ErrNotFound)
}

func TestBreakevenTriggersExactlyOnce(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)

	fire, err := f.be.ShouldMoveToBreakeven("long", 100.2)
	require.NoError(t, err)
	assert.False(t, fire)

	fire, err = f.be.ShouldMoveToBreakeven("long", 100.6)
	require.NoError(t, err)
	assert.True(t, fire)

	for _, price := range []float64{100.6, 101, 105} {
		fire, err = f.be.ShouldMoveToBreakeven("long", price)
		require.NoError(t, err)
		assert.False(t, fire)
	}

	require.NoError(t, f.be.Reset("long"))
	fire, err = f.be.ShouldMoveToBreakeven("long", 101)
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestBreakevenDisabledWithZeroTrigger(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)
	be := NewBreakevenManager(BreakevenConfig{}, f.tracker, nil, nil)
	fire, err := be.ShouldMoveToBreakeven("long", 200)
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestBreakevenPriceIsSideAware(t *testing.T) {
	f := newFixture(t, true)
	p, err := f.be.BreakevenPrice(50_000, types.Buy)
	require.NoError(t, err)
	assert.Equal(t, 50_050.0, p)

	p, err = f.be.BreakevenPrice(50_000, types.Sell)
	require.NoError(t, err)
	assert.Equal(t, 49_950.0, p)

	_, err = f.be.BreakevenPrice(50_000, "")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestMoveToBreakeven(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 95)
	f.open(t, "short", types.Sell, 100, 105)
	ctx := context.Background()

	moved, err := f.be.MoveToBreakeven(ctx, "long", 101)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 100.1, f.stop("long"))

	moved, err = f.be.MoveToBreakeven(ctx, "short", 99)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 99.9, f.stop("short"))

	moved, err = f.be.MoveToBreakeven(ctx, "long", 102)
	require.NoError(t, err)
	assert.False(t, moved, "second move must not fire")
}

func TestMoveToBreakevenSkipsWhenStopAlreadyTighter(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, "long", types.Buy, 100, 100.5)

	moved, err := f.be.MoveToBreakeven(context.Background(), "long", 101)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, 100.5, f.stop("long"))
	assert.True(t, f.tracker.BreakevenSet("long"))
}
