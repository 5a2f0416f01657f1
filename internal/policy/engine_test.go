package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store/storetest"
)

func newTestEngine(t *testing.T, st *storetest.Memory, fallback enum.TradeOutcome) *Engine {
	t.Helper()
	return NewEngine(st, st, Config{
		DefaultWinRate:  30,
		PayoutRate:      decimal.RequireFromString("0.95"),
		FallbackOutcome: fallback,
	})
}

func testTrade(userID string) model.FlashTrade {
	return model.FlashTrade{
		ID:     "trade-1",
		UserID: userID,
		Stake:  decimal.NewFromInt(100),
	}
}

func TestDecideWinRateHundredAlwaysWins(t *testing.T) {
	st := storetest.NewMemory()
	st.PutUser(model.User{ID: "u1", Balance: decimal.NewFromInt(1000)})
	st.SetWinRate(100)

	engine := newTestEngine(t, st, enum.TradeOutcomeWin)
	for draw := 1; draw <= 100; draw++ {
		engine.draw = func(int) int { return draw }
		decision := engine.Decide(t.Context(), testTrade("u1"))
		require.Equal(t, enum.TradeOutcomeWin, decision.Outcome, "draw %d", draw)
		require.False(t, decision.Degraded)
	}
}

func TestDecideWinRateZeroAlwaysLoses(t *testing.T) {
	st := storetest.NewMemory()
	st.PutUser(model.User{ID: "u1", Balance: decimal.NewFromInt(1000)})
	st.SetWinRate(0)

	engine := newTestEngine(t, st, enum.TradeOutcomeWin)
	for draw := 1; draw <= 100; draw++ {
		engine.draw = func(int) int { return draw }
		decision := engine.Decide(t.Context(), testTrade("u1"))
		require.Equal(t, enum.TradeOutcomeLoss, decision.Outcome, "draw %d", draw)
	}
}

func TestDecideForcedWinBeatsZeroRate(t *testing.T) {
	st := storetest.NewMemory()
	st.PutUser(model.User{ID: "u1", ForcedOutcome: enum.ForcedOutcomeWin})
	st.SetWinRate(0)

	engine := newTestEngine(t, st, enum.TradeOutcomeLoss)
	engine.draw = func(int) int { return 100 }

	decision := engine.Decide(t.Context(), testTrade("u1"))
	assert.Equal(t, enum.TradeOutcomeWin, decision.Outcome)
	assert.True(t, decision.Profit.Equal(decimal.NewFromInt(95)), decision.Profit.String())
}

func TestDecideForcedLoss(t *testing.T) {
	st := storetest.NewMemory()
	st.PutUser(model.User{ID: "u1", ForcedOutcome: enum.ForcedOutcomeLoss})
	st.SetWinRate(100)

	engine := newTestEngine(t, st, enum.TradeOutcomeWin)
	decision := engine.Decide(t.Context(), testTrade("u1"))
	assert.Equal(t, enum.TradeOutcomeLoss, decision.Outcome)
	assert.True(t, decision.Profit.Equal(decimal.NewFromInt(-100)), decision.Profit.String())
}

func TestDecideUserOverrideBeatsPlatformRate(t *testing.T) {
	override := 100
	st := storetest.NewMemory()
	st.PutUser(model.User{ID: "u1", WinRateOverride: &override})
	st.SetWinRate(0)

	engine := newTestEngine(t, st, enum.TradeOutcomeLoss)
	engine.draw = func(int) int { return 100 }

	decision := engine.Decide(t.Context(), testTrade("u1"))
	assert.Equal(t, enum.TradeOutcomeWin, decision.Outcome)
}

func TestDecideDefaultRateWhenUnset(t *testing.T) {
	st := storetest.NewMemory()
	st.PutUser(model.User{ID: "u1"})

	engine := newTestEngine(t, st, enum.TradeOutcomeLoss)

	engine.draw = func(int) int { return 30 }
	assert.Equal(t, enum.TradeOutcomeWin, engine.Decide(t.Context(), testTrade("u1")).Outcome)

	engine.draw = func(int) int { return 31 }
	assert.Equal(t, enum.TradeOutcomeLoss, engine.Decide(t.Context(), testTrade("u1")).Outcome)
}

func TestDecideFallbackOnUserLookupFailure(t *testing.T) {
	for _, fallback := range []enum.TradeOutcome{enum.TradeOutcomeWin, enum.TradeOutcomeLoss} {
		st := storetest.NewMemory()
		st.UserErr = errors.New("store down")

		engine := newTestEngine(t, st, fallback)
		decision := engine.Decide(t.Context(), testTrade("u1"))
		require.Equal(t, fallback, decision.Outcome)
		require.True(t, decision.Degraded)
	}
}

func TestDecideFallbackOnSettingsFailure(t *testing.T) {
	st := storetest.NewMemory()
	st.PutUser(model.User{ID: "u1"})
	st.WinRateErr = errors.New("settings down")

	engine := newTestEngine(t, st, enum.TradeOutcomeWin)
	decision := engine.Decide(t.Context(), testTrade("u1"))
	assert.Equal(t, enum.TradeOutcomeWin, decision.Outcome)
	assert.True(t, decision.Degraded)
	assert.True(t, decision.Profit.Equal(decimal.NewFromInt(95)), decision.Profit.String())
}

func TestPinnedDecision(t *testing.T) {
	st := storetest.NewMemory()
	engine := newTestEngine(t, st, enum.TradeOutcomeWin)

	win := engine.Pinned(testTrade("u1"), enum.TradeOutcomeWin)
	assert.Equal(t, enum.TradeOutcomeWin, win.Outcome)
	assert.True(t, win.Profit.Equal(decimal.NewFromInt(95)), win.Profit.String())
	assert.False(t, win.Degraded)

	loss := engine.Pinned(testTrade("u1"), enum.TradeOutcomeLoss)
	assert.True(t, loss.Profit.Equal(decimal.NewFromInt(-100)), loss.Profit.String())
}
