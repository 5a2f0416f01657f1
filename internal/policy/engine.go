package policy

import (
	"context"
	"math/rand/v2"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store"
)

// Decision is the resolved outcome of one flash trade.
type Decision struct {
	Outcome enum.TradeOutcome
	// Profit is the signed user result: +stake*payout on a win, -stake on a loss.
	Profit decimal.Decimal
	// Degraded marks a decision made by the configured fallback because the
	// store could not be read. Every degraded decision is logged.
	Degraded bool
}

// Config tunes one policy engine instance. Payout and fallback are per-engine
// so different trade types can carry different terms.
type Config struct {
	// DefaultWinRate applies when neither the user nor the platform sets one.
	DefaultWinRate int
	// PayoutRate is the win profit as a fraction of the stake.
	PayoutRate decimal.Decimal
	// FallbackOutcome is used when user or platform settings cannot be read.
	FallbackOutcome enum.TradeOutcome
}

// Engine decides win or loss for expiring trades.
//
// Priority: per-user forced outcome, then the effective win rate (user
// override, platform setting, default) against a uniform draw in [1,100].
type Engine struct {
	users    store.UserStore
	settings store.SettingsStore
	cfg      Config

	// draw returns a uniform integer in [1,n]. Injected for tests.
	draw func(n int) int
}

func NewEngine(users store.UserStore, settings store.SettingsStore, cfg Config) *Engine {
	return &Engine{
		users:    users,
		settings: settings,
		cfg:      cfg,
		draw:     func(n int) int { return rand.IntN(n) + 1 },
	}
}

// Decide resolves the outcome for a trade. It never fails: when the store is
// unreachable it falls back to the configured outcome so the trade is not left
// unsettled.
func (e *Engine) Decide(ctx context.Context, trade model.FlashTrade) Decision {
	user, err := e.users.User(ctx, trade.UserID)
	if err != nil {
		logs.Errorf("policy degraded: read user %s failed, fallback to %s, err: %+v",
			trade.UserID, e.cfg.FallbackOutcome, err)
		return e.fallback(trade)
	}

	switch user.ForcedOutcome {
	case enum.ForcedOutcomeWin:
		return e.resolve(trade, enum.TradeOutcomeWin, false)
	case enum.ForcedOutcomeLoss:
		return e.resolve(trade, enum.TradeOutcomeLoss, false)
	}

	rate := e.cfg.DefaultWinRate
	if user.WinRateOverride != nil {
		rate = *user.WinRateOverride
	} else {
		platformRate, ok, err := e.settings.WinRate(ctx)
		if err != nil {
			logs.Errorf("policy degraded: read platform win rate failed, fallback to %s, err: %+v",
				e.cfg.FallbackOutcome, err)
			return e.fallback(trade)
		}
		if ok {
			rate = platformRate
		}
	}

	outcome := enum.TradeOutcomeLoss
	if rate > 0 && e.draw(100) <= rate {
		outcome = enum.TradeOutcomeWin
	}
	return e.resolve(trade, outcome, false)
}

// Pinned builds a decision with a fixed outcome, used by admin overrides.
func (e *Engine) Pinned(trade model.FlashTrade, outcome enum.TradeOutcome) Decision {
	return e.resolve(trade, outcome, false)
}

func (e *Engine) fallback(trade model.FlashTrade) Decision {
	return e.resolve(trade, e.cfg.FallbackOutcome, true)
}

func (e *Engine) resolve(trade model.FlashTrade, outcome enum.TradeOutcome, degraded bool) Decision {
	profit := trade.Stake.Neg()
	if outcome == enum.TradeOutcomeWin {
		profit = trade.Stake.Mul(e.cfg.PayoutRate)
	}
	return Decision{Outcome: outcome, Profit: profit, Degraded: degraded}
}
