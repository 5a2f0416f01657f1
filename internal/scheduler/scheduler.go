package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/ledger"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/policy"
	"main/internal/protocol"
	"main/internal/store"
)

var (
	ErrInvalidDirection    = errors.New("scheduler: invalid trade direction")
	ErrInvalidDuration     = errors.New("scheduler: invalid trade duration")
	ErrInvalidStake        = errors.New("scheduler: stake must be positive")
	ErrInsufficientBalance = errors.New("scheduler: insufficient balance")
	ErrUnknownSymbol       = errors.New("scheduler: unknown symbol")
	ErrInvalidOutcome      = errors.New("scheduler: invalid forced outcome")
	// ErrSettlementNotApplied reports that a forced settlement changed
	// nothing: the trade was already settled, being settled, or the ledger
	// rejected the attempt.
	ErrSettlementNotApplied = errors.New("scheduler: settlement not applied")
)

// in-memory settlement gate per open trade
const (
	statePending uint32 = iota
	stateSettling
	stateDone
)

const (
	triggerTimer = "timer"
	triggerSweep = "sweep"
	triggerAdmin = "admin"
)

// Decider resolves the outcome of an expiring trade.
type Decider interface {
	Decide(ctx context.Context, trade model.FlashTrade) policy.Decision
	Pinned(trade model.FlashTrade, outcome enum.TradeOutcome) policy.Decision
}

// Settler commits a settlement atomically.
type Settler interface {
	Settle(ctx context.Context, trade model.FlashTrade, decision policy.Decision, exitPrice decimal.Decimal, now time.Time) (model.Transaction, error)
}

// PriceSource supplies entry and exit prices.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Notifier pushes settlement results to the owning user's connections.
type Notifier interface {
	SendToUser(userID string, v any)
}

// Config tunes the scheduler.
type Config struct {
	SweepInterval time.Duration
	// MaxSettleAttempts bounds ledger retries before a trade is parked in
	// settlement_failed for manual reconciliation.
	MaxSettleAttempts int
	// DefaultSymbol is used when a trade request names no symbol.
	DefaultSymbol string
	// MaxDurationSec caps the trade lifetime; 0 means uncapped.
	MaxDurationSec int
	// Metrics counts accepted trades; nil runs unmetered.
	Metrics *obs.Metrics
}

func (c *Config) init() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 3 * time.Second
	}
	if c.MaxSettleAttempts <= 0 {
		c.MaxSettleAttempts = 3
	}
	if c.DefaultSymbol == "" {
		c.DefaultSymbol = "BTCUSDT"
	}
}

// StartRequest is a validated-at-entry trade submission.
type StartRequest struct {
	TradeID   string
	Stake     decimal.Decimal
	Direction enum.TradeDirection
	Symbol    string
	// DurationSec is the trade lifetime in seconds.
	DurationSec int
}

type openTrade struct {
	trade model.FlashTrade
	state atomic.Uint32
	timer *time.Timer
}

// Scheduler owns every open flash trade from creation to settlement.
//
// Two triggers race toward settlement: the per-trade timer and the periodic
// sweep. Both converge on settleOnce, which is guarded twice: an in-memory
// CAS on the open-trade state, then a status CAS on the persisted row. The
// sweep is the correctness backstop for lost timers; the row CAS makes it
// safe even when the in-memory entry is gone.
type Scheduler struct {
	trades store.TradeStore
	users  store.UserStore
	policy Decider
	ledger Settler
	prices PriceSource
	notify Notifier
	cfg    Config

	now func() time.Time

	mu       sync.Mutex
	open     map[string]*openTrade
	attempts map[string]int
}

func New(trades store.TradeStore, users store.UserStore, decider Decider, settler Settler, prices PriceSource, notify Notifier, cfg Config) *Scheduler {
	cfg.init()
	return &Scheduler{
		trades:   trades,
		users:    users,
		policy:   decider,
		ledger:   settler,
		prices:   prices,
		notify:   notify,
		cfg:      cfg,
		now:      time.Now,
		open:     make(map[string]*openTrade),
		attempts: make(map[string]int),
	}
}

// Start validates and records a trade, captures the entry price, and arms the
// expiry timer.
func (s *Scheduler) Start(ctx context.Context, userID string, req StartRequest) (model.FlashTrade, error) {
	if !req.Direction.IsAvailable() {
		return model.FlashTrade{}, ErrInvalidDirection
	}
	if req.DurationSec <= 0 || (s.cfg.MaxDurationSec > 0 && req.DurationSec > s.cfg.MaxDurationSec) {
		return model.FlashTrade{}, ErrInvalidDuration
	}
	if req.Stake.Sign() <= 0 {
		return model.FlashTrade{}, ErrInvalidStake
	}

	if _, err := s.users.User(ctx, userID); err != nil {
		return model.FlashTrade{}, errors.Wrap(err, "read user for trade start")
	}

	symbol := req.Symbol
	if symbol == "" {
		symbol = s.cfg.DefaultSymbol
	}
	entry, ok := s.prices.Price(symbol)
	if !ok {
		return model.FlashTrade{}, ErrUnknownSymbol
	}

	id := req.TradeID
	if id == "" {
		id = uuid.NewString()
	}

	trade := model.FlashTrade{
		ID:          id,
		UserID:      userID,
		Stake:       req.Stake,
		Direction:   req.Direction,
		Symbol:      symbol,
		EntryPrice:  entry,
		DurationSec: req.DurationSec,
		Status:      enum.TradeStatusPending,
		CreatedAt:   s.now(),
	}

	// the guarded debit is the only admission gate on funds: overlapping
	// trades each take their stake out before the next one is checked
	if err := s.users.ReserveStake(ctx, userID, req.Stake); err != nil {
		if stderrors.Is(err, store.ErrInsufficientBalance) {
			return model.FlashTrade{}, ErrInsufficientBalance
		}
		return model.FlashTrade{}, errors.Wrap(err, "reserve stake")
	}

	if err := s.trades.CreateTrade(ctx, &trade); err != nil {
		if _, _, rerr := s.users.CreditBalance(ctx, userID, req.Stake); rerr != nil {
			logs.Errorf("scheduler: refund reserved stake for %s failed, err: %+v", userID, rerr)
		}
		return model.FlashTrade{}, err
	}

	s.track(trade)
	s.cfg.Metrics.IncTradeStarted()
	logs.Infof("trade %s started: user=%s stake=%s %s %ds entry=%s",
		trade.ID, userID, trade.Stake, trade.Direction, trade.DurationSec, entry)
	return trade, nil
}

// Resume re-arms timers for trades that were pending when the process last
// stopped. Overdue trades settle on the first timer fire.
func (s *Scheduler) Resume(ctx context.Context) error {
	pending, err := s.trades.PendingTrades(ctx)
	if err != nil {
		return errors.Wrap(err, "resume pending trades")
	}
	for _, trade := range pending {
		s.track(trade)
	}
	if len(pending) != 0 {
		logs.Infof("scheduler: resumed %d pending trades", len(pending))
	}
	return nil
}

// ForceSettle is the admin override: it settles a pending trade now with a
// pinned outcome, through the same exactly-once gate as the two triggers.
func (s *Scheduler) ForceSettle(ctx context.Context, tradeID string, outcome enum.TradeOutcome) error {
	if !outcome.IsAvailable() {
		return ErrInvalidOutcome
	}
	trade, err := s.trades.Trade(ctx, tradeID)
	if err != nil {
		return err
	}
	decision := s.policy.Pinned(trade, outcome)
	if !s.settleOnce(ctx, tradeID, triggerAdmin, &decision) {
		return ErrSettlementNotApplied
	}
	return nil
}

// Run drives the sweep until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep settles every pending trade whose deadline has passed. An error on
// one trade never stops the scan.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	pending, err := s.trades.PendingTrades(ctx)
	if err != nil {
		logs.Errorf("scheduler: sweep query failed, err: %+v", err)
		return
	}
	for _, trade := range pending {
		if trade.Expired(now) {
			s.settleOnce(ctx, trade.ID, triggerSweep, nil)
		}
	}
}

// OpenCount reports trades currently tracked in memory.
func (s *Scheduler) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *Scheduler) track(trade model.FlashTrade) {
	ot := &openTrade{trade: trade}

	delay := time.Until(trade.Deadline())
	if delay < 0 {
		delay = 0
	}
	ot.timer = time.AfterFunc(delay, func() {
		s.settleOnce(context.Background(), trade.ID, triggerTimer, nil)
	})

	s.mu.Lock()
	s.open[trade.ID] = ot
	s.mu.Unlock()
}

// settleOnce is the single settlement entry point for all triggers. It
// reports whether this call committed the settlement. Losers of either CAS
// return false silently; that is the expected resolution of the timer/sweep
// race, not an error.
func (s *Scheduler) settleOnce(ctx context.Context, tradeID, trigger string, pinned *policy.Decision) bool {
	s.mu.Lock()
	ot := s.open[tradeID]
	s.mu.Unlock()

	var trade model.FlashTrade
	if ot != nil {
		if !ot.state.CompareAndSwap(statePending, stateSettling) {
			return false
		}
		trade = ot.trade
	} else {
		// timer-loss path: the sweep found a row this process has no entry
		// for; the row CAS below is the only gate needed.
		loaded, err := s.trades.Trade(ctx, tradeID)
		if err != nil {
			logs.Errorf("scheduler: load trade %s for %s settlement failed, err: %+v", tradeID, trigger, err)
			return false
		}
		trade = loaded
	}

	won, err := s.trades.CASTradeStatus(ctx, tradeID, enum.TradeStatusPending, enum.TradeStatusSettling)
	if err != nil {
		logs.Errorf("scheduler: status cas for trade %s failed, retrying on next sweep, err: %+v", tradeID, err)
		if ot != nil {
			ot.state.Store(statePending)
		}
		return false
	}
	if !won {
		// another trigger holds or finished this trade
		s.finish(ot, tradeID)
		return false
	}

	var decision policy.Decision
	if pinned != nil {
		decision = *pinned
	} else {
		decision = s.policy.Decide(ctx, trade)
	}
	if decision.Degraded {
		logs.Errorf("scheduler: trade %s settled via degraded policy fallback (%s)", tradeID, decision.Outcome)
	}

	exitPrice, ok := s.prices.Price(trade.Symbol)
	if !ok {
		exitPrice = trade.EntryPrice
	}

	now := s.now()
	record, err := s.ledger.Settle(ctx, trade, decision, exitPrice, now)
	if err != nil {
		if stderrors.Is(err, ledger.ErrAlreadySettled) {
			s.finish(ot, tradeID)
			return false
		}
		s.revert(ctx, ot, tradeID, err)
		return false
	}

	s.finish(ot, tradeID)
	logs.Infof("trade %s settled by %s: %s profit=%s balance=%s",
		tradeID, trigger, decision.Outcome, decision.Profit, record.BalanceAfter)

	s.notify.SendToUser(trade.UserID, protocol.TradeResult{
		Type:      protocol.TypeTradeResult,
		TradeID:   tradeID,
		Result:    decision.Outcome,
		Profit:    decision.Profit,
		ExitPrice: exitPrice,
		EndTime:   now.UnixMilli(),
	})
	s.pushUserUpdate(ctx, trade.UserID)
	return true
}

// revert undoes the settling claim after a ledger failure so the trade stays
// visible to both triggers; after the attempt budget it parks the trade in
// settlement_failed. It is never left in settling.
func (s *Scheduler) revert(ctx context.Context, ot *openTrade, tradeID string, cause error) {
	s.mu.Lock()
	s.attempts[tradeID]++
	attempts := s.attempts[tradeID]
	s.mu.Unlock()

	if attempts >= s.cfg.MaxSettleAttempts {
		if _, err := s.trades.CASTradeStatus(ctx, tradeID, enum.TradeStatusSettling, enum.TradeStatusSettlementFailed); err != nil {
			logs.Errorf("scheduler: park trade %s as settlement_failed failed, err: %+v", tradeID, err)
		}
		logs.Errorf("scheduler: trade %s failed settlement %d times, parked for manual reconciliation, last err: %+v",
			tradeID, attempts, cause)
		s.finish(ot, tradeID)
		return
	}

	if _, err := s.trades.CASTradeStatus(ctx, tradeID, enum.TradeStatusSettling, enum.TradeStatusPending); err != nil {
		logs.Errorf("scheduler: revert trade %s to pending failed, err: %+v", tradeID, err)
	}
	if ot != nil {
		ot.state.Store(statePending)
	}
	logs.Errorf("scheduler: settlement attempt %d for trade %s failed, reverted to pending, err: %+v",
		attempts, tradeID, cause)
}

func (s *Scheduler) finish(ot *openTrade, tradeID string) {
	if ot != nil {
		ot.state.Store(stateDone)
		if ot.timer != nil {
			ot.timer.Stop()
		}
	}
	s.mu.Lock()
	delete(s.open, tradeID)
	delete(s.attempts, tradeID)
	s.mu.Unlock()
}

func (s *Scheduler) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ot := range s.open {
		if ot.timer != nil {
			ot.timer.Stop()
		}
	}
}

func (s *Scheduler) pushUserUpdate(ctx context.Context, userID string) {
	user, err := s.users.User(ctx, userID)
	if err != nil {
		logs.Errorf("scheduler: user update for %s skipped, err: %+v", userID, err)
		return
	}
	active, err := s.trades.PendingTradeCount(ctx, userID)
	if err != nil {
		logs.Errorf("scheduler: pending count for %s failed, err: %+v", userID, err)
	}
	s.notify.SendToUser(userID, protocol.UserUpdate{
		Type:              protocol.TypeUserUpdate,
		Balance:           user.Balance,
		ActiveFlashTrades: active,
	})
}
