package ledger

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/policy"
	"main/internal/store"
)

var (
	// ErrAlreadySettled rejects a second settlement of the same trade. The
	// scheduler's CAS guard makes this unreachable in normal operation; the
	// bridge still checks it as its own invariant.
	ErrAlreadySettled = errors.New("ledger: trade already settled")
	ErrNotSettling    = errors.New("ledger: trade is not in settling")
)

// Bridge applies a trade outcome to the balance and the audit trail as one
// transaction. Either the balance moves and a record exists, or neither.
type Bridge struct {
	store   store.Store
	metrics *obs.Metrics
}

func NewBridge(s store.Store) *Bridge {
	return &Bridge{store: s}
}

// WithMetrics attaches settlement counters. A nil metrics is a no-op.
func (b *Bridge) WithMetrics(m *obs.Metrics) *Bridge {
	b.metrics = m
	return b
}

// Settle commits one settlement. The trade must already be in settling. The
// stake was debited when the trade was created, so settlement credits
// stake + profit on a win and nothing on a loss; either way balance_after
// equals balance_before + amount.
func (b *Bridge) Settle(ctx context.Context, trade model.FlashTrade, decision policy.Decision, exitPrice decimal.Decimal, now time.Time) (model.Transaction, error) {
	var record model.Transaction
	begin := time.Now()

	err := b.store.Tx(ctx, func(s store.Store) error {
		current, err := s.Trade(ctx, trade.ID)
		if err != nil {
			return errors.Wrap(err, "read trade for settlement")
		}
		switch {
		case current.Status.IsTerminal():
			return ErrAlreadySettled
		case current.Status != enum.TradeStatusSettling:
			return ErrNotSettling
		}

		// zero on a loss: the stake is already gone
		payout := trade.Stake.Add(decision.Profit)

		before, after, err := s.CreditBalance(ctx, trade.UserID, payout)
		if err != nil {
			return errors.Wrap(err, "apply settlement to balance")
		}

		if err := s.FinalizeTrade(ctx, trade.ID, decision.Outcome, decision.Profit, exitPrice, now); err != nil {
			return err
		}

		txType := enum.TransactionFlashTradeLoss
		if decision.Outcome == enum.TradeOutcomeWin {
			txType = enum.TransactionFlashTradeWin
		}

		record = model.Transaction{
			ID:            uuid.NewString(),
			TradeID:       trade.ID,
			UserID:        trade.UserID,
			Type:          txType,
			Amount:        payout,
			BalanceBefore: before,
			BalanceAfter:  after,
			CreatedAt:     now,
		}
		// unique index on trade_id backs the duplicate guard at the schema level
		return s.CreateTransaction(ctx, &record)
	})
	if err != nil {
		if !stderrors.Is(err, ErrAlreadySettled) && !stderrors.Is(err, ErrNotSettling) {
			b.metrics.IncSettlementError()
		}
		return model.Transaction{}, err
	}

	b.metrics.ObserveSettlement(decision.Outcome, time.Since(begin))
	return record, nil
}
