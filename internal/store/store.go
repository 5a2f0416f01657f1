package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
)

var (
	ErrNotFound            = errors.New("store: record not found")
	ErrUnknownUser         = errors.New("store: unknown user")
	ErrInsufficientBalance = errors.New("store: insufficient balance")
)

// UserStore reads and mutates account balances.
type UserStore interface {
	User(ctx context.Context, id string) (model.User, error)
	// CreditBalance applies a signed delta under a row lock and returns the
	// balance before and after the mutation.
	CreditBalance(ctx context.Context, id string, delta decimal.Decimal) (before, after decimal.Decimal, err error)
	// ReserveStake debits the stake in a single guarded statement and fails
	// with ErrInsufficientBalance when the balance cannot cover it. The guard
	// is what keeps overlapping trades from wagering the same funds twice.
	ReserveStake(ctx context.Context, id string, stake decimal.Decimal) error
}

// TradeStore owns the persisted flash trade lifecycle.
type TradeStore interface {
	CreateTrade(ctx context.Context, trade *model.FlashTrade) error
	Trade(ctx context.Context, id string) (model.FlashTrade, error)
	// CASTradeStatus transitions status from -> to in a single statement and
	// reports whether this caller won the transition.
	CASTradeStatus(ctx context.Context, id string, from, to enum.TradeStatus) (bool, error)
	PendingTrades(ctx context.Context) ([]model.FlashTrade, error)
	PendingTradeCount(ctx context.Context, userID string) (int64, error)
	// FinalizeTrade records the outcome on a trade currently in settling.
	FinalizeTrade(ctx context.Context, id string, outcome enum.TradeOutcome, profit, exitPrice decimal.Decimal, settledAt time.Time) error
}

// TransactionStore writes the settlement audit trail.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, record *model.Transaction) error
	TransactionByTradeID(ctx context.Context, tradeID string) (model.Transaction, error)
}

// SymbolStore persists oracle price ticks.
type SymbolStore interface {
	Symbols(ctx context.Context) ([]model.TradeableSymbol, error)
	CreateSymbol(ctx context.Context, symbol *model.TradeableSymbol) error
	UpdateSymbolPrice(ctx context.Context, symbol string, price, change24h decimal.Decimal) error
}

// SettingsStore reads operator-tunable platform settings.
type SettingsStore interface {
	// WinRate returns the platform flash trade win rate and whether it is set.
	WinRate(ctx context.Context) (int, bool, error)
}

// Store is the full repository surface. Tx runs fn against a transactional
// view; every call inside fn commits or rolls back as one unit.
type Store interface {
	UserStore
	TradeStore
	TransactionStore
	SymbolStore
	SettingsStore

	Tx(ctx context.Context, fn func(Store) error) error
}

// Authenticator resolves a presented credential to a platform user id.
type Authenticator interface {
	Resolve(ctx context.Context, credential string) (string, error)
}
