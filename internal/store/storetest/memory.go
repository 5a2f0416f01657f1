// Package storetest provides an in-memory store.Store for package tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store"
)

var _ store.Store = (*Memory)(nil)

// Memory is a mutex-guarded store.Store with per-call failure hooks. Tx takes
// a state snapshot and restores it when fn fails, so transactional tests see
// real rollback behavior.
type Memory struct {
	mu sync.Mutex

	users        map[string]model.User
	trades       map[string]model.FlashTrade
	transactions map[string]model.Transaction // keyed by trade id
	symbols      map[string]model.TradeableSymbol

	winRate    int
	winRateSet bool

	// failure hooks
	UserErr     error
	WinRateErr  error
	CreditErr   error
	FinalizeErr error
	TradeErr    error
	PendingErr  error
	SymbolErr   error
	ReserveErr  error
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]model.User),
		trades:       make(map[string]model.FlashTrade),
		transactions: make(map[string]model.Transaction),
		symbols:      make(map[string]model.TradeableSymbol),
	}
}

// PutUser seeds or replaces a user row.
func (m *Memory) PutUser(user model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// PutTrade seeds or replaces a trade row.
func (m *Memory) PutTrade(trade model.FlashTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[trade.ID] = trade
}

// PutSymbol seeds or replaces a symbol row.
func (m *Memory) PutSymbol(symbol model.TradeableSymbol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[symbol.Symbol] = symbol
}

// SetWinRate sets the platform win rate setting.
func (m *Memory) SetWinRate(rate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.winRate = rate
	m.winRateSet = true
}

// TransactionCount reports how many settlement records exist.
func (m *Memory) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *Memory) User(ctx context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UserErr != nil {
		return model.User{}, m.UserErr
	}
	user, ok := m.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *Memory) CreditBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreditErr != nil {
		return decimal.Zero, decimal.Zero, m.CreditErr
	}
	user, ok := m.users[id]
	if !ok {
		return decimal.Zero, decimal.Zero, store.ErrNotFound
	}
	before := user.Balance
	user.Balance = before.Add(delta)
	m.users[id] = user
	return before, user.Balance, nil
}

func (m *Memory) ReserveStake(ctx context.Context, id string, stake decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReserveErr != nil {
		return m.ReserveErr
	}
	user, ok := m.users[id]
	if !ok || user.Balance.Cmp(stake) < 0 {
		return store.ErrInsufficientBalance
	}
	user.Balance = user.Balance.Sub(stake)
	m.users[id] = user
	return nil
}

func (m *Memory) CreateTrade(ctx context.Context, trade *model.FlashTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[trade.ID]; ok {
		return errors.Errorf("duplicate trade id %s", trade.ID)
	}
	m.trades[trade.ID] = *trade
	return nil
}

func (m *Memory) Trade(ctx context.Context, id string) (model.FlashTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TradeErr != nil {
		return model.FlashTrade{}, m.TradeErr
	}
	trade, ok := m.trades[id]
	if !ok {
		return model.FlashTrade{}, store.ErrNotFound
	}
	return trade, nil
}

func (m *Memory) CASTradeStatus(ctx context.Context, id string, from, to enum.TradeStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.trades[id]
	if !ok || trade.Status != from {
		return false, nil
	}
	trade.Status = to
	m.trades[id] = trade
	return true, nil
}

func (m *Memory) PendingTrades(ctx context.Context) ([]model.FlashTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PendingErr != nil {
		return nil, m.PendingErr
	}
	var out []model.FlashTrade
	for _, trade := range m.trades {
		if trade.Status == enum.TradeStatusPending {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (m *Memory) PendingTradeCount(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, trade := range m.trades {
		if trade.UserID != userID {
			continue
		}
		if trade.Status == enum.TradeStatusPending || trade.Status == enum.TradeStatusSettling {
			count++
		}
	}
	return count, nil
}

func (m *Memory) FinalizeTrade(ctx context.Context, id string, outcome enum.TradeOutcome, profit, exitPrice decimal.Decimal, settledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FinalizeErr != nil {
		return m.FinalizeErr
	}
	trade, ok := m.trades[id]
	if !ok || trade.Status != enum.TradeStatusSettling {
		return errors.Errorf("finalize trade %s: not in settling", id)
	}
	trade.Status = enum.TradeStatusSettled
	trade.Outcome = outcome
	trade.Profit = profit
	trade.ExitPrice = exitPrice
	trade.SettledAt = &settledAt
	m.trades[id] = trade
	return nil
}

func (m *Memory) CreateTransaction(ctx context.Context, record *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[record.TradeID]; ok {
		return errors.Errorf("duplicate transaction for trade %s", record.TradeID)
	}
	m.transactions[record.TradeID] = *record
	return nil
}

func (m *Memory) TransactionByTradeID(ctx context.Context, tradeID string) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.transactions[tradeID]
	if !ok {
		return model.Transaction{}, store.ErrNotFound
	}
	return record, nil
}

func (m *Memory) Symbols(ctx context.Context) ([]model.TradeableSymbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TradeableSymbol
	for _, symbol := range m.symbols {
		out = append(out, symbol)
	}
	return out, nil
}

func (m *Memory) CreateSymbol(ctx context.Context, symbol *model.TradeableSymbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[symbol.Symbol] = *symbol
	return nil
}

func (m *Memory) UpdateSymbolPrice(ctx context.Context, symbol string, price, change24h decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SymbolErr != nil {
		return m.SymbolErr
	}
	row, ok := m.symbols[symbol]
	if !ok {
		return store.ErrNotFound
	}
	row.Price = price
	row.Change24h = change24h
	row.UpdatedAt = time.Now()
	m.symbols[symbol] = row
	return nil
}

func (m *Memory) WinRate(ctx context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WinRateErr != nil {
		return 0, false, m.WinRateErr
	}
	return m.winRate, m.winRateSet, nil
}

// Tx snapshots state, runs fn against the same store, and restores the
// snapshot when fn fails.
func (m *Memory) Tx(ctx context.Context, fn func(store.Store) error) error {
	m.mu.Lock()
	users := copyMap(m.users)
	trades := copyMap(m.trades)
	transactions := copyMap(m.transactions)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.users = users
		m.trades = trades
		m.transactions = transactions
		m.mu.Unlock()
		return err
	}
	return nil
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
