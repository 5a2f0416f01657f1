package store

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/model"
	"main/internal/model/enum"
)

var _ Store = (*Gorm)(nil)

// Gorm implements Store against PostgreSQL.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps a gorm handle as a Store.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Migrate creates or updates the engine tables.
func (g *Gorm) Migrate() error {
	return g.db.AutoMigrate(
		&model.User{},
		&model.FlashTrade{},
		&model.Transaction{},
		&model.TradeableSymbol{},
		&model.PlatformSetting{},
	)
}

func (g *Gorm) User(ctx context.Context, id string) (model.User, error) {
	var user model.User
	err := g.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, errors.Wrap(err, "query user")
	}
	return user, nil
}

func (g *Gorm) CreditBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	var before, after decimal.Decimal
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, "id = ?", id).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errors.Wrap(err, "lock user row")
		}

		before = user.Balance
		after = before.Add(delta)

		if err := tx.Model(&model.User{}).Where("id = ?", id).
			Update("balance", after).Error; err != nil {
			return errors.Wrap(err, "update balance")
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return before, after, nil
}

func (g *Gorm) ReserveStake(ctx context.Context, id string, stake decimal.Decimal) error {
	res := g.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND balance >= ?", id, stake).
		Update("balance", gorm.Expr("balance - ?", stake))
	if res.Error != nil {
		return errors.Wrap(res.Error, "reserve stake")
	}
	if res.RowsAffected != 1 {
		return ErrInsufficientBalance
	}
	return nil
}

func (g *Gorm) CreateTrade(ctx context.Context, trade *model.FlashTrade) error {
	if err := g.db.WithContext(ctx).Create(trade).Error; err != nil {
		return errors.Wrap(err, "insert flash trade")
	}
	return nil
}

func (g *Gorm) Trade(ctx context.Context, id string) (model.FlashTrade, error) {
	var trade model.FlashTrade
	err := g.db.WithContext(ctx).First(&trade, "id = ?", id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return model.FlashTrade{}, ErrNotFound
		}
		return model.FlashTrade{}, errors.Wrap(err, "query flash trade")
	}
	return trade, nil
}

func (g *Gorm) CASTradeStatus(ctx context.Context, id string, from, to enum.TradeStatus) (bool, error) {
	res := g.db.WithContext(ctx).Model(&model.FlashTrade{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "cas trade status")
	}
	return res.RowsAffected == 1, nil
}

func (g *Gorm) PendingTrades(ctx context.Context) ([]model.FlashTrade, error) {
	var trades []model.FlashTrade
	err := g.db.WithContext(ctx).
		Where("status = ?", enum.TradeStatusPending).
		Order("created_at").
		Find(&trades).Error
	if err != nil {
		return nil, errors.Wrap(err, "query pending trades")
	}
	return trades, nil
}

func (g *Gorm) PendingTradeCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.FlashTrade{}).
		Where("user_id = ? AND status IN ?", userID,
			[]enum.TradeStatus{enum.TradeStatusPending, enum.TradeStatusSettling}).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count pending trades")
	}
	return count, nil
}

func (g *Gorm) FinalizeTrade(ctx context.Context, id string, outcome enum.TradeOutcome, profit, exitPrice decimal.Decimal, settledAt time.Time) error {
	res := g.db.WithContext(ctx).Model(&model.FlashTrade{}).
		Where("id = ? AND status = ?", id, enum.TradeStatusSettling).
		Updates(map[string]any{
			"status":     enum.TradeStatusSettled,
			"outcome":    outcome,
			"profit":     profit,
			"exit_price": exitPrice,
			"settled_at": settledAt,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "finalize flash trade")
	}
	if res.RowsAffected != 1 {
		return errors.Errorf("finalize flash trade %s: not in settling", id)
	}
	return nil
}

func (g *Gorm) CreateTransaction(ctx context.Context, record *model.Transaction) error {
	if err := g.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrap(err, "insert transaction")
	}
	return nil
}

func (g *Gorm) TransactionByTradeID(ctx context.Context, tradeID string) (model.Transaction, error) {
	var record model.Transaction
	err := g.db.WithContext(ctx).First(&record, "trade_id = ?", tradeID).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return model.Transaction{}, ErrNotFound
		}
		return model.Transaction{}, errors.Wrap(err, "query transaction")
	}
	return record, nil
}

func (g *Gorm) Symbols(ctx context.Context) ([]model.TradeableSymbol, error) {
	var symbols []model.TradeableSymbol
	err := g.db.WithContext(ctx).Order("symbol").Find(&symbols).Error
	if err != nil {
		return nil, errors.Wrap(err, "query symbols")
	}
	return symbols, nil
}

func (g *Gorm) CreateSymbol(ctx context.Context, symbol *model.TradeableSymbol) error {
	if err := g.db.WithContext(ctx).Create(symbol).Error; err != nil {
		return errors.Wrap(err, "insert symbol")
	}
	return nil
}

func (g *Gorm) UpdateSymbolPrice(ctx context.Context, symbol string, price, change24h decimal.Decimal) error {
	err := g.db.WithContext(ctx).Model(&model.TradeableSymbol{}).
		Where("symbol = ?", symbol).
		Updates(map[string]any{
			"price":      price,
			"change_24h": change24h,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return errors.Wrap(err, "update symbol price")
	}
	return nil
}

func (g *Gorm) WinRate(ctx context.Context) (int, bool, error) {
	var setting model.PlatformSetting
	err := g.db.WithContext(ctx).
		First(&setting, "key = ?", model.SettingFlashTradeWinRate).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "query win rate setting")
	}

	rate, err := strconv.Atoi(setting.Value)
	if err != nil {
		return 0, false, errors.Wrap(err, "parse win rate setting").With("value", setting.Value)
	}
	if rate < 0 || rate > 100 {
		return 0, false, errors.Errorf("win rate out of range: %d", rate)
	}
	return rate, true, nil
}

func (g *Gorm) Tx(ctx context.Context, fn func(Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}
