package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Transaction is the immutable audit record written atomically with the
// balance mutation at settlement. Exactly one row exists per settled trade.
type Transaction struct {
	ID      string               `gorm:"primaryKey;type:uuid"`
	TradeID string               `gorm:"type:uuid;uniqueIndex"`
	UserID  string               `gorm:"type:uuid;index"`
	Type    enum.TransactionType `gorm:"type:varchar(32)"`
	// Amount is the balance effect at settlement: stake + profit on a win,
	// zero on a loss (the stake was debited at creation).
	Amount        decimal.Decimal `gorm:"type:numeric(24,8)"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(24,8)"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(24,8)"`
	CreatedAt     time.Time
}

func (Transaction) TableName() string { return "transactions" }
