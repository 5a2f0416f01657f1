package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// FlashTrade is a fixed-duration binary-direction wager against the entry
// price. The stake is debited when the trade is created; settlement credits
// stake + profit on a win and nothing on a loss.
type FlashTrade struct {
	ID         string              `gorm:"primaryKey;type:uuid"`
	UserID     string              `gorm:"type:uuid;index"`
	Stake      decimal.Decimal     `gorm:"type:numeric(24,8)"`
	Direction  enum.TradeDirection `gorm:"type:varchar(8)"`
	Symbol     string              `gorm:"type:varchar(32)"`
	EntryPrice decimal.Decimal     `gorm:"type:numeric(24,8)"`
	// DurationSec is the lifetime of the trade in seconds.
	DurationSec int
	Status      enum.TradeStatus `gorm:"type:varchar(24);index"`
	Outcome     enum.TradeOutcome
	Profit      decimal.Decimal `gorm:"type:numeric(24,8)"`
	ExitPrice   decimal.Decimal `gorm:"type:numeric(24,8)"`
	CreatedAt   time.Time
	SettledAt   *time.Time
}

func (FlashTrade) TableName() string { return "flash_trades" }

// Deadline is the instant from which either settlement trigger may fire.
func (t FlashTrade) Deadline() time.Time {
	return t.CreatedAt.Add(time.Duration(t.DurationSec) * time.Second)
}

// Expired reports whether the trade is past its deadline at now.
func (t FlashTrade) Expired(now time.Time) bool {
	return !now.Before(t.Deadline())
}
