package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeableSymbol holds the current reference price for one traded pair.
// Mutated only by the oracle tick.
type TradeableSymbol struct {
	Symbol    string          `gorm:"primaryKey;type:varchar(32)"`
	Coin      string          `gorm:"type:varchar(64)"`
	Price     decimal.Decimal `gorm:"type:numeric(24,8)"`
	Change24h decimal.Decimal `gorm:"type:numeric(12,4);column:change_24h"`
	UpdatedAt time.Time
}

func (TradeableSymbol) TableName() string { return "tradeable_symbols" }

// PlatformSetting is a key/value configuration row read at settlement time.
type PlatformSetting struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Value     string `gorm:"type:varchar(255)"`
	UpdatedAt time.Time
}

func (PlatformSetting) TableName() string { return "platform_settings" }

// SettingFlashTradeWinRate is the platform-wide win rate key, 0-100.
const SettingFlashTradeWinRate = "flash_trade_win_rate"
