package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// User is the engine's view of a platform account. Only the fields the
// settlement path touches are mapped; the rest of the account lives with the
// encompassing platform.
type User struct {
	ID            string             `gorm:"primaryKey;type:uuid"`
	Balance       decimal.Decimal    `gorm:"type:numeric(24,8)"`
	ForcedOutcome enum.ForcedOutcome `gorm:"column:forced_outcome"`
	// WinRateOverride, when set, takes priority over the platform win rate.
	WinRateOverride *int `gorm:"column:win_rate_override"`
	UpdatedAt       time.Time
}

func (User) TableName() string { return "users" }
