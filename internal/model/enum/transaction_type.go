package enum

// TransactionType labels the ledger record written at settlement.
type TransactionType string

const (
	TransactionFlashTradeWin  TransactionType = "flash_trade_win"
	TransactionFlashTradeLoss TransactionType = "flash_trade_loss"
)

func (t TransactionType) IsAvailable() bool {
	return t == TransactionFlashTradeWin || t == TransactionFlashTradeLoss
}
