package enum

// TradeStatus tracks the settlement lifecycle of a flash trade.
//
// Transitions: pending -> settling -> settled, with settling -> pending on a
// failed settlement attempt and settling -> settlement_failed once the attempt
// budget is spent.
type TradeStatus string

const (
	TradeStatusPending          TradeStatus = "pending"
	TradeStatusSettling         TradeStatus = "settling"
	TradeStatusSettled          TradeStatus = "settled"
	TradeStatusSettlementFailed TradeStatus = "settlement_failed"
)

func (s TradeStatus) IsAvailable() bool {
	switch s {
	case TradeStatusPending, TradeStatusSettling, TradeStatusSettled, TradeStatusSettlementFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusSettled || s == TradeStatusSettlementFailed
}
