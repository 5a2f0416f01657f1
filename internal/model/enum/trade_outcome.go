package enum

// TradeOutcome is the settled result of a flash trade.
type TradeOutcome string

const (
	TradeOutcomeWin  TradeOutcome = "win"
	TradeOutcomeLoss TradeOutcome = "loss"
)

func (o TradeOutcome) IsAvailable() bool {
	return o == TradeOutcomeWin || o == TradeOutcomeLoss
}

// ForcedOutcome is a per-user override applied before any random draw.
type ForcedOutcome string

const (
	ForcedOutcomeNone ForcedOutcome = ""
	ForcedOutcomeWin  ForcedOutcome = "win"
	ForcedOutcomeLoss ForcedOutcome = "loss"
)
