package enum

// TradeDirection is the side of a flash trade against the entry price.
type TradeDirection string

const (
	TradeDirectionUp   TradeDirection = "up"
	TradeDirectionDown TradeDirection = "down"
)

func (d TradeDirection) IsAvailable() bool {
	switch d {
	case TradeDirectionUp, TradeDirectionDown:
		return true
	default:
		return false
	}
}
