package protocol

import (
	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Client -> server message types.
const (
	TypeAuthenticate    = "authenticate"
	TypeHeartbeat       = "heartbeat"
	TypeStartFlashTrade = "start_flash_trade"
)

// Server -> client message types.
const (
	TypeAuthenticated     = "authenticated"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeTradeStarted      = "trade_started"
	TypeTradeResult       = "trade_result"
	TypePriceUpdates      = "price_updates"
	TypeUserUpdate        = "user_update"
	TypeError             = "error"
)

// Error codes carried in Error.Code.
const (
	CodeProtocolError   = "protocol_error"
	CodeUnknownUser     = "unknown_user"
	CodeUnauthenticated = "unauthenticated"
	CodeInvalidTrade    = "invalid_trade"
	CodeRateLimited     = "rate_limited"
)

// Envelope carries the discriminator plus the raw frame for a second decode
// into the concrete request type.
type Envelope struct {
	Type string `json:"type"`
}

type AuthenticateRequest struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type StartFlashTradeRequest struct {
	Type      string          `json:"type"`
	TradeID   string          `json:"tradeId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"`
	Symbol    string          `json:"symbol,omitempty"`
	// Duration is the trade lifetime in seconds.
	Duration int `json:"duration"`
}

type Authenticated struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
}

type HeartbeatResponse struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type TradeStarted struct {
	Type      string `json:"type"`
	TradeID   string `json:"tradeId"`
	StartTime int64  `json:"startTime"`
}

type TradeResult struct {
	Type      string            `json:"type"`
	TradeID   string            `json:"tradeId"`
	Result    enum.TradeOutcome `json:"result"`
	Profit    decimal.Decimal   `json:"profit"`
	ExitPrice decimal.Decimal   `json:"exitPrice"`
	EndTime   int64             `json:"endTime"`
}

type PriceUpdate struct {
	Coin      string          `json:"coin"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change24h"`
}

type PriceUpdates struct {
	Type string        `json:"type"`
	Data []PriceUpdate `json:"data"`
}

type UserUpdate struct {
	Type                   string          `json:"type"`
	Balance                decimal.Decimal `json:"balance"`
	ActiveFlashTrades      int64           `json:"activeFlashTrades"`
	ActiveQuantInvestments int64           `json:"activeQuantInvestments"`
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds a typed error reply.
func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}
