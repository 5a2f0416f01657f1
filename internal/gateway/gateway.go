package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/protocol"
	"main/internal/registry"
	"main/internal/scheduler"
	"main/internal/store"
)

// Trader starts flash trades; implemented by the scheduler.
type Trader interface {
	Start(ctx context.Context, userID string, req scheduler.StartRequest) (model.FlashTrade, error)
}

// Config tunes per-connection protocol limits.
type Config struct {
	// TradeRatePerSecond and TradeRateBurst limit start_flash_trade per
	// connection. Zero rate disables the limit.
	TradeRatePerSecond float64
	TradeRateBurst     int
}

// Gateway decodes wire messages and dispatches them. Trade-mutating messages
// require a bound session; everything else answers with a typed error instead
// of dropping silently.
type Gateway struct {
	reg    *registry.Registry
	trader Trader
	users  store.UserStore
	trades store.TradeStore
	cfg    Config
	ctx    context.Context

	upgrader websocket.Upgrader

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(ctx context.Context, reg *registry.Registry, trader Trader, users store.UserStore, trades store.TradeStore, cfg Config) *Gateway {
	return &Gateway{
		reg:    reg,
		trader: trader,
		users:  users,
		trades: trades,
		cfg:    cfg,
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// ServeWS upgrades the request and registers the connection.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("gateway: upgrade failed, err: %+v", err)
		return
	}
	client := g.reg.Register(conn, g)
	logs.Infof("gateway: connection %s opened from %s", client.ID(), r.RemoteAddr)
}

// HandleMessage implements registry.MessageHandler.
func (g *Gateway) HandleMessage(client *registry.Client, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeProtocolError, "malformed message"))
		return
	}

	switch env.Type {
	case protocol.TypeAuthenticate:
		g.handleAuthenticate(client, data)
	case protocol.TypeHeartbeat:
		g.handleHeartbeat(client)
	case protocol.TypeStartFlashTrade:
		g.handleStartFlashTrade(client, data)
	default:
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeProtocolError, "unknown message type: "+env.Type))
	}
}

// HandleClose implements registry.MessageHandler.
func (g *Gateway) HandleClose(client *registry.Client) {
	g.mu.Lock()
	delete(g.limiters, client.ID())
	g.mu.Unlock()
	logs.Infof("gateway: connection %s closed", client.ID())
}

func (g *Gateway) handleAuthenticate(client *registry.Client, data []byte) {
	var req protocol.AuthenticateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeProtocolError, "malformed authenticate message"))
		return
	}

	session, err := g.reg.Authenticate(g.ctx, client.ID(), req.UserID)
	if err != nil {
		if stderrors.Is(err, store.ErrUnknownUser) {
			g.reg.Send(client.ID(), protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: false})
			return
		}
		logs.Errorf("gateway: authenticate %s failed, err: %+v", client.ID(), err)
		g.reg.Send(client.ID(), protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: false})
		return
	}

	g.reg.Send(client.ID(), protocol.Authenticated{
		Type:    protocol.TypeAuthenticated,
		Success: true,
		UserID:  session.UserID,
	})
	g.pushUserUpdate(session.UserID)
}

func (g *Gateway) handleHeartbeat(client *registry.Client) {
	if _, ok := client.Session(); !ok {
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeUnauthenticated, "authenticate before heartbeat"))
		return
	}

	g.reg.Touch(client.ID())
	g.reg.Send(client.ID(), protocol.HeartbeatResponse{
		Type:      protocol.TypeHeartbeatResponse,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (g *Gateway) handleStartFlashTrade(client *registry.Client, data []byte) {
	session, ok := client.Session()
	if !ok {
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeUnauthenticated, "authenticate before trading"))
		return
	}

	if !g.allowTrade(client.ID()) {
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeRateLimited, "too many trade requests"))
		return
	}

	var req protocol.StartFlashTradeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeProtocolError, "malformed trade message"))
		return
	}

	trade, err := g.trader.Start(g.ctx, session.UserID, scheduler.StartRequest{
		TradeID:     req.TradeID,
		Stake:       req.Amount,
		Direction:   enum.TradeDirection(req.Direction),
		Symbol:      req.Symbol,
		DurationSec: req.Duration,
	})
	if err != nil {
		g.reg.Send(client.ID(), protocol.NewError(protocol.CodeInvalidTrade, tradeErrorMessage(err)))
		return
	}

	g.reg.Send(client.ID(), protocol.TradeStarted{
		Type:      protocol.TypeTradeStarted,
		TradeID:   trade.ID,
		StartTime: trade.CreatedAt.UnixMilli(),
	})
	g.pushUserUpdate(session.UserID)
}

func (g *Gateway) allowTrade(clientID string) bool {
	if g.cfg.TradeRatePerSecond <= 0 {
		return true
	}

	g.mu.Lock()
	limiter, ok := g.limiters[clientID]
	if !ok {
		burst := g.cfg.TradeRateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(g.cfg.TradeRatePerSecond), burst)
		g.limiters[clientID] = limiter
	}
	g.mu.Unlock()

	return limiter.Allow()
}

func (g *Gateway) pushUserUpdate(userID string) {
	user, err := g.users.User(g.ctx, userID)
	if err != nil {
		logs.Errorf("gateway: user update for %s skipped, err: %+v", userID, err)
		return
	}
	active, err := g.trades.PendingTradeCount(g.ctx, userID)
	if err != nil {
		logs.Errorf("gateway: pending count for %s failed, err: %+v", userID, err)
	}
	g.reg.SendToUser(userID, protocol.UserUpdate{
		Type:              protocol.TypeUserUpdate,
		Balance:           user.Balance,
		ActiveFlashTrades: active,
	})
}

func tradeErrorMessage(err error) string {
	switch {
	case stderrors.Is(err, scheduler.ErrInvalidDirection):
		return "direction must be up or down"
	case stderrors.Is(err, scheduler.ErrInvalidDuration):
		return "invalid duration"
	case stderrors.Is(err, scheduler.ErrInvalidStake):
		return "amount must be positive"
	case stderrors.Is(err, scheduler.ErrInsufficientBalance):
		return "insufficient balance"
	case stderrors.Is(err, scheduler.ErrUnknownSymbol):
		return "unknown symbol"
	default:
		return "trade could not be started"
	}
}
