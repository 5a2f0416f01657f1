package oracle

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/store"
)

var ErrNoSymbols = errors.New("oracle: no tradeable symbols")

var oneHundred = decimal.NewFromInt(100)

// Oracle owns the simulated reference price per symbol. Each tick applies a
// bounded random walk starting from the prior committed price, persists the
// result, and publishes the updated set. Nothing else mutates prices.
type Oracle struct {
	symbols  store.SymbolStore
	interval time.Duration
	bandBps  int
	publish  func([]model.TradeableSymbol)

	// walk returns a uniform float in [-1,1]. Injected for tests.
	walk func() float64

	mu     sync.RWMutex
	quotes map[string]model.TradeableSymbol
	base   map[string]decimal.Decimal
}

// New builds an oracle. publish is invoked after every committed tick with the
// full updated set; a nil publish disables broadcasting.
func New(symbols store.SymbolStore, interval time.Duration, bandBps int, publish func([]model.TradeableSymbol)) *Oracle {
	return &Oracle{
		symbols:  symbols,
		interval: interval,
		bandBps:  bandBps,
		publish:  publish,
		walk:     func() float64 { return rand.Float64()*2 - 1 },
		quotes:   make(map[string]model.TradeableSymbol),
		base:     make(map[string]decimal.Decimal),
	}
}

// Seed loads the working set from the store. Must run before Run or Price.
func (o *Oracle) Seed(ctx context.Context) error {
	symbols, err := o.symbols.Symbols(ctx)
	if err != nil {
		return errors.Wrap(err, "seed oracle")
	}
	if len(symbols) == 0 {
		return ErrNoSymbols
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range symbols {
		o.quotes[s.Symbol] = s
		o.base[s.Symbol] = s.Price
	}
	return nil
}

// Price returns the most recent committed price for a symbol.
func (o *Oracle) Price(symbol string) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.quotes[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return q.Price, true
}

// Snapshot returns the current quote set, sorted by symbol.
func (o *Oracle) Snapshot() []model.TradeableSymbol {
	o.mu.RLock()
	out := make([]model.TradeableSymbol, 0, len(o.quotes))
	for _, q := range o.quotes {
		out = append(out, q)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Run ticks until ctx is done.
func (o *Oracle) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			updated := o.Tick(ctx, now)
			if o.publish != nil && len(updated) != 0 {
				o.publish(updated)
			}
		}
	}
}

// Tick walks every symbol once and persists the new prices. A persist failure
// skips that symbol for this tick; its in-memory price stays at the last
// committed value.
func (o *Oracle) Tick(ctx context.Context, now time.Time) []model.TradeableSymbol {
	for _, q := range o.Snapshot() {
		price := o.next(q.Price)

		o.mu.RLock()
		base := o.base[q.Symbol]
		o.mu.RUnlock()

		change := decimal.Zero
		if !base.IsZero() {
			change = price.Sub(base).Div(base).Mul(oneHundred).Round(4)
		}

		if err := o.symbols.UpdateSymbolPrice(ctx, q.Symbol, price, change); err != nil {
			logs.Errorf("oracle: persist price for %s failed, keeping %s, err: %+v",
				q.Symbol, q.Price, err)
			continue
		}

		o.mu.Lock()
		q.Price = price
		q.Change24h = change
		q.UpdatedAt = now
		o.quotes[q.Symbol] = q
		o.mu.Unlock()
	}

	return o.Snapshot()
}

func (o *Oracle) next(price decimal.Decimal) decimal.Decimal {
	band := float64(o.bandBps) / 10000
	factor := 1 + o.walk()*band
	next := price.Mul(decimal.NewFromFloat(factor)).Round(8)
	if next.Sign() <= 0 {
		return price
	}
	return next
}
