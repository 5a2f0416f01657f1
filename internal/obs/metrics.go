package obs

import (
	"sync/atomic"
	"time"

	"main/internal/model/enum"
)

// Metrics collects lightweight engine counters and latency stats. All methods
// are safe on a nil receiver so callers can run unmetered.
type Metrics struct {
	tradesStarted    uint64
	settledWins      uint64
	settledLosses    uint64
	settlementErrors uint64

	settleLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TradesStarted    uint64          `json:"tradesStarted"`
	SettledWins      uint64          `json:"settledWins"`
	SettledLosses    uint64          `json:"settledLosses"`
	SettlementErrors uint64          `json:"settlementErrors"`
	SettleLatency    LatencySnapshot `json:"settleLatency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncTradeStarted records an accepted trade.
func (m *Metrics) IncTradeStarted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesStarted, 1)
}

// ObserveSettlement records one committed settlement and its ledger latency.
func (m *Metrics) ObserveSettlement(outcome enum.TradeOutcome, d time.Duration) {
	if m == nil {
		return
	}
	if outcome == enum.TradeOutcomeWin {
		atomic.AddUint64(&m.settledWins, 1)
	} else {
		atomic.AddUint64(&m.settledLosses, 1)
	}
	m.settleLatency.Observe(d)
}

// IncSettlementError records a failed settlement attempt.
func (m *Metrics) IncSettlementError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.settlementErrors, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TradesStarted:    atomic.LoadUint64(&m.tradesStarted),
		SettledWins:      atomic.LoadUint64(&m.settledWins),
		SettledLosses:    atomic.LoadUint64(&m.settledLosses),
		SettlementErrors: atomic.LoadUint64(&m.settlementErrors),
		SettleLatency:    m.settleLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
