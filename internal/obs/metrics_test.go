package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"main/internal/model/enum"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()

	m.IncTradeStarted()
	m.IncTradeStarted()
	m.ObserveSettlement(enum.TradeOutcomeWin, 10*time.Millisecond)
	m.ObserveSettlement(enum.TradeOutcomeLoss, 30*time.Millisecond)
	m.IncSettlementError()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.TradesStarted)
	assert.Equal(t, uint64(1), snap.SettledWins)
	assert.Equal(t, uint64(1), snap.SettledLosses)
	assert.Equal(t, uint64(1), snap.SettlementErrors)
	assert.Equal(t, uint64(2), snap.SettleLatency.Count)
	assert.Equal(t, 10*time.Millisecond, snap.SettleLatency.Min)
	assert.Equal(t, 30*time.Millisecond, snap.SettleLatency.Max)
	assert.Equal(t, 20*time.Millisecond, snap.SettleLatency.Avg)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	m.IncTradeStarted()
	m.ObserveSettlement(enum.TradeOutcomeWin, time.Millisecond)
	m.IncSettlementError()

	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestLatencyStatsIgnoreNegativeSamples(t *testing.T) {
	var l LatencyStats
	l.Observe(-time.Second)
	assert.Equal(t, LatencySnapshot{}, l.Snapshot())
}
