package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model/enum"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, 30, cfg.Policy.DefaultWinRate)
	assert.Equal(t, 0.95, cfg.Policy.PayoutRate)
	assert.Equal(t, enum.TradeOutcomeWin, cfg.Policy.FallbackOutcome)
	assert.Equal(t, 3*time.Second, cfg.TickInterval())
	assert.Equal(t, 3*time.Second, cfg.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.KeepaliveInterval())
	assert.Equal(t, 90*time.Second, cfg.KeepaliveGrace())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
policy:
  default_win_rate: 45
  fallback_outcome: loss
oracle:
  tick_interval_seconds: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 45, cfg.Policy.DefaultWinRate)
	assert.Equal(t, enum.TradeOutcomeLoss, cfg.Policy.FallbackOutcome)
	assert.Equal(t, 5*time.Second, cfg.TickInterval())

	// untouched sections keep their defaults
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, 0.95, cfg.Policy.PayoutRate)
	assert.Equal(t, 64, cfg.Registry.SendQueueSize)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangeWinRate(t *testing.T) {
	path := writeConfig(t, "policy:\n  default_win_rate: 101\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadFallbackOutcome(t *testing.T) {
	path := writeConfig(t, "policy:\n  fallback_outcome: refund\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveIntervals(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  sweep_interval_seconds: 0\n")
	_, err := Load(path)
	assert.Error(t, err)
}
