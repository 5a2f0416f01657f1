package config

import (
	"os"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/internal/model/enum"
)

// Server holds the listen configuration.
type Server struct {
	Addr   string `yaml:"addr"`
	WSPath string `yaml:"ws_path"`
}

// Postgres holds the store connection settings.
type Postgres struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// Oracle controls the simulated price feed.
type Oracle struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	// WalkBandBps bounds one tick's random walk, in basis points of the price.
	WalkBandBps int `yaml:"walk_band_bps"`
}

// Scheduler controls trade settlement timing.
type Scheduler struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	MaxSettleAttempts    int `yaml:"max_settle_attempts"`
}

// Registry controls connection liveness and fan-out buffering.
type Registry struct {
	KeepaliveIntervalSeconds int `yaml:"keepalive_interval_seconds"`
	KeepaliveGraceSeconds    int `yaml:"keepalive_grace_seconds"`
	SendQueueSize            int `yaml:"send_queue_size"`
}

// Policy controls outcome determination.
type Policy struct {
	DefaultWinRate int     `yaml:"default_win_rate"`
	PayoutRate     float64 `yaml:"payout_rate"`
	// FallbackOutcome is applied when the store cannot be read at decision
	// time. Paying out on failure is the reference behavior; it is a policy
	// choice, so it is configuration rather than code.
	FallbackOutcome enum.TradeOutcome `yaml:"fallback_outcome"`
}

// Gateway controls per-connection protocol limits.
type Gateway struct {
	TradeRatePerSecond float64 `yaml:"trade_rate_per_second"`
	TradeRateBurst     int     `yaml:"trade_rate_burst"`
}

// Pyroscope enables continuous profiling when configured.
type Pyroscope struct {
	Enabled         bool   `yaml:"enabled"`
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// Config is the resolved engine configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	Oracle    Oracle    `yaml:"oracle"`
	Scheduler Scheduler `yaml:"scheduler"`
	Registry  Registry  `yaml:"registry"`
	Policy    Policy    `yaml:"policy"`
	Gateway   Gateway   `yaml:"gateway"`
	Pyroscope Pyroscope `yaml:"pyroscope"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8081", WSPath: "/ws"},
		Postgres: Postgres{
			Host:         "localhost",
			Port:         5432,
			Database:     "platform",
			SSLMode:      "disable",
			MaxOpenConns: 16,
			MaxIdleConns: 4,
		},
		Oracle:    Oracle{TickIntervalSeconds: 3, WalkBandBps: 50},
		Scheduler: Scheduler{SweepIntervalSeconds: 3, MaxSettleAttempts: 3},
		Registry: Registry{
			KeepaliveIntervalSeconds: 30,
			KeepaliveGraceSeconds:    90,
			SendQueueSize:            64,
		},
		Policy: Policy{
			DefaultWinRate:  30,
			PayoutRate:      0.95,
			FallbackOutcome: enum.TradeOutcomeWin,
		},
		Gateway: Gateway{TradeRatePerSecond: 1, TradeRateBurst: 3},
	}
}

// Load reads a YAML config file and fills unset fields with defaults.
// An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Policy.DefaultWinRate < 0 || c.Policy.DefaultWinRate > 100 {
		return errors.Errorf("default_win_rate out of range: %d", c.Policy.DefaultWinRate)
	}
	if c.Policy.PayoutRate <= 0 {
		return errors.Errorf("payout_rate must be positive: %v", c.Policy.PayoutRate)
	}
	if !c.Policy.FallbackOutcome.IsAvailable() {
		return errors.Errorf("fallback_outcome must be win or loss: %q", c.Policy.FallbackOutcome)
	}
	if c.Oracle.TickIntervalSeconds <= 0 || c.Scheduler.SweepIntervalSeconds <= 0 {
		return errors.New("tick and sweep intervals must be positive")
	}
	return nil
}

// TickInterval returns the oracle tick period.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Oracle.TickIntervalSeconds) * time.Second
}

// SweepInterval returns the scheduler sweep period.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Scheduler.SweepIntervalSeconds) * time.Second
}

// KeepaliveInterval returns the connection ping period.
func (c Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.Registry.KeepaliveIntervalSeconds) * time.Second
}

// KeepaliveGrace returns how long a silent connection survives.
func (c Config) KeepaliveGrace() time.Duration {
	return time.Duration(c.Registry.KeepaliveGraceSeconds) * time.Second
}
