package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/config"
	"main/internal/gateway"
	"main/internal/ledger"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/oracle"
	"main/internal/policy"
	"main/internal/protocol"
	"main/internal/registry"
	"main/internal/scheduler"
	"main/internal/store"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (empty = defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if cfg.Pyroscope.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Pyroscope.ApplicationName,
			ServerAddress:   cfg.Pyroscope.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseObjects,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := conn.New(conn.Option{
		Host:         cfg.Postgres.Host,
		Port:         cfg.Postgres.Port,
		User:         cfg.Postgres.User,
		Password:     cfg.Postgres.Password,
		Database:     cfg.Postgres.Database,
		SSLMode:      cfg.Postgres.SSLMode,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Postgres.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("postgres connect failed: %v", err)
	}
	defer pg.Close()

	st := store.NewGorm(pg.DB())
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	auth := store.NewUserAuthenticator(st)
	reg := registry.New(auth, registry.Config{
		KeepaliveInterval: cfg.KeepaliveInterval(),
		KeepaliveGrace:    cfg.KeepaliveGrace(),
		SendQueueSize:     cfg.Registry.SendQueueSize,
	})

	orc := oracle.New(st, cfg.TickInterval(), cfg.Oracle.WalkBandBps, func(symbols []model.TradeableSymbol) {
		update := protocol.PriceUpdates{Type: protocol.TypePriceUpdates}
		for _, s := range symbols {
			update.Data = append(update.Data, protocol.PriceUpdate{
				Coin:      s.Coin,
				Symbol:    s.Symbol,
				Price:     s.Price,
				Change24h: s.Change24h,
			})
		}
		reg.BroadcastAuthenticated(update)
	})
	if err := seedOracle(ctx, st, orc); err != nil {
		log.Fatalf("oracle seed failed: %v", err)
	}

	policyEngine := policy.NewEngine(st, st, policy.Config{
		DefaultWinRate:  cfg.Policy.DefaultWinRate,
		PayoutRate:      decimal.NewFromFloat(cfg.Policy.PayoutRate),
		FallbackOutcome: cfg.Policy.FallbackOutcome,
	})
	metrics := obs.NewMetrics()
	bridge := ledger.NewBridge(st).WithMetrics(metrics)
	sched := scheduler.New(st, st, policyEngine, bridge, orc, reg, scheduler.Config{
		SweepInterval:     cfg.SweepInterval(),
		MaxSettleAttempts: cfg.Scheduler.MaxSettleAttempts,
		Metrics:           metrics,
	})
	if err := sched.Resume(ctx); err != nil {
		log.Fatalf("scheduler resume failed: %v", err)
	}

	gw := gateway.New(ctx, reg, sched, st, st, gateway.Config{
		TradeRatePerSecond: cfg.Gateway.TradeRatePerSecond,
		TradeRateBurst:     cfg.Gateway.TradeRateBurst,
	})

	go orc.Run(ctx)
	go sched.Run(ctx)
	go reg.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WSPath, gw.ServeWS)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Registry registry.Stats `json:"registry"`
			Engine   obs.Snapshot   `json:"engine"`
		}{reg.Stats(), metrics.Snapshot()})
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		logs.Infof("engine listening on %s%s", cfg.Server.Addr, cfg.Server.WSPath)
		if err := srv.ListenAndServe(); !stderrors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logs.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("http shutdown, err: %+v", err)
	}
}

// seedOracle loads symbols, inserting the default set on a fresh database.
func seedOracle(ctx context.Context, st *store.Gorm, orc *oracle.Oracle) error {
	err := orc.Seed(ctx)
	if !stderrors.Is(err, oracle.ErrNoSymbols) {
		return err
	}

	defaults := []model.TradeableSymbol{
		{Symbol: "BTCUSDT", Coin: "Bitcoin", Price: decimal.NewFromInt(65000)},
		{Symbol: "ETHUSDT", Coin: "Ethereum", Price: decimal.NewFromInt(3200)},
		{Symbol: "SOLUSDT", Coin: "Solana", Price: decimal.NewFromInt(150)},
	}
	for i := range defaults {
		if err := st.CreateSymbol(ctx, &defaults[i]); err != nil {
			return err
		}
	}
	logs.Infof("seeded %d default symbols", len(defaults))
	return orc.Seed(ctx)
}
