package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"backtester/internal/api"
	"backtester/internal/bars"
	"backtester/internal/config"
	"backtester/internal/engine"
	"backtester/internal/httpapi"
	"backtester/internal/metrics"
	"backtester/internal/store"
	"backtester/internal/strategy/builtins"
	"backtester/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run history: %v", err)
	}
	defer db.Close()

	eng := engine.New(engine.Options{
		PointValue:   cfg.Engine.PointValue,
		PriceDivisor: cfg.Engine.PriceDivisor,
		FillPolicy:   bars.ParseFillPolicy(cfg.Engine.FillPolicy),
		Prefetch:     cfg.Engine.Prefetch,
		Logger:       logger,
		Metrics:      m,
	})
	files := store.NewParquetStore(cfg.Storage.DataDir)
	rec := store.NewRecorder(db, files, logger)
	strategies := builtins.NewRegistry()

	svc := api.NewService(
		eng,
		strategies,
		rec,
		cfg.Storage.DataDir,
		api.Defaults{
			Timeframe:  cfg.Engine.Timeframe,
			BatchSize:  cfg.Engine.BatchSize,
			Commission: cfg.Engine.Commission,
			Params:     cfg.Strategies,
		},
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting backtest-server",
		"grpc", cfg.Server.GRPCAddr(),
		"http", cfg.Server.HTTPAddr(),
		"data_dir", cfg.Storage.DataDir,
	)
	srv := api.NewServer(svc, cfg.Server.GRPCAddr(), cfg.Server.HTTPAddr(), m, logger)
	srv.Handle("/api/", httpapi.NewServer(rec, files, strategies.List(), logger).Handler())
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
