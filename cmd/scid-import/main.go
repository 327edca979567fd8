package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"backtester/internal/config"
	"backtester/internal/gather"
	"backtester/internal/gather/us"
	"backtester/internal/metrics"
	"backtester/internal/scid"
	"backtester/internal/util"
)

var (
	errMissingFrom = errors.New("-from is required")
	errEmptyRange  = errors.New("-to is before -from")
)

func main() {
	symbol := flag.String("symbol", "", "symbol to import (default import.instrument from config)")
	from := flag.String("from", "", "first day, YYYY-MM-DD")
	to := flag.String("to", "", "last day, YYYY-MM-DD (inclusive; default yesterday)")
	out := flag.String("out", "", "also assemble the range into this SCID file")
	refresh := flag.Bool("refresh", false, "refetch days previously found empty")
	assembleOnly := flag.Bool("assemble-only", false, "skip downloading; only assemble existing day files")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	sym := *symbol
	if sym == "" {
		sym = cfg.Import.Instrument
	}
	if sym == "" {
		log.Fatal("no symbol: pass -symbol or set import.instrument")
	}
	sym = strings.ToUpper(sym)

	rng, err := parseRange(*from, *to)
	if err != nil {
		log.Fatalf("invalid range: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !*assembleOnly {
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			log.Fatal("alpaca credentials are not configured")
		}
		src := us.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
		importer := us.NewTickImporter(src, cfg.Storage.DataDir, sym, rng, us.ImportOptions{
			MaxRetries:      cfg.Import.MaxRetries,
			RateLimitPerMin: cfg.Import.RateLimitPerMin,
			PriceDivisor:    cfg.Engine.PriceDivisor,
			Refresh:         *refresh,
			Metrics:         metrics.New(nil),
			Logger:          logger,
		})
		logger.Info("starting scid-import",
			"symbol", sym,
			"from", rng.Start.Format(time.DateOnly),
			"to", rng.End.AddDate(0, 0, -1).Format(time.DateOnly),
			"feed", cfg.Alpaca.Feed,
		)
		if err := importer.Run(ctx); err != nil {
			log.Fatalf("import error: %v", err)
		}
	}

	if *out != "" {
		if err := ctx.Err(); err != nil {
			log.Fatalf("interrupted: %v", err)
		}
		n, err := us.Assemble(cfg.Storage.DataDir, sym, rng, *out, scid.WithPriceDivisor(cfg.Engine.PriceDivisor))
		if err != nil {
			log.Fatalf("assemble error: %v", err)
		}
		logger.Info("assembled", "file", *out, "records", n)
	}
}

// parseRange turns inclusive YYYY-MM-DD bounds into a half-open DateRange.
func parseRange(from, to string) (gather.DateRange, error) {
	if from == "" {
		return gather.DateRange{}, errMissingFrom
	}
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return gather.DateRange{}, err
	}
	last := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	if to != "" {
		if last, err = time.Parse(time.DateOnly, to); err != nil {
			return gather.DateRange{}, err
		}
	}
	if last.Before(start) {
		return gather.DateRange{}, errEmptyRange
	}
	return gather.DateRange{Start: start, End: last.AddDate(0, 0, 1)}, nil
}
