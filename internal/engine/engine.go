// Package engine runs backtests: it loads tick files, builds bars, hands data
// to strategies, and replays their signals through the trade simulator.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backtester/internal/bars"
	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/scid"
	"backtester/internal/sim"
	"backtester/internal/stats"
	"backtester/internal/strategy"
)

// Defaults applied by New for zero-valued Options.
const (
	DefaultPointValue   = sim.DefaultPointValue
	DefaultPriceDivisor = scid.DefaultPriceDivisor
	DefaultPrefetch     = 2
	loadChunk           = 1 << 16
)

// Options configure an Engine.
type Options struct {
	// PointValue is the contract multiplier applied to price differences.
	PointValue float64
	// PriceDivisor scales stored integer prices to instrument prices.
	PriceDivisor float64
	// FillPolicy selects sparse or dense bars.
	FillPolicy bars.FillPolicy
	// Prefetch is how many tick batches may be decoded ahead of the one
	// being simulated. Negative disables the background reader.
	Prefetch int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Engine holds configuration only; every run builds its own reader,
// simulator and ledger, so one Engine may serve concurrent runs.
type Engine struct {
	opts Options
	log  *slog.Logger
}

// New creates an Engine, filling unset options with defaults.
func New(opts Options) *Engine {
	if opts.PointValue == 0 {
		opts.PointValue = DefaultPointValue
	}
	if opts.PriceDivisor == 0 {
		opts.PriceDivisor = DefaultPriceDivisor
	}
	if opts.Prefetch == 0 {
		opts.Prefetch = DefaultPrefetch
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{opts: opts, log: log}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

func (e *Engine) open(path string) (*scid.File, error) {
	return scid.Open(path, scid.WithPriceDivisor(e.opts.PriceDivisor))
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadSCID reads every record of the file at path, in file order, including
// records with a zero price.
func (e *Engine) LoadSCID(path string) (*domain.TickData, error) {
	f, err := e.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := f.Len()
	d := domain.NewTickData(n)
	d.NumTrades = make([]float64, 0, n)
	buf := make([]domain.Tick, 0, min(n, loadChunk))
	for off := 0; off < n; off += loadChunk {
		buf, err = f.ReadRange(off, loadChunk, buf[:0])
		if err != nil {
			return nil, err
		}
		for _, t := range buf {
			d.Append(t)
		}
	}
	e.opts.Metrics.AddTicks(metrics.ModeTicks, n)
	return d, nil
}

// LoadBars aggregates the file at path into bars of the given timeframe.
// The timeframe is validated before the file is opened.
func (e *Engine) LoadBars(path, timeframe string) (*domain.BarData, error) {
	bs, err := e.BuildBars(context.Background(), path, timeframe)
	if err != nil {
		return nil, err
	}
	return domain.NewBarData(bs), nil
}

// BuildBars is LoadBars returning row-form bars with their trade counts.
func (e *Engine) BuildBars(ctx context.Context, path, timeframe string) ([]domain.Bar, error) {
	tf, err := bars.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	return e.buildBars(ctx, path, tf)
}

// buildBars streams the file through an Aggregator in fixed chunks so the
// tick history is never held in memory as a whole.
func (e *Engine) buildBars(ctx context.Context, path string, tf bars.Timeframe) ([]domain.Bar, error) {
	f, err := e.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	agg := bars.NewAggregator(tf, e.opts.FillPolicy)
	buf := make([]domain.Tick, 0, min(f.Len(), loadChunk))
	for off := 0; off < f.Len(); off += loadChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf, err = f.ReadRange(off, loadChunk, buf[:0])
		if err != nil {
			return nil, err
		}
		for i := range buf {
			agg.Add(buf[i])
		}
	}
	out := agg.Flush()

	e.opts.Metrics.AddTicks(metrics.ModeBars, f.Len())
	e.opts.Metrics.AddBars(len(out))
	e.log.Debug("bars built", "path", path, "timeframe", tf.String(),
		"ticks", f.Len(), "bars", len(out), "fill", e.opts.FillPolicy.String())
	return out, nil
}

// ---------------------------------------------------------------------------
// Bar backtest
// ---------------------------------------------------------------------------

// RunBacktest aggregates the file into bars, asks strat for one signal per
// bar, and simulates each signal at that bar's close. A position still open
// after the last bar is closed there as an end-of-data trade.
func (e *Engine) RunBacktest(
	ctx context.Context,
	path, timeframe string,
	strat strategy.BarStrategy,
	commission float64,
) (res *domain.Result, err error) {
	start := time.Now()
	defer func() { e.opts.Metrics.ObserveRun(metrics.ModeBars, time.Since(start), err) }()

	tf, err := bars.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	bs, err := e.buildBars(ctx, path, tf)
	if err != nil {
		return nil, err
	}
	if len(bs) == 0 {
		return nil, fmt.Errorf("%w: %s produced no %s bars", domain.ErrNoData, path, tf)
	}

	// Fills come from this copy, not from the data handed to the strategy.
	closes := make([]float64, len(bs))
	stamps := make([]int64, len(bs))
	for i, b := range bs {
		closes[i] = b.Close
		stamps[i] = b.TimestampUS
	}

	signals, err := strat.OnBars(ctx, domain.NewBarData(bs))
	if err != nil {
		return nil, fmt.Errorf("bar strategy: %w", err)
	}

	s := sim.New(commission, e.opts.PointValue)
	if err := s.Process(signals, closes, stamps); err != nil {
		return nil, fmt.Errorf("simulating %d bars: %w", len(bs), err)
	}
	last := bs[len(bs)-1]
	s.Finish(last.Close, last.TimestampUS)

	res = e.result(s)
	e.log.Info("bar backtest complete",
		"path", path,
		"timeframe", tf.String(),
		"bars", len(bs),
		"samples", s.Steps(),
		"trades", res.NumTrades,
		"total_pnl", res.TotalPnL,
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (e *Engine) result(s *sim.Simulator) *domain.Result {
	trades := s.Trades()
	for _, t := range trades {
		e.opts.Metrics.AddTrade(t.Side.String(), string(t.Exit))
	}
	return &domain.Result{
		ResultSet: stats.Compute(trades, s.EquityCurve()),
		Trades:    trades,
	}
}
