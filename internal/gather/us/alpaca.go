// Package us imports US equity trades and quotes from the Alpaca market-data
// API into SCID tick files.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtester/internal/domain"
	"backtester/internal/gather"
	"backtester/internal/metrics"
	"backtester/internal/scid"
	"backtester/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*TickImporter)(nil)
var _ TickSource = (*AlpacaSource)(nil)

const dayLayout = "2006-01-02"

// TickSource fetches the trades and quotes of one symbol in [start, end).
type TickSource interface {
	Trades(ctx context.Context, symbol string, start, end time.Time) ([]gather.Trade, error)
	Quotes(ctx context.Context, symbol string, start, end time.Time) ([]gather.Quote, error)
}

// ---------------------------------------------------------------------------
// AlpacaSource: historical trades and quotes from the Alpaca API
// ---------------------------------------------------------------------------

// AlpacaSource is a TickSource backed by the Alpaca market-data client.
type AlpacaSource struct {
	client *marketdata.Client
	feed   string
}

// NewAlpacaSource creates an AlpacaSource with the given credentials. An
// empty dataURL uses the SDK default; feed is "iex" or "sip".
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaSource{client: marketdata.NewClient(opts), feed: feed}
}

// Trades pages through GetTrades for symbol.
func (s *AlpacaSource) Trades(ctx context.Context, symbol string, start, end time.Time) ([]gather.Trade, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	raw, err := s.client.GetTrades(symbol, marketdata.GetTradesRequest{
		Start: start,
		End:   end,
		Feed:  marketdata.Feed(s.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetTrades: %w", err)
	}
	trades := make([]gather.Trade, len(raw))
	for i, t := range raw {
		trades[i] = gather.Trade{Time: t.Timestamp, Price: t.Price, Size: t.Size}
	}
	return trades, nil
}

// Quotes pages through GetQuotes for symbol.
func (s *AlpacaSource) Quotes(ctx context.Context, symbol string, start, end time.Time) ([]gather.Quote, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	raw, err := s.client.GetQuotes(symbol, marketdata.GetQuotesRequest{
		Start: start,
		End:   end,
		Feed:  marketdata.Feed(s.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetQuotes: %w", err)
	}
	quotes := make([]gather.Quote, len(raw))
	for i, q := range raw {
		quotes[i] = gather.Quote{
			Time:    q.Timestamp,
			Bid:     q.BidPrice,
			Ask:     q.AskPrice,
			BidSize: q.BidSize,
			AskSize: q.AskSize,
		}
	}
	return quotes, nil
}

// ---------------------------------------------------------------------------
// TickImporter: one SCID file per symbol and session day
// ---------------------------------------------------------------------------

// ImportOptions tunes a TickImporter. Zero values select defaults.
type ImportOptions struct {
	MaxRetries      int // extra attempts per request
	RetryDelay      time.Duration
	RateLimitPerMin int // requests per minute; 0 is unlimited
	PriceDivisor    float64
	Refresh         bool // refetch days previously found empty
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// TickImporter downloads a symbol's trades and quotes day by day, merges
// them into ticks and writes
//
//	<DataDir>/ticks/<SYMBOL>/<YYYY-MM-DD>.scid
//
// Days with an existing file, or already found empty, are skipped, so a
// rerun resumes an interrupted import.
type TickImporter struct {
	src     TickSource
	dataDir string
	symbol  string
	rng     gather.DateRange
	opts    ImportOptions
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewTickImporter creates a TickImporter for symbol over rng.
func NewTickImporter(src TickSource, dataDir, symbol string, rng gather.DateRange, opts ImportOptions) *TickImporter {
	symbol = strings.ToUpper(symbol)
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.PriceDivisor <= 0 {
		opts.PriceDivisor = scid.DefaultPriceDivisor
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &TickImporter{
		src:     src,
		dataDir: dataDir,
		symbol:  symbol,
		rng:     rng,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     log.With("gatherer", "us-ticks", "symbol", symbol),
	}
}

// Name returns the gatherer identifier.
func (g *TickImporter) Name() string { return "us-ticks" }

// Dir returns the directory holding the per-day files.
func (g *TickImporter) Dir() string { return DayDir(g.dataDir, g.symbol) }

// Run imports every weekday of the range. A failed day is logged and the
// import moves on; Run then reports how many days failed.
func (g *TickImporter) Run(ctx context.Context) error {
	dir := g.Dir()
	tracker, err := newProgressTracker(dir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if g.opts.Refresh {
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	days := util.SessionDays(g.rng.Start, g.rng.End)
	g.log.Info("starting import", "days", len(days), "dir", dir)

	var wrote, empty, skipped, failed, ticks int
	runStart := time.Now()
	for _, day := range days {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := day.Format(dayLayout)
		path := filepath.Join(dir, key+".scid")
		if fileExists(path) || tracker.IsEmpty(key) {
			skipped++
			continue
		}

		dayTicks, err := g.fetchDay(ctx, day)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Error("day import failed", "day", key, "err", err)
			failed++
			continue
		}
		if len(dayTicks) == 0 {
			if err := tracker.MarkEmpty(key); err != nil {
				g.log.Error("marking empty failed", "day", key, "err", err)
			}
			empty++
			continue
		}

		if err := scid.WriteFile(path, dayTicks, scid.WithPriceDivisor(g.opts.PriceDivisor)); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		g.opts.Metrics.AddImported(g.symbol, len(dayTicks))
		wrote++
		ticks += len(dayTicks)

		g.log.Info("day done",
			"day", key,
			"ticks", len(dayTicks),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
	}

	g.log.Info("import complete",
		"written", wrote,
		"empty", empty,
		"skipped", skipped,
		"failed", failed,
		"ticks", ticks,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	if failed > 0 {
		return fmt.Errorf("%d of %d days failed", failed, len(days))
	}
	if len(days) > 0 {
		if err := tracker.MarkCompleted(days[len(days)-1].Format(dayLayout)); err != nil {
			return fmt.Errorf("marking completed: %w", err)
		}
	}
	return nil
}

// fetchDay downloads and merges one UTC day.
func (g *TickImporter) fetchDay(ctx context.Context, day time.Time) ([]domain.Tick, error) {
	start, end := day, day.AddDate(0, 0, 1)

	var trades []gather.Trade
	err := g.call(ctx, func() error {
		var err error
		trades, err = g.src.Trades(ctx, g.symbol, start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("trades: %w", err)
	}
	if len(trades) == 0 {
		return nil, nil
	}

	var quotes []gather.Quote
	err = g.call(ctx, func() error {
		var err error
		quotes, err = g.src.Quotes(ctx, g.symbol, start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("quotes: %w", err)
	}
	return gather.MergeTicks(trades, quotes), nil
}

// call rate-limits and retries one request. Context errors are permanent.
func (g *TickImporter) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, g.opts.MaxRetries+1, g.opts.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		err := fn()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return util.Permanent(err)
		}
		return err
	})
}

// ---------------------------------------------------------------------------
// Assembly
// ---------------------------------------------------------------------------

// DayDir returns the per-day file directory of symbol under dataDir.
func DayDir(dataDir, symbol string) string {
	return filepath.Join(dataDir, "ticks", strings.ToUpper(symbol))
}

// Assemble concatenates the per-day files of symbol within rng, in date
// order, into a single SCID file at out. Missing days are skipped. It
// returns the number of ticks written.
func Assemble(dataDir, symbol string, rng gather.DateRange, out string, opts ...scid.Option) (int, error) {
	w, err := scid.Create(out, opts...)
	if err != nil {
		return 0, err
	}

	dir := DayDir(dataDir, symbol)
	for _, day := range util.SessionDays(rng.Start, rng.End) {
		path := filepath.Join(dir, day.Format(dayLayout)+".scid")
		if !fileExists(path) {
			continue
		}
		if err := appendFile(w, path, opts); err != nil {
			w.Close()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}

func appendFile(w *scid.Writer, path string, opts []scid.Option) error {
	f, err := scid.Open(path, opts...)
	if err != nil {
		return err
	}
	defer f.Close()

	ticks, err := f.Ticks()
	if err != nil {
		return err
	}
	return w.WriteAll(ticks)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
