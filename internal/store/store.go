// Package store defines storage interfaces for persisting backtest inputs and
// outputs: aggregated bars, trade ledgers, equity curves and run history.
package store

import (
	"context"
	"errors"
	"time"

	"backtester/internal/domain"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("not found")

// Run is the stored summary of one completed backtest.
type Run struct {
	ID         string
	Mode       string // "bars" or "ticks"
	Strategy   string
	Path       string
	Timeframe  string // bar runs only
	BatchSize  int    // tick runs only
	Commission float64
	PointValue float64
	StartedAt  time.Time
	Elapsed    time.Duration

	// Result holds the statistics. EquityCurve is not kept in the run
	// history; see EquityStore.
	Result domain.ResultSet
}

// RunStore persists and retrieves run summaries and their trade ledgers.
type RunStore interface {
	// SaveRun inserts run and its trades atomically.
	SaveRun(ctx context.Context, run *Run, trades []domain.Trade) error

	// GetRun retrieves a single run by its ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// RunTrades returns the ledger of a run in closing order.
	RunTrades(ctx context.Context, id string) ([]domain.Trade, error)

	// DeleteRun removes a run and its trades.
	DeleteRun(ctx context.Context, id string) error
}

// BarStore persists and retrieves aggregated bars per instrument and
// timeframe.
type BarStore interface {
	// WriteBars merges bars into the stored series for instrument/timeframe.
	WriteBars(ctx context.Context, instrument, timeframe string, bars []domain.Bar) error

	// ReadBars returns stored bars with open times within [start, end].
	ReadBars(ctx context.Context, instrument, timeframe string, start, end time.Time) ([]domain.Bar, error)

	// ListInstruments returns all instruments that have stored bars.
	ListInstruments(ctx context.Context) ([]string, error)
}

// TradeStore persists and retrieves the trade ledger of a run.
type TradeStore interface {
	WriteTrades(ctx context.Context, runID string, trades []domain.Trade) error
	ReadTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}

// EquityStore persists and retrieves the equity curve of a run together
// with its drawdown series.
type EquityStore interface {
	WriteEquity(ctx context.Context, runID string, equity []float64) error
	ReadEquity(ctx context.Context, runID string) ([]float64, error)
}
