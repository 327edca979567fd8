package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"backtester/internal/domain"
)

// Recorder persists completed runs: the summary and ledger go to a RunStore,
// the ledger and equity curve are also exported to Parquet.
type Recorder struct {
	runs   RunStore
	trades TradeStore
	equity EquityStore
	log    *slog.Logger
}

// NewRecorder creates a Recorder. files may be nil to skip the Parquet export.
func NewRecorder(runs RunStore, files *ParquetStore, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	rec := &Recorder{runs: runs, log: log}
	if files != nil {
		rec.trades = files
		rec.equity = files
	}
	return rec
}

// Record assigns run a fresh ID when it has none, fills its Result from res
// and stores it. It returns the run ID. When the Parquet export fails the
// stored summary is removed again, so a run is either fully recorded or
// absent.
func (r *Recorder) Record(ctx context.Context, run *Run, res *domain.Result) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Result = res.ResultSet
	run.Result.EquityCurve = nil

	// SaveRun goes first so a duplicate ID is rejected before any export
	// file is overwritten.
	if err := r.runs.SaveRun(ctx, run, res.Trades); err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}
	if err := r.export(ctx, run.ID, res); err != nil {
		// A run without its export files could be listed but never loaded.
		if derr := r.runs.DeleteRun(context.WithoutCancel(ctx), run.ID); derr != nil {
			r.log.Error("removing partially recorded run", "run_id", run.ID, "error", derr)
		}
		return "", err
	}

	r.log.Info("run recorded",
		"run_id", run.ID,
		"mode", run.Mode,
		"strategy", run.Strategy,
		"trades", len(res.Trades),
		"total_pnl", res.TotalPnL,
	)
	return run.ID, nil
}

func (r *Recorder) export(ctx context.Context, id string, res *domain.Result) error {
	if r.trades != nil {
		if err := r.trades.WriteTrades(ctx, id, res.Trades); err != nil {
			return err
		}
	}
	if r.equity != nil {
		if err := r.equity.WriteEquity(ctx, id, res.EquityCurve); err != nil {
			return err
		}
	}
	return nil
}

// Load reassembles a stored run: summary and ledger from the RunStore and,
// when Parquet export is configured, the equity curve.
func (r *Recorder) Load(ctx context.Context, id string) (*Run, *domain.Result, error) {
	run, err := r.runs.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	trades, err := r.runs.RunTrades(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res := &domain.Result{ResultSet: run.Result, Trades: trades}
	if r.equity != nil {
		eq, err := r.equity.ReadEquity(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		res.EquityCurve = eq
	}
	return run, res, nil
}

// List returns up to limit run summaries, newest first. A limit <= 0
// returns every run.
func (r *Recorder) List(ctx context.Context, limit int) ([]Run, error) {
	return r.runs.ListRuns(ctx, limit)
}
