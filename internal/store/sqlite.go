package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"backtester/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                    TEXT PRIMARY KEY,
	mode                  TEXT NOT NULL,
	strategy              TEXT NOT NULL,
	path                  TEXT NOT NULL,
	timeframe             TEXT NOT NULL DEFAULT '',
	batch_size            INTEGER NOT NULL DEFAULT 0,
	commission            REAL NOT NULL,
	point_value           REAL NOT NULL,
	started_at            INTEGER NOT NULL,
	elapsed_us            INTEGER NOT NULL,
	total_pnl             REAL NOT NULL,
	num_trades            INTEGER NOT NULL,
	num_long              INTEGER NOT NULL,
	num_short             INTEGER NOT NULL,
	num_wins              INTEGER NOT NULL,
	num_losses            INTEGER NOT NULL,
	win_rate              REAL NOT NULL,
	profit_factor         TEXT NOT NULL, -- "+Inf" without losing trades
	avg_win               REAL NOT NULL,
	avg_loss              REAL NOT NULL,
	largest_win           REAL NOT NULL,
	largest_loss          REAL NOT NULL,
	max_drawdown          REAL NOT NULL,
	max_drawdown_pct      REAL NOT NULL,
	sharpe_ratio          REAL NOT NULL,
	avg_holding_time_secs REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS trades (
	run_id        TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	side          TEXT NOT NULL,
	entry_time_us INTEGER NOT NULL,
	entry_price   REAL NOT NULL,
	exit_time_us  INTEGER NOT NULL,
	exit_price    REAL NOT NULL,
	commission    REAL NOT NULL,
	pnl           REAL NOT NULL,
	exit_reason   TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; an in-memory database also lives
	// on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

const runColumns = `id, mode, strategy, path, timeframe, batch_size, commission,
	point_value, started_at, elapsed_us, total_pnl, num_trades, num_long,
	num_short, num_wins, num_losses, win_rate, profit_factor, avg_win,
	avg_loss, largest_win, largest_loss, max_drawdown, max_drawdown_pct,
	sharpe_ratio, avg_holding_time_secs`

// SaveRun inserts run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	r := run.Result
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Strategy, run.Path, run.Timeframe, run.BatchSize,
		run.Commission, run.PointValue, run.StartedAt.UnixMicro(), run.Elapsed.Microseconds(),
		r.TotalPnL, r.NumTrades, r.NumLong, r.NumShort, r.NumWins, r.NumLosses,
		r.WinRate, strconv.FormatFloat(r.ProfitFactor, 'g', -1, 64), r.AvgWin, r.AvgLoss, r.LargestWin,
		r.LargestLoss, r.MaxDrawdown, r.MaxDrawdownPct, r.SharpeRatio,
		r.AvgHoldingTimeSecs,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trades (run_id, seq, side, entry_time_us, entry_price,
		exit_time_us, exit_price, commission, pnl, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, run.ID, i, t.Side.String(), t.EntryTimeUS,
			t.EntryPrice, t.ExitTimeUS, t.ExitPrice, t.Commission, t.PnL, string(t.Exit)); err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

// GetRun retrieves a single run by its ID. It returns ErrNotFound for an
// unknown ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RunTrades returns the ledger of a run in closing order.
func (s *SQLiteStore) RunTrades(ctx context.Context, id string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT side, entry_time_us, entry_price, exit_time_us, exit_price,
		commission, pnl, exit_reason FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t          domain.Trade
			side, exit string
		)
		if err := rows.Scan(&side, &t.EntryTimeUS, &t.EntryPrice, &t.ExitTimeUS,
			&t.ExitPrice, &t.Commission, &t.PnL, &exit); err != nil {
			return nil, err
		}
		t.Side = domain.ParseSide(side)
		t.Exit = domain.ExitReason(exit)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DeleteRun removes a run and its trades.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run       Run
		startedUS int64
		elapsedUS int64
		pf        string
	)
	r := &run.Result
	err := sc.Scan(&run.ID, &run.Mode, &run.Strategy, &run.Path, &run.Timeframe,
		&run.BatchSize, &run.Commission, &run.PointValue, &startedUS, &elapsedUS,
		&r.TotalPnL, &r.NumTrades, &r.NumLong, &r.NumShort, &r.NumWins, &r.NumLosses,
		&r.WinRate, &pf, &r.AvgWin, &r.AvgLoss, &r.LargestWin, &r.LargestLoss,
		&r.MaxDrawdown, &r.MaxDrawdownPct, &r.SharpeRatio, &r.AvgHoldingTimeSecs)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMicro(startedUS).UTC()
	run.Elapsed = time.Duration(elapsedUS) * time.Microsecond
	if r.ProfitFactor, err = strconv.ParseFloat(pf, 64); err != nil {
		return nil, fmt.Errorf("run %s: profit factor %q: %w", run.ID, pf, err)
	}
	return &run, nil
}
