package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"backtester/internal/domain"
	"backtester/internal/stats"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ TradeStore = (*ParquetStore)(nil)
var _ EquityStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore, TradeStore and EquityStore using Parquet
// files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for aggregated bars.
type BarRecord struct {
	Timestamp  int64   `parquet:"timestamp,timestamp(microsecond)"` // bar open, Unix µs
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	BidVolume  int64   `parquet:"bid_volume"`
	AskVolume  int64   `parquet:"ask_volume"`
	TradeCount int64   `parquet:"trade_count"`
}

// TradeRecord is the Parquet schema for a simulated trade.
type TradeRecord struct {
	Seq        int64   `parquet:"seq"`
	Side       string  `parquet:"side"`
	EntryTime  int64   `parquet:"entry_time,timestamp(microsecond)"`
	EntryPrice float64 `parquet:"entry_price"`
	ExitTime   int64   `parquet:"exit_time,timestamp(microsecond)"`
	ExitPrice  float64 `parquet:"exit_price"`
	Commission float64 `parquet:"commission"`
	PnL        float64 `parquet:"pnl"`
	ExitReason string  `parquet:"exit_reason"`
}

// EquityRecord is the Parquet schema for one equity curve sample.
type EquityRecord struct {
	Index    int64   `parquet:"index"`
	Equity   float64 `parquet:"equity"`
	Drawdown float64 `parquet:"drawdown"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars merges bars into the file at:
//
//	<DataDir>/bars/<INSTRUMENT>/<timeframe>.parquet
//
// Bars with the same open time replace stored ones.
func (s *ParquetStore) WriteBars(_ context.Context, instrument, timeframe string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Timestamp:  b.TimestampUS,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     int64(b.Volume),
			BidVolume:  int64(b.BidVolume),
			AskVolume:  int64(b.AskVolume),
			TradeCount: int64(b.NumTrades),
		}
	}

	path := s.barPath(instrument, timeframe)

	// Read existing records to merge.
	existing, _ := readParquetFile[BarRecord](path)
	merged := mergeBarRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing bars for %s/%s: %w", instrument, timeframe, err)
	}
	return nil
}

// ReadBars reads stored bars for instrument/timeframe within [start, end].
// A missing file yields no bars and no error.
func (s *ParquetStore) ReadBars(_ context.Context, instrument, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	records, err := readParquetFile[BarRecord](s.barPath(instrument, timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	lo, hi := start.UnixMicro(), end.UnixMicro()
	var bars []domain.Bar
	for _, r := range records {
		if r.Timestamp < lo || r.Timestamp > hi {
			continue
		}
		bars = append(bars, domain.Bar{
			TimestampUS: r.Timestamp,
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Volume:      uint64(r.Volume),
			BidVolume:   uint64(r.BidVolume),
			AskVolume:   uint64(r.AskVolume),
			NumTrades:   uint64(r.TradeCount),
		})
	}
	return bars, nil
}

// ListInstruments lists all instruments that have bar data.
func (s *ParquetStore) ListInstruments(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

// WriteTrades writes the ledger of a run, replacing any earlier export.
func (s *ParquetStore) WriteTrades(_ context.Context, runID string, trades []domain.Trade) error {
	records := make([]TradeRecord, len(trades))
	for i, t := range trades {
		records[i] = TradeRecord{
			Seq:        int64(i),
			Side:       t.Side.String(),
			EntryTime:  t.EntryTimeUS,
			EntryPrice: t.EntryPrice,
			ExitTime:   t.ExitTimeUS,
			ExitPrice:  t.ExitPrice,
			Commission: t.Commission,
			PnL:        t.PnL,
			ExitReason: string(t.Exit),
		}
	}
	if err := writeParquetFile(s.runPath(runID, "trades"), records); err != nil {
		return fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	return nil
}

// ReadTrades reads the ledger of a run in closing order.
func (s *ParquetStore) ReadTrades(_ context.Context, runID string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeRecord](s.runPath(runID, "trades"))
	if err != nil {
		return nil, fmt.Errorf("reading trades for run %s: %w", runID, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	trades := make([]domain.Trade, len(records))
	for i, r := range records {
		trades[i] = domain.Trade{
			Side:        domain.ParseSide(r.Side),
			EntryTimeUS: r.EntryTime,
			EntryPrice:  r.EntryPrice,
			ExitTimeUS:  r.ExitTime,
			ExitPrice:   r.ExitPrice,
			Commission:  r.Commission,
			PnL:         r.PnL,
			Exit:        domain.ExitReason(r.ExitReason),
		}
	}
	return trades, nil
}

// ---------------------------------------------------------------------------
// EquityStore implementation
// ---------------------------------------------------------------------------

// WriteEquity writes the equity curve of a run with its drawdown series.
func (s *ParquetStore) WriteEquity(_ context.Context, runID string, equity []float64) error {
	dd := stats.Drawdown(equity)
	records := make([]EquityRecord, len(equity))
	for i, v := range equity {
		records[i] = EquityRecord{Index: int64(i), Equity: v, Drawdown: dd[i]}
	}
	if err := writeParquetFile(s.runPath(runID, "equity"), records); err != nil {
		return fmt.Errorf("writing equity for run %s: %w", runID, err)
	}
	return nil
}

// ReadEquity reads the equity curve of a run.
func (s *ParquetStore) ReadEquity(_ context.Context, runID string) ([]float64, error) {
	records, err := readParquetFile[EquityRecord](s.runPath(runID, "equity"))
	if err != nil {
		return nil, fmt.Errorf("reading equity for run %s: %w", runID, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	equity := make([]float64, len(records))
	for i, r := range records {
		equity[i] = r.Equity
	}
	return equity, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/bars/<INSTRUMENT>/<timeframe>.parquet
func (s *ParquetStore) barPath(instrument, timeframe string) string {
	return filepath.Join(s.DataDir, "bars", strings.ToUpper(instrument), timeframe+".parquet")
}

// runPath returns the filesystem path for a per-run Parquet file.
// Layout: <dataDir>/runs/<runID>/<name>.parquet
func (s *ParquetStore) runPath(runID, name string) string {
	return filepath.Join(s.DataDir, "runs", runID, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
