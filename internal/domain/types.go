// Package domain holds the market-data and simulation types shared by the
// reader, aggregator, simulator, and statistics packages.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Tick is a single trade/quote record decoded from a tick history file.
type Tick struct {
	TimestampUS int64 // Unix microseconds
	Price       float64
	Bid         float64
	Ask         float64
	Volume      uint32
	BidVolume   uint32
	AskVolume   uint32
	NumTrades   uint32
}

// Time returns the tick timestamp as a time.Time in UTC.
func (t Tick) Time() time.Time {
	return time.UnixMicro(t.TimestampUS).UTC()
}

// Bar is an OHLCV aggregate over one fixed interval. TimestampUS is the
// interval open time.
type Bar struct {
	TimestampUS int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      uint64
	BidVolume   uint64
	AskVolume   uint64
	NumTrades   uint64
}

// Time returns the bar open time as a time.Time in UTC.
func (b Bar) Time() time.Time {
	return time.UnixMicro(b.TimestampUS).UTC()
}

// TickData is the columnar form of a tick sequence handed to tick
// strategies. All slices have length NumTicks.
type TickData struct {
	Timestamp []int64 // Unix microseconds
	Price     []float64
	Bid       []float64
	Ask       []float64
	Volume    []float64
	BidVolume []float64
	AskVolume []float64
	NumTrades []float64 // only populated by full loads
	NumTicks  int
}

// NewTickData allocates an empty TickData with room for n ticks.
func NewTickData(n int) *TickData {
	return &TickData{
		Timestamp: make([]int64, 0, n),
		Price:     make([]float64, 0, n),
		Bid:       make([]float64, 0, n),
		Ask:       make([]float64, 0, n),
		Volume:    make([]float64, 0, n),
		BidVolume: make([]float64, 0, n),
		AskVolume: make([]float64, 0, n),
	}
}

// Append adds one tick to every column.
func (d *TickData) Append(t Tick) {
	d.Timestamp = append(d.Timestamp, t.TimestampUS)
	d.Price = append(d.Price, t.Price)
	d.Bid = append(d.Bid, t.Bid)
	d.Ask = append(d.Ask, t.Ask)
	d.Volume = append(d.Volume, float64(t.Volume))
	d.BidVolume = append(d.BidVolume, float64(t.BidVolume))
	d.AskVolume = append(d.AskVolume, float64(t.AskVolume))
	if d.NumTrades != nil {
		d.NumTrades = append(d.NumTrades, float64(t.NumTrades))
	}
	d.NumTicks++
}

// BarData is the columnar form of a bar sequence handed to bar strategies.
// All slices have length NumBars.
type BarData struct {
	Timestamp []int64 // bar open, Unix microseconds
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64
	BidVolume []float64
	AskVolume []float64
	NumBars   int
}

// NewBarData converts bars into columnar form.
func NewBarData(bars []Bar) *BarData {
	n := len(bars)
	d := &BarData{
		Timestamp: make([]int64, n),
		Open:      make([]float64, n),
		High:      make([]float64, n),
		Low:       make([]float64, n),
		Close:     make([]float64, n),
		Volume:    make([]float64, n),
		BidVolume: make([]float64, n),
		AskVolume: make([]float64, n),
		NumBars:   n,
	}
	for i, b := range bars {
		d.Timestamp[i] = b.TimestampUS
		d.Open[i] = b.Open
		d.High[i] = b.High
		d.Low[i] = b.Low
		d.Close[i] = b.Close
		d.Volume[i] = float64(b.Volume)
		d.BidVolume[i] = float64(b.BidVolume)
		d.AskVolume[i] = float64(b.AskVolume)
	}
	return d
}

// ---------------------------------------------------------------------------
// Signals and positions
// ---------------------------------------------------------------------------

// Signal is a per-bar or per-tick directional instruction.
type Signal int

const (
	SignalShort Signal = -1
	SignalFlat  Signal = 0
	SignalLong  Signal = 1
)

// Valid reports whether s is one of Long, Short, or Flat.
func (s Signal) Valid() bool {
	return s >= SignalShort && s <= SignalLong
}

// Side is the direction of a position or trade.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

// SideFor returns the position side a valid signal asks for.
func SideFor(s Signal) Side {
	switch s {
	case SignalLong:
		return SideLong
	case SignalShort:
		return SideShort
	default:
		return SideFlat
	}
}

// String returns "flat", "long" or "short".
func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

// ParseSide is the inverse of Side.String.
func ParseSide(s string) Side {
	switch s {
	case "long":
		return SideLong
	case "short":
		return SideShort
	default:
		return SideFlat
	}
}

// Position is the simulator's open exposure. A Flat position has zero
// entry fields.
type Position struct {
	Side        Side
	EntryPrice  float64
	EntryTimeUS int64
}

// ExitReason records why a trade was closed.
type ExitReason string

const (
	// ExitSignal is a close caused by a signal change.
	ExitSignal ExitReason = "signal"
	// ExitEndOfData is the mark-to-market close of a position still open
	// when the data runs out.
	ExitEndOfData ExitReason = "end_of_data"
)

// Trade is a completed entry-to-exit position.
type Trade struct {
	Side        Side
	EntryTimeUS int64
	EntryPrice  float64
	ExitTimeUS  int64
	ExitPrice   float64
	Commission  float64
	PnL         float64
	Exit        ExitReason
}

// HoldingTime returns the time between entry and exit.
func (t Trade) HoldingTime() time.Duration {
	return time.Duration(t.ExitTimeUS-t.EntryTimeUS) * time.Microsecond
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// ResultSet is the summary produced by the statistics engine. Field names in
// tags are the names reporting collaborators consume.
type ResultSet struct {
	TotalPnL           float64   `json:"total_pnl" yaml:"total_pnl"`
	NumTrades          int       `json:"num_trades" yaml:"num_trades"`
	NumLong            int       `json:"num_long" yaml:"num_long"`
	NumShort           int       `json:"num_short" yaml:"num_short"`
	NumWins            int       `json:"num_wins" yaml:"num_wins"`
	NumLosses          int       `json:"num_losses" yaml:"num_losses"`
	WinRate            float64   `json:"win_rate" yaml:"win_rate"`
	ProfitFactor       float64   `json:"profit_factor" yaml:"profit_factor"`
	AvgWin             float64   `json:"avg_win" yaml:"avg_win"`
	AvgLoss            float64   `json:"avg_loss" yaml:"avg_loss"`
	LargestWin         float64   `json:"largest_win" yaml:"largest_win"`
	LargestLoss        float64   `json:"largest_loss" yaml:"largest_loss"`
	MaxDrawdown        float64   `json:"max_drawdown" yaml:"max_drawdown"`
	MaxDrawdownPct     float64   `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	SharpeRatio        float64   `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	AvgHoldingTimeSecs float64   `json:"avg_holding_time_secs" yaml:"avg_holding_time_secs"`
	EquityCurve        []float64 `json:"equity_curve" yaml:"equity_curve"`
}

// Result is a ResultSet together with the trade ledger it was computed from.
type Result struct {
	ResultSet
	Trades []Trade
}
