// Package httpapi provides a read-only HTTP JSON API over recorded backtest
// runs and the Parquet bar store, for dashboards and notebooks.
package httpapi

import (
	"math"
	"strconv"
	"time"

	"backtester/internal/domain"
	"backtester/internal/store"
)

// Float marshals like a float64 but writes infinities and NaN as quoted
// strings ("+Inf"), which plain JSON numbers cannot carry.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte(strconv.Quote(strconv.FormatFloat(v, 'g', -1, 64))), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// ResultJSON is the JSON representation of a run's statistics.
type ResultJSON struct {
	TotalPnL           Float `json:"totalPnl"`
	NumTrades          int   `json:"numTrades"`
	NumLong            int   `json:"numLong"`
	NumShort           int   `json:"numShort"`
	NumWins            int   `json:"numWins"`
	NumLosses          int   `json:"numLosses"`
	WinRate            Float `json:"winRate"`
	ProfitFactor       Float `json:"profitFactor"`
	AvgWin             Float `json:"avgWin"`
	AvgLoss            Float `json:"avgLoss"`
	LargestWin         Float `json:"largestWin"`
	LargestLoss        Float `json:"largestLoss"`
	MaxDrawdown        Float `json:"maxDrawdown"`
	MaxDrawdownPct     Float `json:"maxDrawdownPct"`
	SharpeRatio        Float `json:"sharpeRatio"`
	AvgHoldingTimeSecs Float `json:"avgHoldingTimeSecs"`
}

// RunJSON is one run summary.
type RunJSON struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	Strategy   string     `json:"strategy"`
	Path       string     `json:"path"`
	Timeframe  string     `json:"timeframe,omitempty"`
	BatchSize  int        `json:"batchSize,omitempty"`
	Commission float64    `json:"commission"`
	PointValue float64    `json:"pointValue"`
	StartedAt  time.Time  `json:"startedAt"`
	ElapsedMS  int64      `json:"elapsedMs"`
	Result     ResultJSON `json:"result"`
}

// TradeJSON is one ledger entry. Times are Unix milliseconds.
type TradeJSON struct {
	Side       string  `json:"side"`
	EntryTime  int64   `json:"entryTime"`
	EntryPrice float64 `json:"entryPrice"`
	ExitTime   int64   `json:"exitTime"`
	ExitPrice  float64 `json:"exitPrice"`
	Commission float64 `json:"commission"`
	PnL        float64 `json:"pnl"`
	Exit       string  `json:"exit"`
}

// RunDetailResponse is the GET /api/runs/{id} payload.
type RunDetailResponse struct {
	Run         RunJSON     `json:"run"`
	Trades      []TradeJSON `json:"trades"`
	EquityCurve []float64   `json:"equityCurve"`
	Drawdown    []float64   `json:"drawdown"`
}

// BarJSON is one OHLCV bar. Time is the bar open in Unix milliseconds.
type BarJSON struct {
	Time      int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    uint64  `json:"volume"`
	BidVolume uint64  `json:"bidVolume"`
	AskVolume uint64  `json:"askVolume"`
	Trades    uint64  `json:"trades"`
}

func convertResult(rs domain.ResultSet) ResultJSON {
	return ResultJSON{
		TotalPnL:           Float(rs.TotalPnL),
		NumTrades:          rs.NumTrades,
		NumLong:            rs.NumLong,
		NumShort:           rs.NumShort,
		NumWins:            rs.NumWins,
		NumLosses:          rs.NumLosses,
		WinRate:            Float(rs.WinRate),
		ProfitFactor:       Float(rs.ProfitFactor),
		AvgWin:             Float(rs.AvgWin),
		AvgLoss:            Float(rs.AvgLoss),
		LargestWin:         Float(rs.LargestWin),
		LargestLoss:        Float(rs.LargestLoss),
		MaxDrawdown:        Float(rs.MaxDrawdown),
		MaxDrawdownPct:     Float(rs.MaxDrawdownPct),
		SharpeRatio:        Float(rs.SharpeRatio),
		AvgHoldingTimeSecs: Float(rs.AvgHoldingTimeSecs),
	}
}

func convertRun(r *store.Run) RunJSON {
	return RunJSON{
		ID:         r.ID,
		Mode:       r.Mode,
		Strategy:   r.Strategy,
		Path:       r.Path,
		Timeframe:  r.Timeframe,
		BatchSize:  r.BatchSize,
		Commission: r.Commission,
		PointValue: r.PointValue,
		StartedAt:  r.StartedAt,
		ElapsedMS:  r.Elapsed.Milliseconds(),
		Result:     convertResult(r.Result),
	}
}

func convertTrade(t domain.Trade) TradeJSON {
	return TradeJSON{
		Side:       t.Side.String(),
		EntryTime:  t.EntryTimeUS / 1000,
		EntryPrice: t.EntryPrice,
		ExitTime:   t.ExitTimeUS / 1000,
		ExitPrice:  t.ExitPrice,
		Commission: t.Commission,
		PnL:        t.PnL,
		Exit:       string(t.Exit),
	}
}

func convertBar(b domain.Bar) BarJSON {
	return BarJSON{
		Time:      b.TimestampUS / 1000,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		BidVolume: b.BidVolume,
		AskVolume: b.AskVolume,
		Trades:    b.NumTrades,
	}
}
