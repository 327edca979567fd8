// Package stats derives summary performance figures from a trade ledger and
// an equity curve.
package stats

import (
	"math"
	"time"

	"backtester/internal/domain"
)

// AnnualizationFactor is the number of periods per year the Sharpe ratio is
// scaled by (sqrt(252)). It is fixed and never inferred from the data.
const AnnualizationFactor = 252

// Compute builds a ResultSet from trades and equity. It does not modify its
// inputs and keeps no state; degenerate inputs produce zero-valued ratios
// rather than NaN. The equity slice is copied into the result.
func Compute(trades []domain.Trade, equity []float64) domain.ResultSet {
	rs := domain.ResultSet{
		NumTrades:   len(trades),
		EquityCurve: append([]float64(nil), equity...),
	}
	if rs.EquityCurve == nil {
		rs.EquityCurve = []float64{}
	}

	var grossProfit, grossLoss float64
	var holding time.Duration
	for _, t := range trades {
		rs.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			rs.NumWins++
			grossProfit += t.PnL
			if t.PnL > rs.LargestWin {
				rs.LargestWin = t.PnL
			}
		case t.PnL < 0:
			rs.NumLosses++
			grossLoss -= t.PnL
			if t.PnL < rs.LargestLoss {
				rs.LargestLoss = t.PnL
			}
		}
		switch t.Side {
		case domain.SideLong:
			rs.NumLong++
		case domain.SideShort:
			rs.NumShort++
		}
		holding += t.HoldingTime()
	}

	if rs.NumTrades > 0 {
		rs.WinRate = float64(rs.NumWins) / float64(rs.NumTrades)
		rs.AvgHoldingTimeSecs = holding.Seconds() / float64(rs.NumTrades)
	}
	rs.ProfitFactor = ProfitFactor(grossProfit, grossLoss)
	if rs.NumWins > 0 {
		rs.AvgWin = grossProfit / float64(rs.NumWins)
	}
	if rs.NumLosses > 0 {
		rs.AvgLoss = -grossLoss / float64(rs.NumLosses)
	}

	rs.MaxDrawdown, rs.MaxDrawdownPct = MaxDrawdown(equity)
	rs.SharpeRatio = Sharpe(equity)
	return rs
}

// ProfitFactor returns grossProfit/grossLoss, where grossLoss is a positive
// magnitude. With no losses it is +Inf if there was any profit and 0
// otherwise.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	switch {
	case grossLoss > 0:
		return grossProfit / grossLoss
	case grossProfit > 0:
		return math.Inf(1)
	default:
		return 0
	}
}

// Drawdown returns, for each sample, the distance below the running peak:
// max(equity[0..i]) - equity[i]. Every value is >= 0.
func Drawdown(equity []float64) []float64 {
	dd := make([]float64, len(equity))
	if len(equity) == 0 {
		return dd
	}
	peak := equity[0]
	for i, eq := range equity {
		if eq > peak {
			peak = eq
		}
		dd[i] = peak - eq
	}
	return dd
}

// MaxDrawdown returns the largest peak-to-trough decline and that decline as
// a percentage of the peak it fell from. The percentage is 0 when that peak
// is not positive.
func MaxDrawdown(equity []float64) (float64, float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0]
	var maxDD, peakAtMax float64
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if dd := peak - eq; dd > maxDD {
			maxDD = dd
			peakAtMax = peak
		}
	}
	if peakAtMax <= 0 {
		return maxDD, 0
	}
	return maxDD, maxDD / peakAtMax * 100
}

// Sharpe returns mean/stdev of the per-sample equity changes scaled by
// sqrt(AnnualizationFactor). The standard deviation is the sample one. It
// is 0 with fewer than two changes or when the changes never vary.
func Sharpe(equity []float64) float64 {
	n := len(equity) - 1
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(equity); i++ {
		sum += equity[i] - equity[i-1]
	}
	mean := sum / float64(n)

	var ss float64
	for i := 1; i < len(equity); i++ {
		d := equity[i] - equity[i-1] - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(n-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(AnnualizationFactor)
}
