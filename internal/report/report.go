// Package report renders backtest results as plain text.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backtester/internal/domain"
	"backtester/internal/stats"
)

const width = 60

// Summary writes the headline statistics of rs to w.
func Summary(w io.Writer, rs domain.ResultSet) error {
	rule := strings.Repeat("=", width)
	thin := strings.Repeat("-", width)

	rows := []string{
		rule,
		"  BACKTEST RESULTS",
		rule,
		row("Total P&L:", FormatMoney(rs.TotalPnL)),
		row("Number of Trades:", FormatInt(rs.NumTrades)),
		row("  Long:", FormatInt(rs.NumLong)),
		row("  Short:", FormatInt(rs.NumShort)),
		row("Wins / Losses:", FormatInt(rs.NumWins)+" / "+FormatInt(rs.NumLosses)),
		row("Win Rate:", FormatPct(rs.WinRate, 1)),
		row("Profit Factor:", FormatRatio(rs.ProfitFactor, 2)),
		thin,
		row("Avg Win:", FormatMoney(rs.AvgWin)),
		row("Avg Loss:", FormatMoney(rs.AvgLoss)),
		row("Largest Win:", FormatMoney(rs.LargestWin)),
		row("Largest Loss:", FormatMoney(rs.LargestLoss)),
		thin,
		row("Max Drawdown:", FormatMoney(rs.MaxDrawdown)),
		row("Max Drawdown %:", FormatRatio(rs.MaxDrawdownPct, 2)+"%"),
		row("Sharpe Ratio:", FormatRatio(rs.SharpeRatio, 3)),
		row("Avg Holding Time:", FormatSeconds(rs.AvgHoldingTimeSecs)),
		rule,
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(w, r); err != nil {
			return err
		}
	}
	return nil
}

func row(label, value string) string {
	return fmt.Sprintf("  %-22s%14s", label, value)
}

// Trades writes one line per trade, followed by the commission total.
func Trades(w io.Writer, trades []domain.Trade) error {
	if _, err := fmt.Fprintf(w, "%-4s %-6s %-20s %12s %-20s %12s %12s %s\n",
		"#", "SIDE", "ENTRY", "PRICE", "EXIT", "PRICE", "PNL", "REASON"); err != nil {
		return err
	}
	for i, t := range trades {
		if _, err := fmt.Fprintf(w, "%-4d %-6s %-20s %12s %-20s %12s %12s %s\n",
			i+1,
			t.Side,
			stamp(t.EntryTimeUS),
			FormatRatio(t.EntryPrice, 2),
			stamp(t.ExitTimeUS),
			FormatRatio(t.ExitPrice, 2),
			FormatMoney(t.PnL),
			t.Exit,
		); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Commission paid: %s over %s trades\n",
		FormatMoney(TotalCommission(trades)), FormatInt(len(trades)))
	return err
}

func stamp(us int64) string {
	return time.UnixMicro(us).UTC().Format("2006-01-02 15:04:05")
}

// TotalCommission sums commission in decimal so that many small charges do
// not accumulate binary rounding error.
func TotalCommission(trades []domain.Trade) float64 {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(decimal.NewFromFloat(t.Commission))
	}
	return total.InexactFloat64()
}

// DrawdownSummary describes the worst drawdown of an equity curve: its size
// and the sample indexes of the peak and the trough.
type DrawdownSummary struct {
	Depth  float64
	Peak   int
	Trough int
}

// WorstDrawdown locates the deepest point of the drawdown series of equity.
func WorstDrawdown(equity []float64) DrawdownSummary {
	dd := stats.Drawdown(equity)
	var s DrawdownSummary
	peak := 0
	for i := range dd {
		if dd[i] == 0 {
			peak = i
		}
		if dd[i] > s.Depth {
			s = DrawdownSummary{Depth: dd[i], Peak: peak, Trough: i}
		}
	}
	return s
}
