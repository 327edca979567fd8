// Package builtins provides built-in strategy implementations that ship with
// the backtester.
package builtins

import (
	"context"
	"fmt"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

// Compile-time interface check.
var _ strategy.BarStrategy = (*SMACross)(nil)

// SMACross is a moving average crossover over bar closes. It is long while
// the fast SMA is above the slow SMA, short while it is below, and flat
// until the slow SMA has a full window behind it.
type SMACross struct {
	fastPeriod int
	slowPeriod int
}

// NewSMACross creates a new SMACross strategy with the specified fast and
// slow moving average periods.
func NewSMACross(fast, slow int) (*SMACross, error) {
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("sma periods must be positive, got %d/%d", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("fast period %d must be shorter than slow period %d", fast, slow)
	}
	return &SMACross{
		fastPeriod: fast,
		slowPeriod: slow,
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// OnBars computes both averages from one running sum of closes, so the
// whole series costs O(bars).
func (s *SMACross) OnBars(ctx context.Context, bars *domain.BarData) ([]int, error) {
	n := bars.NumBars
	signals := make([]int, n)

	cum := make([]float64, n+1)
	for i, c := range bars.Close {
		cum[i+1] = cum[i] + c
	}
	sma := func(i, period int) float64 {
		return (cum[i+1] - cum[i+1-period]) / float64(period)
	}

	for i := s.slowPeriod; i < n; i++ {
		if i%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fast, slow := sma(i, s.fastPeriod), sma(i, s.slowPeriod)
		switch {
		case fast > slow:
			signals[i] = int(domain.SignalLong)
		case fast < slow:
			signals[i] = int(domain.SignalShort)
		}
	}
	return signals, nil
}
