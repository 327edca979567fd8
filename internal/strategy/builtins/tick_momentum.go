package builtins

import (
	"context"
	"fmt"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

// Compile-time interface check.
var _ strategy.TickStrategy = (*TickMomentum)(nil)

// TickMomentum trades the running bid/ask volume imbalance. The
// accumulators reset every lookback ticks counted across batches, so the
// signals do not depend on how the ticks were chunked.
type TickMomentum struct {
	lookback  int
	threshold float64

	cumBid float64
	cumAsk float64
	seen   int
}

// NewTickMomentum creates a TickMomentum strategy. threshold is the
// imbalance, in [0, 1), beyond which a side is taken.
func NewTickMomentum(lookback int, threshold float64) (*TickMomentum, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookback)
	}
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in [0, 1), got %v", threshold)
	}
	return &TickMomentum{lookback: lookback, threshold: threshold}, nil
}

// Name returns "tick-momentum".
func (s *TickMomentum) Name() string {
	return "tick-momentum"
}

// OnTicks returns long while buyers dominate and short while sellers do.
func (s *TickMomentum) OnTicks(_ context.Context, ticks *domain.TickData) ([]int, error) {
	signals := make([]int, ticks.NumTicks)
	for i := 0; i < ticks.NumTicks; i++ {
		s.cumBid += ticks.BidVolume[i]
		s.cumAsk += ticks.AskVolume[i]

		var imbalance float64
		if total := s.cumBid + s.cumAsk; total > 0 {
			imbalance = (s.cumBid - s.cumAsk) / total
		}
		switch {
		case imbalance > s.threshold:
			signals[i] = int(domain.SignalLong)
		case imbalance < -s.threshold:
			signals[i] = int(domain.SignalShort)
		}

		s.seen++
		if s.seen%s.lookback == 0 {
			s.cumBid, s.cumAsk = 0, 0
		}
	}
	return signals, nil
}
