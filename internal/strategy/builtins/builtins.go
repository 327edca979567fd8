package builtins

import "backtester/internal/strategy"

// Default parameters.
const (
	DefaultFastPeriod = 10
	DefaultSlowPeriod = 30
	DefaultLookback   = 5000
	DefaultThreshold  = 0.1
)

// Register adds every built-in strategy to r. Recognised params are
// "fast"/"slow" for sma-cross and "lookback"/"threshold" for tick-momentum.
func Register(r *strategy.Registry) {
	r.Register("sma-cross", func(p strategy.Params) (any, error) {
		return NewSMACross(p.Int("fast", DefaultFastPeriod), p.Int("slow", DefaultSlowPeriod))
	})
	r.Register("tick-momentum", func(p strategy.Params) (any, error) {
		return NewTickMomentum(p.Int("lookback", DefaultLookback), p.Float("threshold", DefaultThreshold))
	})
}

// NewRegistry returns a Registry holding the built-in strategies.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
