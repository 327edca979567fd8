// Package strategy defines the capability contracts a backtest strategy can
// implement and provides a Registry for constructing strategies by name.
package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"backtester/internal/domain"
)

// BarStrategy turns the full bar series of a run into one signal per bar.
// Each returned value must be -1, 0 or 1.
type BarStrategy interface {
	OnBars(ctx context.Context, bars *domain.BarData) ([]int, error)
}

// TickStrategy turns one batch of ticks into one signal per tick. It is
// called once per batch, in file order, and may keep state between calls.
type TickStrategy interface {
	OnTicks(ctx context.Context, ticks *domain.TickData) ([]int, error)
}

// Named is implemented by strategies that carry a display name.
type Named interface {
	Name() string
}

// BarFunc adapts a plain function to BarStrategy.
type BarFunc func(ctx context.Context, bars *domain.BarData) ([]int, error)

// OnBars calls f.
func (f BarFunc) OnBars(ctx context.Context, bars *domain.BarData) ([]int, error) {
	return f(ctx, bars)
}

// TickFunc adapts a plain function to TickStrategy.
type TickFunc func(ctx context.Context, ticks *domain.TickData) ([]int, error)

// OnTicks calls f.
func (f TickFunc) OnTicks(ctx context.Context, ticks *domain.TickData) ([]int, error) {
	return f(ctx, ticks)
}

// Compile-time interface checks.
var (
	_ BarStrategy  = BarFunc(nil)
	_ TickStrategy = TickFunc(nil)
)

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// Params are numeric strategy settings keyed by name, as they arrive from
// configuration files, flags or RPC requests.
type Params map[string]float64

// Float returns p[key], or def when the key is absent.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns p[key] rounded to the nearest integer, or def when the key is
// absent.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(math.Round(v))
	}
	return def
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Factory builds a fresh strategy instance. The value returned should
// implement BarStrategy, TickStrategy, or both.
type Factory func(p Params) (any, error)

// Registry maps strategy names to factories. A new instance is built for
// every lookup so stateful strategies never leak state between runs.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) build(name string, p Params) (any, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, name)
	}
	s, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("building strategy %q: %w", name, err)
	}
	return s, nil
}

// Bar builds the named strategy and returns it as a BarStrategy. It fails
// with domain.ErrStrategyUnsupported if the strategy only handles ticks.
func (r *Registry) Bar(name string, p Params) (BarStrategy, error) {
	s, err := r.build(name, p)
	if err != nil {
		return nil, err
	}
	bs, ok := s.(BarStrategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no bar handler", domain.ErrStrategyUnsupported, name)
	}
	return bs, nil
}

// Tick builds the named strategy and returns it as a TickStrategy. It fails
// with domain.ErrStrategyUnsupported if the strategy only handles bars.
func (r *Registry) Tick(name string, p Params) (TickStrategy, error) {
	s, err := r.build(name, p)
	if err != nil {
		return nil, err
	}
	ts, ok := s.(TickStrategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no tick handler", domain.ErrStrategyUnsupported, name)
	}
	return ts, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
