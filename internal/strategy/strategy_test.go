package strategy

import (
	"context"
	"errors"
	"testing"

	"backtester/internal/domain"
)

// barOnly implements only the bar capability.
type barOnly struct{}

func (barOnly) OnBars(_ context.Context, b *domain.BarData) ([]int, error) {
	return make([]int, b.NumBars), nil
}

// tickOnly implements only the tick capability and counts its batches.
type tickOnly struct{ calls int }

func (s *tickOnly) OnTicks(_ context.Context, d *domain.TickData) ([]int, error) {
	s.calls++
	return make([]int, d.NumTicks), nil
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register("bars", func(Params) (any, error) { return barOnly{}, nil })
	r.Register("ticks", func(Params) (any, error) { return &tickOnly{}, nil })
	r.Register("broken", func(Params) (any, error) { return nil, errors.New("bad params") })
	return r
}

func TestRegistryCapabilities(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Bar("bars", nil); err != nil {
		t.Errorf("Bar(bars): %v", err)
	}
	if _, err := r.Tick("ticks", nil); err != nil {
		t.Errorf("Tick(ticks): %v", err)
	}
	if _, err := r.Tick("bars", nil); !errors.Is(err, domain.ErrStrategyUnsupported) {
		t.Errorf("Tick(bars) error = %v, want ErrStrategyUnsupported", err)
	}
	if _, err := r.Bar("ticks", nil); !errors.Is(err, domain.ErrStrategyUnsupported) {
		t.Errorf("Bar(ticks) error = %v, want ErrStrategyUnsupported", err)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Bar("nonexistent", nil); !errors.Is(err, domain.ErrUnknownStrategy) {
		t.Errorf("Bar(nonexistent) error = %v, want ErrUnknownStrategy", err)
	}
	if _, err := r.Tick("broken", nil); err == nil || errors.Is(err, domain.ErrUnknownStrategy) {
		t.Errorf("Tick(broken) error = %v, want factory error", err)
	}
}

func TestRegistryFreshInstances(t *testing.T) {
	r := newTestRegistry()
	a, _ := r.Tick("ticks", nil)
	b, _ := r.Tick("ticks", nil)

	d := domain.NewTickData(0)
	a.OnTicks(context.Background(), d)
	a.OnTicks(context.Background(), d)
	if a.(*tickOnly).calls != 2 || b.(*tickOnly).calls != 0 {
		t.Error("Registry returned a shared instance")
	}
}

func TestRegistryList(t *testing.T) {
	r := newTestRegistry()
	names := r.List()
	if len(names) != 3 {
		t.Fatalf("List returned %d names, want 3", len(names))
	}
	// List returns sorted names.
	if names[0] != "bars" || names[1] != "broken" || names[2] != "ticks" {
		t.Errorf("List returned %v, want [bars broken ticks]", names)
	}
}

func TestFuncAdapters(t *testing.T) {
	var bs BarStrategy = BarFunc(func(_ context.Context, b *domain.BarData) ([]int, error) {
		return []int{b.NumBars}, nil
	})
	got, err := bs.OnBars(context.Background(), &domain.BarData{NumBars: 7})
	if err != nil || len(got) != 1 || got[0] != 7 {
		t.Errorf("BarFunc.OnBars = %v, %v", got, err)
	}
}

func TestParams(t *testing.T) {
	p := Params{"fast": 9.6, "threshold": 0.25}
	if p.Int("fast", 1) != 10 {
		t.Errorf("Int(fast) = %d, want 10", p.Int("fast", 1))
	}
	if p.Int("slow", 30) != 30 {
		t.Errorf("Int(slow) default = %d, want 30", p.Int("slow", 30))
	}
	if p.Float("threshold", 0) != 0.25 {
		t.Errorf("Float(threshold) = %v", p.Float("threshold", 0))
	}
	var nilParams Params
	if nilParams.Float("x", 3) != 3 {
		t.Error("nil Params should return defaults")
	}
}
