package bars

import "backtester/internal/domain"

// FillPolicy controls what happens to intervals that contain no ticks.
type FillPolicy int

const (
	// Sparse omits intervals without ticks. This is the default.
	Sparse FillPolicy = iota
	// Dense emits a flat, zero-volume bar at the prior close for every empty
	// interval between the first and last tick.
	Dense
)

// String returns "sparse" or "dense".
func (p FillPolicy) String() string {
	if p == Dense {
		return "dense"
	}
	return "sparse"
}

// ParseFillPolicy maps "dense" to Dense and anything else to Sparse.
func ParseFillPolicy(s string) FillPolicy {
	if s == "dense" {
		return Dense
	}
	return Sparse
}

// Aggregator builds bars incrementally from ticks delivered in file order.
// Each Add is O(1) amortized; no earlier tick is revisited.
type Aggregator struct {
	tf     Timeframe
	policy FillPolicy
	cur    domain.Bar
	open   bool
	bars   []domain.Bar
}

// NewAggregator returns an empty Aggregator.
func NewAggregator(tf Timeframe, policy FillPolicy) *Aggregator {
	return &Aggregator{tf: tf, policy: policy}
}

// Add folds one tick into the current bar, closing it first when the tick
// falls into a different interval. Ticks with a non-positive price are
// ignored.
func (a *Aggregator) Add(t domain.Tick) {
	if t.Price <= 0 {
		return
	}
	bs := a.tf.BarStart(t.TimestampUS)

	if !a.open || bs != a.cur.TimestampUS {
		if a.open {
			a.bars = append(a.bars, a.cur)
			if a.policy == Dense {
				a.fillGap(bs)
			}
		}
		a.cur = domain.Bar{
			TimestampUS: bs,
			Open:        t.Price,
			High:        t.Price,
			Low:         t.Price,
			Close:       t.Price,
			Volume:      uint64(t.Volume),
			BidVolume:   uint64(t.BidVolume),
			AskVolume:   uint64(t.AskVolume),
			NumTrades:   uint64(t.NumTrades),
		}
		a.open = true
		return
	}

	if t.Price > a.cur.High {
		a.cur.High = t.Price
	}
	if t.Price < a.cur.Low {
		a.cur.Low = t.Price
	}
	a.cur.Close = t.Price
	a.cur.Volume += uint64(t.Volume)
	a.cur.BidVolume += uint64(t.BidVolume)
	a.cur.AskVolume += uint64(t.AskVolume)
	a.cur.NumTrades += uint64(t.NumTrades)
}

// fillGap emits flat bars for every interval strictly between the bar just
// closed and next. Nothing is filled when time goes backwards.
func (a *Aggregator) fillGap(next int64) {
	step := a.tf.Seconds() * 1_000_000
	last := a.cur.Close
	for ts := a.cur.TimestampUS + step; ts < next; ts += step {
		a.bars = append(a.bars, domain.Bar{
			TimestampUS: ts,
			Open:        last,
			High:        last,
			Low:         last,
			Close:       last,
		})
	}
}

// Flush closes the open bar, if any, and returns every bar built. The
// Aggregator must not be used afterwards.
func (a *Aggregator) Flush() []domain.Bar {
	if a.open {
		a.bars = append(a.bars, a.cur)
		a.open = false
	}
	return a.bars
}

// Aggregate builds bars from ticks in a single pass.
func Aggregate(ticks []domain.Tick, tf Timeframe, policy FillPolicy) []domain.Bar {
	a := NewAggregator(tf, policy)
	a.bars = make([]domain.Bar, 0, len(ticks)/100+1)
	for i := range ticks {
		a.Add(ticks[i])
	}
	return a.Flush()
}
