// Package sim replays a signal sequence through a Flat/Long/Short position
// state machine and records the resulting trades and equity curve.
package sim

import (
	"fmt"

	"backtester/internal/domain"
)

// DefaultPointValue is the contract multiplier used when none is configured.
const DefaultPointValue = 50.0

// Simulator owns the position, trade ledger and equity curve of one run. It
// is not safe for concurrent use; each run creates its own.
type Simulator struct {
	commission float64
	pointValue float64

	pos      domain.Position
	realized float64

	trades []domain.Trade
	equity []float64

	lastPrice float64
	lastTS    int64
	steps     int
}

// New returns a flat Simulator. commission is charged once per closed trade;
// pointValue multiplies every price difference.
func New(commission, pointValue float64) *Simulator {
	return &Simulator{
		commission: commission,
		pointValue: pointValue,
	}
}

// Process validates and applies one batch of signals, one per price and
// timestamp. The whole batch is checked before any of it is applied, so a
// rejected batch leaves the Simulator unchanged.
func (s *Simulator) Process(signals []int, prices []float64, timestamps []int64) error {
	if len(signals) != len(prices) {
		return fmt.Errorf("%w: %d signals for %d prices", domain.ErrLengthMismatch, len(signals), len(prices))
	}
	if len(timestamps) != len(prices) {
		return fmt.Errorf("%w: %d timestamps for %d prices", domain.ErrLengthMismatch, len(timestamps), len(prices))
	}
	for i, v := range signals {
		if !domain.Signal(v).Valid() {
			return fmt.Errorf("%w: %d at index %d", domain.ErrInvalidSignal, v, i)
		}
	}

	for i, v := range signals {
		s.step(domain.SideFor(domain.Signal(v)), prices[i], timestamps[i], domain.ExitSignal)
	}
	return nil
}

// step applies one transition and appends one equity sample.
func (s *Simulator) step(want domain.Side, price float64, ts int64, reason domain.ExitReason) {
	s.lastPrice, s.lastTS = price, ts
	s.steps++

	if want == s.pos.Side {
		s.equity = append(s.equity, s.realized+s.unrealized(price))
		return
	}

	if s.pos.Side != domain.SideFlat {
		s.close(price, ts, reason)
	}
	if want != domain.SideFlat {
		s.pos = domain.Position{Side: want, EntryPrice: price, EntryTimeUS: ts}
	}
	s.equity = append(s.equity, s.realized)
}

func (s *Simulator) close(price float64, ts int64, reason domain.ExitReason) {
	pnl := s.unrealized(price) - s.commission
	s.realized += pnl
	s.trades = append(s.trades, domain.Trade{
		Side:        s.pos.Side,
		EntryTimeUS: s.pos.EntryTimeUS,
		EntryPrice:  s.pos.EntryPrice,
		ExitTimeUS:  ts,
		ExitPrice:   price,
		Commission:  s.commission,
		PnL:         pnl,
		Exit:        reason,
	})
	s.pos = domain.Position{}
}

func (s *Simulator) unrealized(price float64) float64 {
	diff := price - s.pos.EntryPrice
	switch s.pos.Side {
	case domain.SideLong:
		return diff * s.pointValue
	case domain.SideShort:
		return -diff * s.pointValue
	default:
		return 0
	}
}

// Finish closes a still-open position at price and ts as an end-of-data
// trade and appends a final equity sample. It reports whether a position
// was closed. A flat Simulator is left untouched.
func (s *Simulator) Finish(price float64, ts int64) bool {
	if s.pos.Side == domain.SideFlat {
		return false
	}
	s.step(domain.SideFlat, price, ts, domain.ExitEndOfData)
	return true
}

// FinishLast is Finish at the most recently processed price and timestamp.
func (s *Simulator) FinishLast() bool {
	if s.steps == 0 {
		return false
	}
	return s.Finish(s.lastPrice, s.lastTS)
}

// Position returns the current position.
func (s *Simulator) Position() domain.Position { return s.pos }

// Realized returns the sum of closed-trade P&L.
func (s *Simulator) Realized() float64 { return s.realized }

// Steps returns the number of signals applied so far, including a forced
// end-of-data close.
func (s *Simulator) Steps() int { return s.steps }

// Trades returns the ledger in closing order. The slice is owned by the
// Simulator.
func (s *Simulator) Trades() []domain.Trade { return s.trades }

// EquityCurve returns one realized+unrealized sample per step. The slice is
// owned by the Simulator.
func (s *Simulator) EquityCurve() []float64 { return s.equity }
