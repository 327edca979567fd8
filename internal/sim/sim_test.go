package sim

import (
	"errors"
	"testing"

	"backtester/internal/domain"
)

func seqTimestamps(n int) []int64 {
	ts := make([]int64, n)
	for i := range ts {
		ts[i] = int64(i) * 1_000_000
	}
	return ts
}

func TestEndToEndScenario(t *testing.T) {
	signals := []int{0, 1, 1, 0, -1, -1, 0}
	prices := []float64{10, 11, 12, 13, 12, 11, 10}

	s := New(0, 1)
	if err := s.Process(signals, prices, seqTimestamps(len(prices))); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if s.Finish(10, 7_000_000) {
		t.Error("Finish closed a position, want flat at end")
	}

	trades := s.Trades()
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	long, short := trades[0], trades[1]
	if long.Side != domain.SideLong || long.EntryPrice != 11 || long.ExitPrice != 13 || long.PnL != 2 {
		t.Errorf("first trade = %+v, want long 11 -> 13 pnl 2", long)
	}
	if short.Side != domain.SideShort || short.EntryPrice != 12 || short.ExitPrice != 10 || short.PnL != 2 {
		t.Errorf("second trade = %+v, want short 12 -> 10 pnl 2", short)
	}
	if long.EntryTimeUS != 1_000_000 || long.ExitTimeUS != 3_000_000 {
		t.Errorf("long trade times = %d..%d, want 1s..3s", long.EntryTimeUS, long.ExitTimeUS)
	}

	wantEquity := []float64{0, 0, 1, 2, 2, 3, 4}
	eq := s.EquityCurve()
	if len(eq) != len(wantEquity) {
		t.Fatalf("equity has %d samples, want %d", len(eq), len(wantEquity))
	}
	for i := range wantEquity {
		if eq[i] != wantEquity[i] {
			t.Errorf("equity[%d] = %v, want %v", i, eq[i], wantEquity[i])
		}
	}
}

func TestSingleLongTradePnL(t *testing.T) {
	const (
		p1, p2 = 4500.25, 4512.75
		c      = 4.5
		m      = 50.0
	)
	s := New(c, m)
	if err := s.Process([]int{1, 0}, []float64{p1, p2}, []int64{0, 60_000_000}); err != nil {
		t.Fatal(err)
	}
	trades := s.Trades()
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	want := (p2-p1)*m - c
	if trades[0].PnL != want {
		t.Errorf("pnl = %v, want %v", trades[0].PnL, want)
	}
	if trades[0].Commission != c || trades[0].Exit != domain.ExitSignal {
		t.Errorf("trade = %+v", trades[0])
	}
	if s.Realized() != want {
		t.Errorf("Realized() = %v, want %v", s.Realized(), want)
	}
}

func TestFlipClosesThenOpens(t *testing.T) {
	s := New(1, 1)
	if err := s.Process([]int{1, -1}, []float64{100, 105}, []int64{1, 2}); err != nil {
		t.Fatal(err)
	}
	trades := s.Trades()
	if len(trades) != 1 || trades[0].PnL != 4 {
		t.Fatalf("trades = %+v, want one long closed with pnl 4", trades)
	}
	pos := s.Position()
	if pos.Side != domain.SideShort || pos.EntryPrice != 105 || pos.EntryTimeUS != 2 {
		t.Errorf("Position() = %+v, want short at 105", pos)
	}
}

func TestLengthMismatch(t *testing.T) {
	s := New(0, 1)
	err := s.Process([]int{0, 1}, []float64{1, 2, 3}, seqTimestamps(3))
	if !errors.Is(err, domain.ErrLengthMismatch) {
		t.Fatalf("Process error = %v, want ErrLengthMismatch", err)
	}
	err = s.Process([]int{0, 1, 0}, []float64{1, 2, 3}, seqTimestamps(2))
	if !errors.Is(err, domain.ErrLengthMismatch) {
		t.Fatalf("Process error = %v, want ErrLengthMismatch", err)
	}
}

func TestInvalidSignal(t *testing.T) {
	for _, bad := range []int{2, -2, 7} {
		s := New(0, 1)
		err := s.Process([]int{1, bad}, []float64{1, 2}, seqTimestamps(2))
		if !errors.Is(err, domain.ErrInvalidSignal) {
			t.Errorf("signal %d: error = %v, want ErrInvalidSignal", bad, err)
		}
	}
}

func TestRejectedBatchLeavesStateUnchanged(t *testing.T) {
	s := New(0, 1)
	if err := s.Process([]int{1}, []float64{10}, []int64{0}); err != nil {
		t.Fatal(err)
	}
	before := s.Position()

	// The first element would close the long; the bad second one must stop
	// that from happening.
	if err := s.Process([]int{0, 3}, []float64{20, 21}, []int64{1, 2}); err == nil {
		t.Fatal("Process accepted signal 3")
	}
	if s.Position() != before {
		t.Errorf("Position() = %+v after rejected batch, want %+v", s.Position(), before)
	}
	if len(s.Trades()) != 0 || len(s.EquityCurve()) != 1 || s.Steps() != 1 {
		t.Errorf("rejected batch mutated ledger: trades=%d equity=%d steps=%d",
			len(s.Trades()), len(s.EquityCurve()), s.Steps())
	}
}

func TestFinishClosesAsEndOfData(t *testing.T) {
	s := New(2, 10)
	if err := s.Process([]int{0, -1, -1}, []float64{50, 50, 49}, seqTimestamps(3)); err != nil {
		t.Fatal(err)
	}
	if !s.FinishLast() {
		t.Fatal("FinishLast returned false with an open short")
	}
	trades := s.Trades()
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Exit != domain.ExitEndOfData || tr.ExitPrice != 49 || tr.ExitTimeUS != 2_000_000 {
		t.Errorf("forced close = %+v", tr)
	}
	if tr.PnL != 8 {
		t.Errorf("pnl = %v, want (50-49)*10-2 = 8", tr.PnL)
	}
	eq := s.EquityCurve()
	if len(eq) != 4 || eq[3] != 8 {
		t.Errorf("equity = %v, want 4 samples ending at 8", eq)
	}
	if s.Position().Side != domain.SideFlat {
		t.Error("position still open after Finish")
	}
}

func TestZeroSignalsStayFlat(t *testing.T) {
	s := New(5, 50)
	n := 100
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 + float64(i%7)
	}
	if err := s.Process(make([]int, n), prices, seqTimestamps(n)); err != nil {
		t.Fatal(err)
	}
	s.FinishLast()
	if len(s.Trades()) != 0 {
		t.Errorf("got %d trades from all-flat signals", len(s.Trades()))
	}
	for i, v := range s.EquityCurve() {
		if v != 0 {
			t.Fatalf("equity[%d] = %v, want 0", i, v)
		}
	}
}

func TestBatchesCarryState(t *testing.T) {
	signals := []int{1, 1, 1, -1, -1, 0, 1, 0}
	prices := []float64{5, 6, 7, 8, 6, 5, 5, 9}
	ts := seqTimestamps(len(prices))

	whole := New(0.5, 2)
	if err := whole.Process(signals, prices, ts); err != nil {
		t.Fatal(err)
	}

	split := New(0.5, 2)
	for lo := 0; lo < len(signals); lo += 3 {
		hi := min(lo+3, len(signals))
		if err := split.Process(signals[lo:hi], prices[lo:hi], ts[lo:hi]); err != nil {
			t.Fatal(err)
		}
	}

	a, b := whole.Trades(), split.Trades()
	if len(a) != len(b) {
		t.Fatalf("trade counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("trade %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
