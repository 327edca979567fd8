package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRun(t *testing.T) {
	m := New(nil)
	m.ObserveRun(ModeBars, 20*time.Millisecond, nil)
	m.ObserveRun(ModeBars, time.Second, errors.New("boom"))
	m.ObserveRun(ModeTicks, time.Millisecond, nil)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(ModeBars, "ok")); got != 1 {
		t.Errorf("bars/ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(ModeBars, "error")); got != 1 {
		t.Errorf("bars/error = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RunDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestCounters(t *testing.T) {
	m := New(nil)
	m.AddTicks(ModeTicks, 500)
	m.AddTicks(ModeTicks, 0)
	m.AddBars(12)
	m.IncBatch()
	m.IncBatch()
	m.AddTrade("long", "signal")
	m.AddImported("SPY", 42)

	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues(ModeTicks)); got != 500 {
		t.Errorf("ticks = %v, want 500", got)
	}
	if got := testutil.ToFloat64(m.BarsTotal); got != 12 {
		t.Errorf("bars = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.BatchesTotal); got != 2 {
		t.Errorf("batches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TradesTotal.WithLabelValues("long", "signal")); got != 1 {
		t.Errorf("trades = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ImportTotal.WithLabelValues("SPY")); got != 42 {
		t.Errorf("imported = %v, want 42", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRun(ModeBars, time.Second, nil)
	m.AddTicks(ModeBars, 1)
	m.AddBars(1)
	m.IncBatch()
	m.AddTrade("short", "end_of_data")
	m.AddImported("SPY", 1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.AddBars(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "backtest_bars_total 3") {
		t.Errorf("exposition missing backtest_bars_total:\n%s", body)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(nil), New(nil)
	a.AddBars(1)
	if testutil.ToFloat64(b.BarsTotal) != 0 {
		t.Error("metrics instances share collectors")
	}
}
