// Package metrics exposes Prometheus collectors for backtest runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run modes used as the "mode" label.
const (
	ModeBars  = "bars"
	ModeTicks = "ticks"
)

// Metrics holds the collectors for one registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	TicksTotal   *prometheus.CounterVec
	BarsTotal    prometheus.Counter
	BatchesTotal prometheus.Counter
	TradesTotal  *prometheus.CounterVec
	ImportTotal  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg gets a
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "backtest_runs_total", Help: "Backtest runs by mode and outcome"},
			[]string{"mode", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Wall time of completed backtest runs",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"mode"},
		),
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "backtest_ticks_total", Help: "Ticks delivered to strategies or aggregators"},
			[]string{"mode"},
		),
		BarsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "backtest_bars_total", Help: "Bars built by the aggregator"},
		),
		BatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "backtest_tick_batches_total", Help: "Tick batches handed to tick strategies"},
		),
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "backtest_trades_total", Help: "Simulated trades by side and exit reason"},
			[]string{"side", "exit"},
		),
		ImportTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "scid_import_records_total", Help: "Records written by the tick importer"},
			[]string{"symbol"},
		),
		gatherer: reg,
	}
	reg.MustRegister(
		m.RunsTotal, m.RunDuration, m.TicksTotal, m.BarsTotal,
		m.BatchesTotal, m.TradesTotal, m.ImportTotal,
	)
	return m
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(mode string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	if err == nil {
		m.RunDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	}
}

// AddTicks counts n ticks consumed in mode.
func (m *Metrics) AddTicks(mode string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TicksTotal.WithLabelValues(mode).Add(float64(n))
}

// AddBars counts n bars built.
func (m *Metrics) AddBars(n int) {
	if m == nil || n == 0 {
		return
	}
	m.BarsTotal.Add(float64(n))
}

// IncBatch counts one tick batch.
func (m *Metrics) IncBatch() {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
}

// AddTrade counts one closed trade.
func (m *Metrics) AddTrade(side, exit string) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(side, exit).Inc()
}

// AddImported counts n records written for symbol.
func (m *Metrics) AddImported(symbol string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ImportTotal.WithLabelValues(symbol).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
