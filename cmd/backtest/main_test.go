package main

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"backtester/internal/domain"
	"backtester/internal/store"
)

func TestParamFlag(t *testing.T) {
	p := paramFlag{}
	for _, s := range []string{"fast=5", "slow=20.5", "fast=8"} {
		if err := p.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
	}
	if p["fast"] != 8 || p["slow"] != 20.5 {
		t.Errorf("params = %v", p)
	}
	if got := p.String(); got != "fast=8,slow=20.5" {
		t.Errorf("String() = %q", got)
	}
	for _, bad := range []string{"fast", "=1", "fast=quick"} {
		if err := p.Set(bad); err == nil {
			t.Errorf("Set(%q) = nil error", bad)
		}
	}
}

func testRun() (*store.Run, *domain.Result) {
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	res := &domain.Result{
		ResultSet: domain.ResultSet{
			TotalPnL: 100, NumTrades: 1, NumLong: 1, NumWins: 1, WinRate: 1,
			ProfitFactor: math.Inf(1), EquityCurve: []float64{0, 150, 100},
		},
		Trades: []domain.Trade{{
			Side: domain.SideLong, EntryTimeUS: start.UnixMicro(), EntryPrice: 5000,
			ExitTimeUS: start.Add(time.Minute).UnixMicro(), ExitPrice: 5002,
			PnL: 100, Exit: domain.ExitEndOfData,
		}},
	}
	run := &store.Run{ID: "abc", Mode: "bars", Strategy: "sma-cross", Path: "ES.scid", Timeframe: "1m", StartedAt: start, Result: res.ResultSet}
	return run, res
}

func TestPrintResultText(t *testing.T) {
	run, res := testRun()
	var buf bytes.Buffer
	if err := printResult(&buf, "text", run, res, true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Run abc", "(1m bars)", "BACKTEST RESULTS", "Worst drawdown", "end_of_data"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResultYAML(t *testing.T) {
	run, res := testRun()
	var buf bytes.Buffer
	if err := printResult(&buf, "yaml", run, res, true); err != nil {
		t.Fatal(err)
	}
	var doc document
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if doc.ID != "abc" || !math.IsInf(doc.Result.ProfitFactor, 1) || len(doc.Trades) != 1 {
		t.Errorf("document = %+v", doc)
	}
	if doc.Trades[0].Side != "long" || doc.Trades[0].Exit != "end_of_data" {
		t.Errorf("trade = %+v", doc.Trades[0])
	}

	if err := printResult(&buf, "xml", run, res, false); err == nil {
		t.Error("unknown format accepted")
	}
}
