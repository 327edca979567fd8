package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"backtester/internal/domain"
	"backtester/internal/engine"
	"backtester/internal/metrics"
	"backtester/internal/scid"
	"backtester/internal/store"
	"backtester/internal/strategy"
	"backtester/internal/strategy/builtins"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService writes a seven-minute tick file to data/ES.scid and
// returns a Service over it with SQLite run history. The "fixed" strategy
// goes long for two bars, then short for two.
func newTestService(t *testing.T, withHistory bool) *Service {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	prices := []float64{10, 11, 12, 13, 12, 11, 10}
	ticks := make([]domain.Tick, len(prices))
	for i, p := range prices {
		ticks[i] = domain.Tick{
			TimestampUS: t0.Add(time.Duration(i) * time.Minute).UnixMicro(),
			Price:       p,
			Bid:         p,
			Ask:         p,
			Volume:      1,
			NumTrades:   1,
		}
	}
	if err := scid.WriteFile(filepath.Join(dataDir, "ES.scid"), ticks); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	reg := builtins.NewRegistry()
	reg.Register("fixed", func(strategy.Params) (any, error) {
		return strategy.BarFunc(func(context.Context, *domain.BarData) ([]int, error) {
			return []int{0, 1, 1, 0, -1, -1, 0}, nil
		}), nil
	})

	var rec *store.Recorder
	if withHistory {
		db, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		rec = store.NewRecorder(db, store.NewParquetStore(dataDir), quietLogger())
	}

	eng := engine.New(engine.Options{PointValue: 1, Logger: quietLogger()})
	return NewService(eng, reg, rec, dataDir, Defaults{}, quietLogger())
}

// startServer serves svc on a loopback port and returns a connection to it.
func startServer(t *testing.T, svc BacktestServer) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(svc, lis.Addr().String(), "", nil, quietLogger())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

func TestParseRunRequest(t *testing.T) {
	commission := 1.25
	in := RunRequest{
		Mode:       ModeTicks,
		Path:       "ES.scid",
		Strategy:   "tick-momentum",
		Params:     map[string]float64{"lookback": 50},
		BatchSize:  1000,
		Commission: &commission,
		Record:     true,
	}
	s, err := in.Struct()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseRunRequest(s)
	if err != nil {
		t.Fatalf("ParseRunRequest: %v", err)
	}
	if got.Mode != ModeTicks || got.Path != "ES.scid" || got.BatchSize != 1000 || !got.Record {
		t.Errorf("ParseRunRequest = %+v", got)
	}
	if got.Commission == nil || *got.Commission != 1.25 {
		t.Errorf("Commission = %v, want 1.25", got.Commission)
	}
	if got.Params["lookback"] != 50 {
		t.Errorf("Params = %v", got.Params)
	}
}

func TestParseRunRequestInvalid(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]any
	}{
		{"bad mode", map[string]any{"mode": "candles", "path": "a", "strategy": "s"}},
		{"no path", map[string]any{"mode": "bars", "strategy": "s"}},
		{"no strategy", map[string]any{"mode": "bars", "path": "a"}},
		{"string param", map[string]any{"mode": "bars", "path": "a", "strategy": "s", "params": map[string]any{"fast": "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRunRequest(mustStruct(t, tt.m)); err == nil {
				t.Error("ParseRunRequest() = nil error")
			}
		})
	}
}

func TestResponseKeepsInfiniteProfitFactor(t *testing.T) {
	run := &store.Run{ID: "r1", Mode: ModeBars, StartedAt: t0, Elapsed: 1500 * time.Microsecond}
	res := &domain.Result{
		ResultSet: domain.ResultSet{TotalPnL: 4, NumTrades: 1, ProfitFactor: math.Inf(1), EquityCurve: []float64{0, 4}},
		Trades: []domain.Trade{{
			Side: domain.SideShort, EntryTimeUS: t0.UnixMicro(), EntryPrice: 12,
			ExitTimeUS: t0.Add(time.Minute).UnixMicro(), ExitPrice: 8, PnL: 4, Exit: domain.ExitEndOfData,
		}},
	}
	run.Result = res.ResultSet
	s, err := EncodeResponse(run, res)
	if err != nil {
		t.Fatal(err)
	}
	gotRun, gotRes, err := DecodeResponse(s)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(gotRes.ProfitFactor, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf", gotRes.ProfitFactor)
	}
	if !gotRun.StartedAt.Equal(t0) || gotRun.Elapsed != run.Elapsed {
		t.Errorf("run timing = %v / %v", gotRun.StartedAt, gotRun.Elapsed)
	}
	if gotRes.Trades[0] != res.Trades[0] {
		t.Errorf("trade = %+v, want %+v", gotRes.Trades[0], res.Trades[0])
	}
}

// ---------------------------------------------------------------------------
// Service helpers
// ---------------------------------------------------------------------------

func TestResolve(t *testing.T) {
	s := &Service{dataDir: "/srv/data"}
	if got, err := s.resolve("ticks/ES/2024-03-04.scid"); err != nil || got != "/srv/data/ticks/ES/2024-03-04.scid" {
		t.Errorf("resolve = %q, %v", got, err)
	}
	for _, p := range []string{"/etc/passwd", "../secret.scid", "a/../../b.scid"} {
		if _, err := s.resolve(p); err == nil {
			t.Errorf("resolve(%q) = nil error", p)
		}
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("x: %w", domain.ErrUnknownStrategy), codes.InvalidArgument},
		{fmt.Errorf("x: %w", domain.ErrInvalidBatchSize), codes.InvalidArgument},
		{fmt.Errorf("x: %w", domain.ErrFileAccess), codes.NotFound},
		{fmt.Errorf("x: %w", store.ErrNotFound), codes.NotFound},
		{fmt.Errorf("x: %w", domain.ErrNoData), codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestRunBacktestOverGRPC(t *testing.T) {
	conn := startServer(t, newTestService(t, true))
	ctx := context.Background()

	req, err := RunRequest{Mode: ModeBars, Path: "ES.scid", Strategy: "fixed", Timeframe: "1m", Record: true}.Struct()
	if err != nil {
		t.Fatal(err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodRunBacktest, req, out); err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	run, res, err := DecodeResponse(out)
	if err != nil {
		t.Fatal(err)
	}
	if run.ID == "" {
		t.Error("recorded run has no ID")
	}
	if res.NumTrades != 2 || res.TotalPnL != 4 || len(res.EquityCurve) != 7 {
		t.Errorf("result = %+v", res.ResultSet)
	}

	// The recorded run comes back identical through GetRun.
	out = new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodGetRun, mustStruct(t, map[string]any{"id": run.ID}), out); err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	_, stored, err := DecodeResponse(out)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TotalPnL != 4 || len(stored.Trades) != 2 || !math.IsInf(stored.ProfitFactor, 1) {
		t.Errorf("stored result = %+v", stored.ResultSet)
	}

	out = new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodListRuns, mustStruct(t, map[string]any{"limit": 10}), out); err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if runs := DecodeRuns(out); len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("ListRuns = %+v", runs)
	}
}

func TestStreamTradesOverGRPC(t *testing.T) {
	svc := newTestService(t, true)
	conn := startServer(t, svc)
	ctx := context.Background()

	req, _ := RunRequest{Mode: ModeBars, Path: "ES.scid", Strategy: "fixed", Record: true}.Struct()
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodRunBacktest, req, out); err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	run, _, _ := DecodeResponse(out)

	stream, err := conn.NewStream(ctx, &StreamTradesDesc, MethodStreamTrades)
	if err != nil {
		t.Fatal(err)
	}
	if err := stream.SendMsg(mustStruct(t, map[string]any{"id": run.ID})); err != nil {
		t.Fatal(err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}
	var sides []domain.Side
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("RecvMsg: %v", err)
		}
		sides = append(sides, DecodeTrade(msg).Side)
	}
	if len(sides) != 2 || sides[0] != domain.SideLong || sides[1] != domain.SideShort {
		t.Errorf("streamed sides = %v", sides)
	}
}

func TestRunBacktestErrorCodes(t *testing.T) {
	conn := startServer(t, newTestService(t, false))
	ctx := context.Background()

	tests := []struct {
		name string
		req  RunRequest
		want codes.Code
	}{
		{"unknown strategy", RunRequest{Mode: ModeBars, Path: "ES.scid", Strategy: "nope"}, codes.InvalidArgument},
		{"bar-only strategy in tick mode", RunRequest{Mode: ModeTicks, Path: "ES.scid", Strategy: "sma-cross"}, codes.InvalidArgument},
		{"bad timeframe", RunRequest{Mode: ModeBars, Path: "ES.scid", Strategy: "fixed", Timeframe: "7x"}, codes.InvalidArgument},
		{"missing file", RunRequest{Mode: ModeBars, Path: "NQ.scid", Strategy: "fixed"}, codes.NotFound},
		{"escaping path", RunRequest{Mode: ModeBars, Path: "../ES.scid", Strategy: "fixed"}, codes.InvalidArgument},
		{"record without history", RunRequest{Mode: ModeBars, Path: "ES.scid", Strategy: "fixed", Record: true}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.req.Struct()
			if err != nil {
				t.Fatal(err)
			}
			err = conn.Invoke(ctx, MethodRunBacktest, req, new(structpb.Struct))
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v (%v), want %v", got, err, tt.want)
			}
		})
	}

	err := conn.Invoke(ctx, MethodGetRun, mustStruct(t, map[string]any{"id": "x"}), new(structpb.Struct))
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("GetRun without history = %v, want FailedPrecondition", err)
	}
}

func TestListStrategies(t *testing.T) {
	conn := startServer(t, newTestService(t, false))
	out := new(structpb.Struct)
	if err := conn.Invoke(context.Background(), MethodListStrategies, &structpb.Struct{}, out); err != nil {
		t.Fatal(err)
	}
	names := out.AsMap()["strategies"].([]any)
	want := []string{"fixed", "sma-cross", "tick-momentum"}
	if len(names) != len(want) {
		t.Fatalf("strategies = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("strategies[%d] = %v, want %v", i, names[i], want[i])
		}
	}
}

func TestHTTPHandler(t *testing.T) {
	m := metrics.New(nil)
	m.AddBars(3)
	srv := NewServer(newTestService(t, false), "127.0.0.1:0", "127.0.0.1:0", m, quietLogger())
	srv.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "api:"+r.URL.Path)
	}))

	rec := httptest.NewRecorder()
	srv.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "backtest_bars_total 3") {
		t.Errorf("/metrics = %d\n%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Body.String() != "api:/api/runs" {
		t.Errorf("/api/runs = %q", rec.Body.String())
	}
}
