package api

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"backtester/internal/domain"
	"backtester/internal/store"
)

// Message layouts. Every message is a google.protobuf.Struct; numbers travel
// as doubles, timestamps as Unix microseconds.
//
//	RunBacktest    in:  RunRequest fields
//	               out: {"run": Run, "trades": [Trade], "equity_curve": [number]}
//	GetRun         in:  {"id"}
//	               out: same as RunBacktest
//	ListRuns       in:  {"limit"}
//	               out: {"runs": [Run]}
//	ListStrategies in:  {}
//	               out: {"strategies": [string]}
//	StreamTrades   in:  {"id"}
//	               out: stream of Trade

// Run modes.
const (
	ModeBars  = "bars"
	ModeTicks = "ticks"
)

// RunRequest is the RunBacktest request.
type RunRequest struct {
	Mode       string             `json:"mode"` // "bars" or "ticks"
	Path       string             `json:"path"` // relative to the server data directory
	Strategy   string             `json:"strategy"`
	Params     map[string]float64 `json:"params"`
	Timeframe  string             `json:"timeframe"`  // bar runs; "" uses the server default
	BatchSize  int                `json:"batch_size"` // tick runs; 0 uses the server default
	Commission *float64           `json:"commission"` // nil uses the server default
	Record     bool               `json:"record"`     // persist to run history
}

// Struct encodes r.
func (r RunRequest) Struct() (*structpb.Struct, error) {
	m := map[string]any{
		"mode":       r.Mode,
		"path":       r.Path,
		"strategy":   r.Strategy,
		"timeframe":  r.Timeframe,
		"batch_size": r.BatchSize,
		"record":     r.Record,
	}
	if r.Commission != nil {
		m["commission"] = *r.Commission
	}
	if len(r.Params) > 0 {
		params := make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			params[k] = v
		}
		m["params"] = params
	}
	return structpb.NewStruct(m)
}

// ParseRunRequest decodes a RunBacktest request.
func ParseRunRequest(s *structpb.Struct) (RunRequest, error) {
	m := s.AsMap()
	r := RunRequest{
		Mode:      str(m, "mode"),
		Path:      str(m, "path"),
		Strategy:  str(m, "strategy"),
		Timeframe: str(m, "timeframe"),
		BatchSize: int(num(m, "batch_size")),
		Record:    m["record"] == true,
	}
	if v, ok := m["commission"].(float64); ok {
		r.Commission = &v
	}
	if p, ok := m["params"].(map[string]any); ok {
		r.Params = make(map[string]float64, len(p))
		for k, v := range p {
			f, ok := v.(float64)
			if !ok {
				return r, fmt.Errorf("param %q is not a number", k)
			}
			r.Params[k] = f
		}
	}
	switch r.Mode {
	case ModeBars, ModeTicks:
	default:
		return r, fmt.Errorf("mode %q is not %q or %q", r.Mode, ModeBars, ModeTicks)
	}
	if r.Path == "" {
		return r, fmt.Errorf("path is required")
	}
	if r.Strategy == "" {
		return r, fmt.Errorf("strategy is required")
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// EncodeResponse builds the RunBacktest / GetRun response.
func EncodeResponse(run *store.Run, res *domain.Result) (*structpb.Struct, error) {
	trades := make([]any, len(res.Trades))
	for i, t := range res.Trades {
		trades[i] = tradeMap(t)
	}
	equity := make([]any, len(res.EquityCurve))
	for i, v := range res.EquityCurve {
		equity[i] = v
	}
	return structpb.NewStruct(map[string]any{
		"run":          runMap(run),
		"trades":       trades,
		"equity_curve": equity,
	})
}

// DecodeResponse is the inverse of EncodeResponse. The returned Result
// carries the run statistics, ledger and equity curve.
func DecodeResponse(s *structpb.Struct) (*store.Run, *domain.Result, error) {
	m := s.AsMap()
	rm, ok := m["run"].(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("response has no run")
	}
	run := decodeRun(rm)

	res := &domain.Result{ResultSet: run.Result}
	if list, ok := m["trades"].([]any); ok {
		res.Trades = make([]domain.Trade, 0, len(list))
		for _, v := range list {
			tm, _ := v.(map[string]any)
			res.Trades = append(res.Trades, decodeTrade(tm))
		}
	}
	res.EquityCurve = []float64{}
	if list, ok := m["equity_curve"].([]any); ok {
		for _, v := range list {
			f, _ := v.(float64)
			res.EquityCurve = append(res.EquityCurve, f)
		}
	}
	return &run, res, nil
}

// EncodeRuns builds the ListRuns response.
func EncodeRuns(runs []store.Run) (*structpb.Struct, error) {
	list := make([]any, len(runs))
	for i := range runs {
		list[i] = runMap(&runs[i])
	}
	return structpb.NewStruct(map[string]any{"runs": list})
}

// DecodeRuns is the inverse of EncodeRuns.
func DecodeRuns(s *structpb.Struct) []store.Run {
	list, _ := s.AsMap()["runs"].([]any)
	runs := make([]store.Run, 0, len(list))
	for _, v := range list {
		rm, _ := v.(map[string]any)
		runs = append(runs, decodeRun(rm))
	}
	return runs
}

// EncodeTrade encodes one StreamTrades message.
func EncodeTrade(t domain.Trade) (*structpb.Struct, error) {
	return structpb.NewStruct(tradeMap(t))
}

// DecodeTrade is the inverse of EncodeTrade.
func DecodeTrade(s *structpb.Struct) domain.Trade {
	return decodeTrade(s.AsMap())
}

func runMap(r *store.Run) map[string]any {
	rs := r.Result
	return map[string]any{
		"id":            r.ID,
		"mode":          r.Mode,
		"strategy":      r.Strategy,
		"path":          r.Path,
		"timeframe":     r.Timeframe,
		"batch_size":    r.BatchSize,
		"commission":    r.Commission,
		"point_value":   r.PointValue,
		"started_at_us": r.StartedAt.UnixMicro(),
		"elapsed_us":    r.Elapsed.Microseconds(),
		"result": map[string]any{
			"total_pnl":             rs.TotalPnL,
			"num_trades":            rs.NumTrades,
			"num_long":              rs.NumLong,
			"num_short":             rs.NumShort,
			"num_wins":              rs.NumWins,
			"num_losses":            rs.NumLosses,
			"win_rate":              rs.WinRate,
			"profit_factor":         rs.ProfitFactor,
			"avg_win":               rs.AvgWin,
			"avg_loss":              rs.AvgLoss,
			"largest_win":           rs.LargestWin,
			"largest_loss":          rs.LargestLoss,
			"max_drawdown":          rs.MaxDrawdown,
			"max_drawdown_pct":      rs.MaxDrawdownPct,
			"sharpe_ratio":          rs.SharpeRatio,
			"avg_holding_time_secs": rs.AvgHoldingTimeSecs,
		},
	}
}

func decodeRun(m map[string]any) store.Run {
	run := store.Run{
		ID:         str(m, "id"),
		Mode:       str(m, "mode"),
		Strategy:   str(m, "strategy"),
		Path:       str(m, "path"),
		Timeframe:  str(m, "timeframe"),
		BatchSize:  int(num(m, "batch_size")),
		Commission: num(m, "commission"),
		PointValue: num(m, "point_value"),
		StartedAt:  time.UnixMicro(int64(num(m, "started_at_us"))).UTC(),
		Elapsed:    time.Duration(num(m, "elapsed_us")) * time.Microsecond,
	}
	rm, _ := m["result"].(map[string]any)
	run.Result = domain.ResultSet{
		TotalPnL:           num(rm, "total_pnl"),
		NumTrades:          int(num(rm, "num_trades")),
		NumLong:            int(num(rm, "num_long")),
		NumShort:           int(num(rm, "num_short")),
		NumWins:            int(num(rm, "num_wins")),
		NumLosses:          int(num(rm, "num_losses")),
		WinRate:            num(rm, "win_rate"),
		ProfitFactor:       num(rm, "profit_factor"),
		AvgWin:             num(rm, "avg_win"),
		AvgLoss:            num(rm, "avg_loss"),
		LargestWin:         num(rm, "largest_win"),
		LargestLoss:        num(rm, "largest_loss"),
		MaxDrawdown:        num(rm, "max_drawdown"),
		MaxDrawdownPct:     num(rm, "max_drawdown_pct"),
		SharpeRatio:        num(rm, "sharpe_ratio"),
		AvgHoldingTimeSecs: num(rm, "avg_holding_time_secs"),
	}
	return run
}

func tradeMap(t domain.Trade) map[string]any {
	return map[string]any{
		"side":          t.Side.String(),
		"entry_time_us": t.EntryTimeUS,
		"entry_price":   t.EntryPrice,
		"exit_time_us":  t.ExitTimeUS,
		"exit_price":    t.ExitPrice,
		"commission":    t.Commission,
		"pnl":           t.PnL,
		"exit":          string(t.Exit),
	}
}

func decodeTrade(m map[string]any) domain.Trade {
	return domain.Trade{
		Side:        domain.ParseSide(str(m, "side")),
		EntryTimeUS: int64(num(m, "entry_time_us")),
		EntryPrice:  num(m, "entry_price"),
		ExitTimeUS:  int64(num(m, "exit_time_us")),
		ExitPrice:   num(m, "exit_price"),
		Commission:  num(m, "commission"),
		PnL:         num(m, "pnl"),
		Exit:        domain.ExitReason(str(m, "exit")),
	}
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}
