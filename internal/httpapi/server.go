package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"backtester/internal/stats"
	"backtester/internal/store"
)

const defaultRunLimit = 50

// Server serves the read-only run history and bar API.
type Server struct {
	runs       *store.Recorder
	bars       store.BarStore
	strategies []string
	log        *slog.Logger
}

// NewServer creates a Server. runs or bars may be nil, in which case their
// routes answer 503.
func NewServer(runs *store.Recorder, bars store.BarStore, strategies []string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{runs: runs, bars: bars, strategies: strategies, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/instruments", s.handleInstruments)
	mux.HandleFunc("GET /api/bars/{instrument}/{timeframe}", s.handleBars)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	out := make([]RunJSON, len(runs))
	for i := range runs {
		out[i] = convertRun(&runs[i])
	}
	writeJSON(w, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	id := r.PathValue("id")
	run, res, err := s.runs.Load(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run "+id+" not found")
		return
	}
	if err != nil {
		s.log.Error("loading run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading run failed")
		return
	}

	resp := RunDetailResponse{
		Run:         convertRun(run),
		Trades:      make([]TradeJSON, len(res.Trades)),
		EquityCurve: res.EquityCurve,
		Drawdown:    stats.Drawdown(res.EquityCurve),
	}
	if resp.EquityCurve == nil {
		resp.EquityCurve = []float64{}
	}
	for i, t := range res.Trades {
		resp.Trades[i] = convertTrade(t)
	}
	writeJSON(w, resp)
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.strategies)
}

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if s.bars == nil {
		writeError(w, http.StatusServiceUnavailable, "bar store not configured")
		return
	}
	names, err := s.bars.ListInstruments(r.Context())
	if err != nil {
		s.log.Error("listing instruments", "error", err)
		writeError(w, http.StatusInternalServerError, "listing instruments failed")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

// handleBars serves stored bars. start and end are optional dates
// (YYYY-MM-DD, both inclusive) or RFC 3339 instants.
func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	if s.bars == nil {
		writeError(w, http.StatusServiceUnavailable, "bar store not configured")
		return
	}
	q := r.URL.Query()
	start, err := parseBound(q.Get("start"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := parseBound(q.Get("end"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	instrument, timeframe := r.PathValue("instrument"), r.PathValue("timeframe")
	bs, err := s.bars.ReadBars(r.Context(), instrument, timeframe, start, end)
	if err != nil {
		s.log.Error("reading bars", "instrument", instrument, "timeframe", timeframe, "error", err)
		writeError(w, http.StatusInternalServerError, "reading bars failed")
		return
	}
	out := make([]BarJSON, len(bs))
	for i, b := range bs {
		out[i] = convertBar(b)
	}
	writeJSON(w, out)
}

// farFuture bounds open-ended bar queries.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// parseBound parses a query time bound. An empty bound is open. A bare end
// date covers that whole day.
func parseBound(v string, end bool) (time.Time, error) {
	if v == "" {
		if end {
			return farFuture, nil
		}
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if end {
			return t.AddDate(0, 0, 1).Add(-time.Microsecond), nil
		}
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
