package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"backtester/internal/domain"
	"backtester/internal/engine"
	"backtester/internal/store"
	"backtester/internal/strategy"
)

// Compile-time interface check.
var _ BacktestServer = (*Service)(nil)

// Defaults applied to RunBacktest requests that leave a field unset.
type Defaults struct {
	Timeframe  string
	BatchSize  int
	Commission float64
	// Params are per-strategy parameters merged under the request's own.
	Params map[string]map[string]float64
}

// Service implements BacktestServer on top of an Engine. Request paths are
// resolved inside dataDir and may not escape it.
type Service struct {
	engine   *engine.Engine
	registry *strategy.Registry
	recorder *store.Recorder // nil disables run history
	dataDir  string
	defaults Defaults
	log      *slog.Logger
}

// NewService creates a Service. recorder may be nil.
func NewService(eng *engine.Engine, reg *strategy.Registry, recorder *store.Recorder, dataDir string, defaults Defaults, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if defaults.Timeframe == "" {
		defaults.Timeframe = "1m"
	}
	if defaults.BatchSize <= 0 {
		defaults.BatchSize = 100_000
	}
	return &Service{
		engine:   eng,
		registry: reg,
		recorder: recorder,
		dataDir:  dataDir,
		defaults: defaults,
		log:      log,
	}
}

// RunBacktest runs one bar or tick backtest and returns its summary, ledger
// and equity curve. With "record" set the run is also persisted and the
// response carries its ID.
func (s *Service) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := ParseRunRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	path, err := s.resolve(req.Path)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	params := strategy.Params{}
	for k, v := range s.defaults.Params[req.Strategy] {
		params[k] = v
	}
	for k, v := range req.Params {
		params[k] = v
	}
	commission := s.defaults.Commission
	if req.Commission != nil {
		commission = *req.Commission
	}

	run := &store.Run{
		Mode:       req.Mode,
		Strategy:   req.Strategy,
		Path:       req.Path,
		Commission: commission,
		PointValue: s.engine.Options().PointValue,
		StartedAt:  time.Now().UTC(),
	}

	var res *domain.Result
	switch req.Mode {
	case ModeBars:
		run.Timeframe = req.Timeframe
		if run.Timeframe == "" {
			run.Timeframe = s.defaults.Timeframe
		}
		strat, err := s.registry.Bar(req.Strategy, params)
		if err != nil {
			return nil, toStatus(err)
		}
		res, err = s.engine.RunBacktest(ctx, path, run.Timeframe, strat, commission)
		if err != nil {
			return nil, toStatus(err)
		}
	case ModeTicks:
		run.BatchSize = req.BatchSize
		if run.BatchSize == 0 {
			run.BatchSize = s.defaults.BatchSize
		}
		strat, err := s.registry.Tick(req.Strategy, params)
		if err != nil {
			return nil, toStatus(err)
		}
		res, err = s.engine.RunTickBacktest(ctx, path, strat, run.BatchSize, commission)
		if err != nil {
			return nil, toStatus(err)
		}
	}
	run.Elapsed = time.Since(run.StartedAt)
	run.Result = res.ResultSet

	if req.Record {
		if s.recorder == nil {
			return nil, status.Error(codes.FailedPrecondition, "run history is not configured")
		}
		if _, err := s.recorder.Record(ctx, run, res); err != nil {
			return nil, toStatus(err)
		}
	}

	s.log.Info("backtest served",
		"mode", run.Mode,
		"strategy", run.Strategy,
		"path", run.Path,
		"run_id", run.ID,
		"trades", res.NumTrades,
		"elapsed", run.Elapsed,
	)
	return EncodeResponse(run, res)
}

// GetRun returns a recorded run in the RunBacktest response layout.
func (s *Service) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	run, res, err := s.load(ctx, in)
	if err != nil {
		return nil, err
	}
	return EncodeResponse(run, res)
}

// ListRuns returns recorded run summaries, newest first.
func (s *Service) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.recorder == nil {
		return nil, status.Error(codes.FailedPrecondition, "run history is not configured")
	}
	limit := int(num(in.AsMap(), "limit"))
	runs, err := s.recorder.List(ctx, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeRuns(runs)
}

// ListStrategies returns the registered strategy names.
func (s *Service) ListStrategies(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	names := s.registry.List()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return structpb.NewStruct(map[string]any{"strategies": list})
}

// StreamTrades sends the ledger of a recorded run one trade per message.
func (s *Service) StreamTrades(in *structpb.Struct, stream grpc.ServerStream) error {
	_, res, err := s.load(stream.Context(), in)
	if err != nil {
		return err
	}
	for _, t := range res.Trades {
		msg, err := EncodeTrade(t)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, in *structpb.Struct) (*store.Run, *domain.Result, error) {
	if s.recorder == nil {
		return nil, nil, status.Error(codes.FailedPrecondition, "run history is not configured")
	}
	id := str(in.AsMap(), "id")
	if id == "" {
		return nil, nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, res, err := s.recorder.Load(ctx, id)
	if err != nil {
		return nil, nil, toStatus(err)
	}
	return run, res, nil
}

// resolve maps a request path to a file under dataDir.
func (s *Service) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q must be relative to the data directory", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the data directory", p)
	}
	return filepath.Join(s.dataDir, clean), nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, domain.ErrUnknownStrategy),
		errors.Is(err, domain.ErrStrategyUnsupported),
		errors.Is(err, domain.ErrInvalidTimeframe),
		errors.Is(err, domain.ErrInvalidBatchSize),
		errors.Is(err, domain.ErrInvalidSignal),
		errors.Is(err, domain.ErrLengthMismatch):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrFileAccess), errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrNoData), errors.Is(err, domain.ErrFormat):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
