// Package api serves the backtest engine over gRPC: running bar and tick
// backtests, browsing recorded runs and streaming their trade ledgers.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"backtester/internal/metrics"
)

// Server hosts the BacktestService and, when an HTTP address is set, an HTTP
// listener carrying /metrics and any handlers added with Handle.
type Server struct {
	grpc     *grpc.Server
	grpcAddr string
	httpAddr string
	mux      *http.ServeMux
	log      *slog.Logger
}

// NewServer creates a Server for svc. An empty httpAddr disables the HTTP
// listener; m may be nil to omit /metrics.
func NewServer(svc BacktestServer, grpcAddr, httpAddr string, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		mux:      http.NewServeMux(),
		log:      log,
	}
	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.logUnary),
		grpc.ChainStreamInterceptor(s.logStream),
	)
	RegisterBacktestServer(s.grpc, svc)
	return s
}

// Handle registers h on the HTTP listener. It must be called before Serve.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// HTTPHandler returns the handler served on the HTTP listener.
func (s *Server) HTTPHandler() http.Handler { return s.mux }

// ListenAndServe listens on the configured gRPC address and serves until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.grpcAddr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts gRPC connections on lis until ctx is cancelled, then stops
// gracefully, letting in-flight calls finish.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	var httpSrv *http.Server
	if s.httpAddr != "" {
		httpSrv = &http.Server{
			Addr:              s.httpAddr,
			Handler:           s.mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			s.log.Info("http listening", "addr", s.httpAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.log.Info("grpc listening", "addr", lis.Addr().String())
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")
		s.grpc.GracefulStop()
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// ---------------------------------------------------------------------------
// Interceptors
// ---------------------------------------------------------------------------

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logCall(info.FullMethod, start, err)
	return resp, err
}

func (s *Server) logStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.logCall(info.FullMethod, start, err)
	return err
}

func (s *Server) logCall(method string, start time.Time, err error) {
	if err != nil {
		s.log.Warn("rpc failed",
			"method", method,
			"code", status.Code(err).String(),
			"err", err,
			"elapsed", time.Since(start),
		)
		return
	}
	s.log.Debug("rpc", "method", method, "elapsed", time.Since(start))
}
