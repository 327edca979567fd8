// Package backtester is the Go client for the backtest gRPC service.
package backtester

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"backtester/internal/api"
	"backtester/internal/domain"
	"backtester/internal/store"
)

// RunRequest describes one backtest; see api.RunRequest.
type RunRequest = api.RunRequest

// Run is a run summary.
type Run = store.Run

// Client talks to a backtest-server.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for target. Without options the connection
// uses insecure transport credentials.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RunBacktest runs req on the server. The returned Run has an ID only when
// req.Record is set.
func (c *Client) RunBacktest(ctx context.Context, req RunRequest) (*Run, *domain.Result, error) {
	in, err := req.Struct()
	if err != nil {
		return nil, nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.MethodRunBacktest, in, out); err != nil {
		return nil, nil, err
	}
	return api.DecodeResponse(out)
}

// GetRun fetches a recorded run with its ledger and equity curve.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, *domain.Result, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return nil, nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.MethodGetRun, in, out); err != nil {
		return nil, nil, err
	}
	return api.DecodeResponse(out)
}

// ListRuns returns up to limit recorded runs, newest first. A limit <= 0
// returns every run.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	in, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.MethodListRuns, in, out); err != nil {
		return nil, err
	}
	return api.DecodeRuns(out), nil
}

// ListStrategies returns the strategy names registered on the server.
func (c *Client) ListStrategies(ctx context.Context) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.MethodListStrategies, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	list := out.GetFields()["strategies"].GetListValue().GetValues()
	names := make([]string, len(list))
	for i, v := range list {
		names[i] = v.GetStringValue()
	}
	return names, nil
}

// StreamTrades calls fn for every trade of a recorded run, in ledger order.
// It stops early if fn returns an error.
func (c *Client) StreamTrades(ctx context.Context, id string, fn func(domain.Trade) error) error {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &api.StreamTradesDesc, api.MethodStreamTrades)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving trade: %w", err)
		}
		if err := fn(api.DecodeTrade(msg)); err != nil {
			return err
		}
	}
}
