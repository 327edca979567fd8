package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/scid"
	"backtester/internal/sim"
	"backtester/internal/strategy"
)

// tickBatch is one chunk of positive-price ticks. data goes to the
// strategy; prices and stamps are private copies the simulator fills at.
type tickBatch struct {
	index  int
	data   *domain.TickData
	prices []float64
	stamps []int64
}

// batchSource reads consecutive batches from a cursor, dropping ticks with a
// non-positive price. Chunks left empty by the filter are skipped.
type batchSource struct {
	cur   *scid.Cursor
	size  int
	index int
}

func (b *batchSource) next() (*tickBatch, error) {
	for {
		chunk, err := b.cur.Next(b.size)
		if err != nil {
			return nil, err
		}
		d := domain.NewTickData(len(chunk))
		for _, t := range chunk {
			if t.Price > 0 {
				d.Append(t)
			}
		}
		if d.NumTicks == 0 {
			continue
		}
		batch := &tickBatch{
			index:  b.index,
			data:   d,
			prices: append([]float64(nil), d.Price...),
			stamps: append([]int64(nil), d.Timestamp...),
		}
		b.index++
		return batch, nil
	}
}

// RunTickBacktest feeds the file at path to strat in batches of batchSize
// records and simulates every returned signal at its tick's price. One
// simulator carries position state across all batches, so the result does
// not depend on batchSize. A position still open after the last delivered
// tick is closed there as an end-of-data trade.
//
// Unless Options.Prefetch is negative, a reader goroutine decodes up to
// Prefetch batches ahead while the current batch is simulated; batches are
// still delivered strictly in file order.
func (e *Engine) RunTickBacktest(
	ctx context.Context,
	path string,
	strat strategy.TickStrategy,
	batchSize int,
	commission float64,
) (res *domain.Result, err error) {
	start := time.Now()
	defer func() { e.opts.Metrics.ObserveRun(metrics.ModeTicks, time.Since(start), err) }()

	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidBatchSize, batchSize)
	}
	f, err := e.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src := &batchSource{cur: f.Cursor(0), size: batchSize}
	s := sim.New(commission, e.opts.PointValue)
	var delivered int

	apply := func(ctx context.Context, b *tickBatch) error {
		signals, err := strat.OnTicks(ctx, b.data)
		if err != nil {
			return fmt.Errorf("tick strategy, batch %d: %w", b.index, err)
		}
		if err := s.Process(signals, b.prices, b.stamps); err != nil {
			return fmt.Errorf("simulating batch %d: %w", b.index, err)
		}
		delivered += b.data.NumTicks
		e.opts.Metrics.IncBatch()
		e.log.Debug("tick batch simulated",
			"batch", b.index,
			"ticks", b.data.NumTicks,
			"realized_pnl", s.Realized(),
		)
		return nil
	}

	if e.opts.Prefetch < 0 {
		err = runSequential(ctx, src, apply)
	} else {
		err = runPrefetched(ctx, src, e.opts.Prefetch, apply)
	}
	if err != nil {
		return nil, err
	}

	s.FinishLast()
	e.opts.Metrics.AddTicks(metrics.ModeTicks, delivered)

	res = e.result(s)
	e.log.Info("tick backtest complete",
		"path", path,
		"records", f.Len(),
		"ticks", delivered,
		"batch_size", batchSize,
		"batches", src.index,
		"samples", s.Steps(),
		"trades", res.NumTrades,
		"total_pnl", res.TotalPnL,
		"elapsed", time.Since(start),
	)
	return res, nil
}

func runSequential(ctx context.Context, src *batchSource, apply func(context.Context, *tickBatch) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := src.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := apply(ctx, b); err != nil {
			return err
		}
	}
}

// runPrefetched decodes batches in a producer goroutine and applies them in
// the caller's order on a consumer goroutine. The first error from either
// side cancels the other.
func runPrefetched(ctx context.Context, src *batchSource, depth int, apply func(context.Context, *tickBatch) error) error {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan *tickBatch, depth)

	g.Go(func() error {
		defer close(batches)
		for {
			b, err := src.next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case batches <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for b := range batches {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := apply(gctx, b); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}
