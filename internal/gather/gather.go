// Package gather imports historical market data from external vendors and
// converts it into tick files the engine can replay.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs the import. It returns early if ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching. End is exclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Trade is one vendor trade print.
type Trade struct {
	Time  time.Time
	Price float64
	Size  uint32
}

// Quote is one vendor top-of-book update.
type Quote struct {
	Time    time.Time
	Bid     float64
	Ask     float64
	BidSize uint32
	AskSize uint32
}
