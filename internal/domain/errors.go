package domain

import "errors"

// Fatal run errors. Callers match them with errors.Is; producers wrap them
// with context using fmt.Errorf("...: %w", err).
var (
	// ErrFileAccess is returned when a tick file is missing or unreadable.
	ErrFileAccess = errors.New("file access error")

	// ErrFormat is returned when a tick file does not match the binary
	// layout: bad magic, wrong header/record size, or a truncated record.
	ErrFormat = errors.New("format error")

	// ErrInvalidTimeframe is returned for an unparseable bar timeframe.
	ErrInvalidTimeframe = errors.New("invalid timeframe")

	// ErrLengthMismatch is returned when a strategy returns a signal slice
	// whose length differs from the bars or ticks it was given.
	ErrLengthMismatch = errors.New("signal length mismatch")

	// ErrInvalidSignal is returned for a signal value outside {-1, 0, 1}.
	ErrInvalidSignal = errors.New("invalid signal")

	ErrNoData           = errors.New("no data")
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrUnknownStrategy is returned when a strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrStrategyUnsupported is returned when a strategy does not implement
	// the capability (bars or ticks) an entry point needs.
	ErrStrategyUnsupported = errors.New("strategy does not support this mode")
)
