// Package bars aggregates ticks into fixed-interval OHLCV bars.
package bars

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"backtester/internal/domain"
)

// Timeframe is a bar interval in whole seconds.
type Timeframe struct {
	secs int64
	name string
}

var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
}

// ParseTimeframe parses strings such as "30s", "5m", "1h" or "1d". The
// count must be a positive integer and the unit one of s, m, h, d.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimeframe, s)
	}
	unit, ok := unitSeconds[s[len(s)-1]]
	if !ok {
		return Timeframe{}, fmt.Errorf("%w: %q: unknown unit %q", domain.ErrInvalidTimeframe, s, s[len(s)-1:])
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("%w: %q: count must be a positive integer", domain.ErrInvalidTimeframe, s)
	}
	if n > (1<<62)/unit/1_000_000 {
		return Timeframe{}, fmt.Errorf("%w: %q: too large", domain.ErrInvalidTimeframe, s)
	}
	return Timeframe{secs: n * unit, name: s}, nil
}

// MustParseTimeframe is like ParseTimeframe but panics on error.
func MustParseTimeframe(s string) Timeframe {
	tf, err := ParseTimeframe(s)
	if err != nil {
		panic(err)
	}
	return tf
}

// Seconds returns the interval length in seconds.
func (tf Timeframe) Seconds() int64 { return tf.secs }

// Duration returns the interval as a time.Duration.
func (tf Timeframe) Duration() time.Duration { return time.Duration(tf.secs) * time.Second }

// String returns the string the timeframe was parsed from.
func (tf Timeframe) String() string { return tf.name }

// BarStart returns the open time, in Unix microseconds, of the interval that
// contains timestampUS. Intervals are aligned to whole seconds from the Unix
// epoch and floor toward negative infinity.
func (tf Timeframe) BarStart(timestampUS int64) int64 {
	secs := floorDiv(timestampUS, 1_000_000)
	return floorDiv(secs, tf.secs) * tf.secs * 1_000_000
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
