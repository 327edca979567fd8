// Package scid reads and writes Sierra Chart intraday tick files.
//
// A file is a 56-byte header followed by fixed 40-byte little-endian
// records, in file order, with no index:
//
//	header: [4]byte "SCID" | u32 header size (56) | u32 record size (40) |
//	        u16 version | u16 unused | u32 UTC start index | [36]byte reserve
//	record: i64 SCDateTime (µs since 1899-12-30) | f32 open | f32 high |
//	        f32 low | f32 close | u32 num trades | u32 total volume |
//	        u32 bid volume | u32 ask volume
//
// For tick files the close field is the trade price, low is the bid and high
// is the ask. Prices are stored multiplied by a per-instrument divisor.
package scid

import (
	"encoding/binary"
	"math"

	"backtester/internal/domain"
)

const (
	HeaderSize = 56
	RecordSize = 40

	// EpochOffsetUS is the number of microseconds between the SCDateTime
	// epoch (1899-12-30) and the Unix epoch.
	EpochOffsetUS int64 = 2_209_161_600_000_000

	// DefaultPriceDivisor converts stored integer-scaled prices to points.
	DefaultPriceDivisor = 100.0

	headerVersion = 1
)

var magic = [4]byte{'S', 'C', 'I', 'D'}

var le = binary.LittleEndian

// Option configures a File or Writer.
type Option func(*options)

type options struct {
	divisor float64
}

func defaultOptions() options {
	return options{divisor: DefaultPriceDivisor}
}

// WithPriceDivisor sets the factor stored prices are divided by. Values
// <= 0 are ignored.
func WithPriceDivisor(d float64) Option {
	return func(o *options) {
		if d > 0 {
			o.divisor = d
		}
	}
}

// decodeRecord decodes one 40-byte record. b must hold at least RecordSize
// bytes.
func decodeRecord(b []byte, divisor float64) domain.Tick {
	_ = b[RecordSize-1]
	high := math.Float32frombits(le.Uint32(b[12:16]))
	low := math.Float32frombits(le.Uint32(b[16:20]))
	closePx := math.Float32frombits(le.Uint32(b[20:24]))
	return domain.Tick{
		TimestampUS: int64(le.Uint64(b[0:8])) - EpochOffsetUS,
		Price:       float64(closePx) / divisor,
		Bid:         float64(low) / divisor,
		Ask:         float64(high) / divisor,
		NumTrades:   le.Uint32(b[24:28]),
		Volume:      le.Uint32(b[28:32]),
		BidVolume:   le.Uint32(b[32:36]),
		AskVolume:   le.Uint32(b[36:40]),
	}
}

// encodeRecord is the inverse of decodeRecord. The open field is set to the
// trade price.
func encodeRecord(b []byte, t domain.Tick, divisor float64) {
	_ = b[RecordSize-1]
	closePx := float32(t.Price * divisor)
	le.PutUint64(b[0:8], uint64(t.TimestampUS+EpochOffsetUS))
	le.PutUint32(b[8:12], math.Float32bits(closePx))
	le.PutUint32(b[12:16], math.Float32bits(float32(t.Ask*divisor)))
	le.PutUint32(b[16:20], math.Float32bits(float32(t.Bid*divisor)))
	le.PutUint32(b[20:24], math.Float32bits(closePx))
	le.PutUint32(b[24:28], t.NumTrades)
	le.PutUint32(b[28:32], t.Volume)
	le.PutUint32(b[32:36], t.BidVolume)
	le.PutUint32(b[36:40], t.AskVolume)
}

func encodeHeader(b []byte) {
	_ = b[HeaderSize-1]
	copy(b[0:4], magic[:])
	le.PutUint32(b[4:8], HeaderSize)
	le.PutUint32(b[8:12], RecordSize)
	le.PutUint16(b[12:14], headerVersion)
	for i := 14; i < HeaderSize; i++ {
		b[i] = 0
	}
}
