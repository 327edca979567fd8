package scid

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"backtester/internal/domain"
)

var t0 = time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC).UnixMicro()

func sampleTicks(n int) []domain.Tick {
	ticks := make([]domain.Tick, n)
	for i := range ticks {
		px := 5000 + float64(i%8)*0.25
		ticks[i] = domain.Tick{
			TimestampUS: t0 + int64(i)*250_000,
			Price:       px,
			Bid:         px - 0.25,
			Ask:         px,
			Volume:      uint32(1 + i%5),
			BidVolume:   uint32(i % 2),
			AskVolume:   uint32(1 + i%5 - i%2),
			NumTrades:   1,
		}
	}
	return ticks
}

func writeTemp(t *testing.T, ticks []domain.Tick) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ES.scid")
	if err := WriteFile(path, ticks); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRoundTrip(t *testing.T) {
	want := sampleTicks(37)
	path := writeTemp(t, want)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", f.Len(), len(want))
	}
	got, err := f.Ticks()
	if err != nil {
		t.Fatalf("Ticks: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tick %d mismatch:\n  got  %+v\n  want %+v", i, got[i], want[i])
		}
	}
	if f.Tick(5) != want[5] {
		t.Errorf("Tick(5) = %+v, want %+v", f.Tick(5), want[5])
	}
}

// TestDecodeRawLayout builds a record byte by byte so a field-order or width
// mistake in the decoder cannot be hidden by a symmetric encoder bug.
func TestDecodeRawLayout(t *testing.T) {
	buf := make([]byte, HeaderSize+RecordSize)
	copy(buf, "SCID")
	binary.LittleEndian.PutUint32(buf[4:], HeaderSize)
	binary.LittleEndian.PutUint32(buf[8:], RecordSize)

	rec := buf[HeaderSize:]
	// 2024-01-02 00:00:00 UTC in SCDateTime microseconds.
	unixUS := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMicro()
	binary.LittleEndian.PutUint64(rec[0:], uint64(unixUS+EpochOffsetUS))
	// open, high (ask), low (bid), close (price)
	binary.LittleEndian.PutUint32(rec[8:], math.Float32bits(0))
	binary.LittleEndian.PutUint32(rec[12:], math.Float32bits(477550))
	binary.LittleEndian.PutUint32(rec[16:], math.Float32bits(477525))
	binary.LittleEndian.PutUint32(rec[20:], math.Float32bits(477550))
	// num trades, total volume, bid volume, ask volume
	binary.LittleEndian.PutUint32(rec[24:], 3)
	binary.LittleEndian.PutUint32(rec[28:], 7)
	binary.LittleEndian.PutUint32(rec[32:], 2)
	binary.LittleEndian.PutUint32(rec[36:], 5)

	path := filepath.Join(t.TempDir(), "raw.scid")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	got := f.Tick(0)
	want := domain.Tick{
		TimestampUS: unixUS,
		Price:       4775.50,
		Bid:         4775.25,
		Ask:         4775.50,
		Volume:      7,
		BidVolume:   2,
		AskVolume:   5,
		NumTrades:   3,
	}
	if got != want {
		t.Errorf("decoded tick:\n  got  %+v\n  want %+v", got, want)
	}
}

func TestPriceDivisor(t *testing.T) {
	ticks := []domain.Tick{{TimestampUS: t0, Price: 1.5, Bid: 1.25, Ask: 1.5, Volume: 1}}
	path := filepath.Join(t.TempDir(), "fx.scid")
	if err := WriteFile(path, ticks, WithPriceDivisor(10000)); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path, WithPriceDivisor(10000))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if got := f.Tick(0).Price; got != 1.5 {
		t.Errorf("Price = %v, want 1.5", got)
	}

	g, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	if got := g.Tick(0).Price; got != 150 {
		t.Errorf("Price with default divisor = %v, want 150", got)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	valid := make([]byte, HeaderSize)
	encodeHeader(valid)

	withRecordSize := func(rs uint32) []byte {
		b := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint32(b[8:], rs)
		return b
	}
	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "SCIX")

	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"short header", valid[:20]},
		{"bad magic", badMagic},
		{"wrong record size", withRecordSize(48)},
		{"truncated record", append(append([]byte(nil), valid...), make([]byte, RecordSize+7)...)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".scid")
			if err := os.WriteFile(path, tc.content, 0o644); err != nil {
				t.Fatal(err)
			}
			f, err := Open(path)
			if err == nil {
				f.Close()
				t.Fatal("Open succeeded, want format error")
			}
			if !errors.Is(err, domain.ErrFormat) {
				t.Errorf("Open error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.scid"))
	if !errors.Is(err, domain.ErrFileAccess) {
		t.Fatalf("Open error = %v, want ErrFileAccess", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open error should also wrap os.ErrNotExist: %v", err)
	}
}

func TestEmptyDataSection(t *testing.T) {
	path := writeTemp(t, nil)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if f.Len() != 0 {
		t.Errorf("Len() = %d, want 0", f.Len())
	}
	if _, err := f.Cursor(0).Next(10); err != io.EOF {
		t.Errorf("Next on empty file = %v, want io.EOF", err)
	}
}

func TestCursorChunks(t *testing.T) {
	want := sampleTicks(23)
	path := writeTemp(t, want)
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	c := f.Cursor(0)
	var got []domain.Tick
	var sizes []int
	for {
		chunk, err := c.Next(5)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}

	wantSizes := []int{5, 5, 5, 5, 3}
	if len(sizes) != len(wantSizes) {
		t.Fatalf("chunk sizes = %v, want %v", sizes, wantSizes)
	}
	for i := range sizes {
		if sizes[i] != wantSizes[i] {
			t.Fatalf("chunk sizes = %v, want %v", sizes, wantSizes)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tick %d differs after chunked read", i)
		}
	}
}

func TestCursorSeekRestart(t *testing.T) {
	want := sampleTicks(10)
	path := writeTemp(t, want)
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	c := f.Cursor(7)
	if c.Offset() != 7 {
		t.Fatalf("Offset() = %d, want 7", c.Offset())
	}
	chunk, err := c.Next(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunk) != 3 || chunk[0] != want[7] {
		t.Fatalf("chunk from offset 7 = %d ticks, first %+v", len(chunk), chunk[0])
	}

	c.Seek(2)
	chunk, err = c.Next(2)
	if err != nil {
		t.Fatal(err)
	}
	if chunk[0] != want[2] || chunk[1] != want[3] || c.Offset() != 4 {
		t.Errorf("after Seek(2): got %+v, offset %d", chunk, c.Offset())
	}

	c.Seek(-5)
	if c.Offset() != 0 {
		t.Errorf("Seek(-5) offset = %d, want 0", c.Offset())
	}
	if _, err := c.Next(0); err == nil {
		t.Error("Next(0) should fail")
	}
}
