package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressTracker manages the .empty-days and .last-completed files of one
// symbol's tick directory so an interrupted import resumes where it stopped.
type progressTracker struct {
	mu        sync.Mutex
	emptyDays map[string]struct{}
	writer    *bufio.Writer
	file      *os.File
	dir       string // <DataDir>/ticks/<SYMBOL>
}

// newProgressTracker creates a tracker rooted at dir and loads any existing
// .empty-days entries.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tick dir: %w", err)
	}

	pt := &progressTracker{
		emptyDays: make(map[string]struct{}),
		dir:       dir,
	}

	path := filepath.Join(dir, ".empty-days")
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			day := strings.TrimSpace(line)
			if day != "" {
				pt.emptyDays[day] = struct{}{}
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening .empty-days: %w", err)
	}
	pt.file = f
	pt.writer = bufio.NewWriter(f)

	return pt, nil
}

// IsEmpty returns true if day was already fetched and had no trades.
func (p *progressTracker) IsEmpty(day string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.emptyDays[day]
	return ok
}

// MarkEmpty records days that returned no trades.
func (p *progressTracker) MarkEmpty(days ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, day := range days {
		if _, ok := p.emptyDays[day]; ok {
			continue
		}
		p.emptyDays[day] = struct{}{}
		if _, err := p.writer.WriteString(day + "\n"); err != nil {
			return fmt.Errorf("writing to .empty-days: %w", err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted writes the given date to .last-completed.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(filepath.Join(p.dir, ".last-completed"), []byte(date), 0o644)
}

// LastCompleted returns the date string from .last-completed, or empty string.
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(filepath.Join(p.dir, ".last-completed"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset forgets every empty day so they are fetched again.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.emptyDays = make(map[string]struct{})

	path := filepath.Join(p.dir, ".empty-days")
	os.Remove(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopening .empty-days: %w", err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// Close flushes and closes the .empty-days file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
