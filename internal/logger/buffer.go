package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is a single captured log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer of recent log entries.
// Entries pushed out of the ring are appended to the spill file when one is configured.
type Buffer struct {
	mu      sync.Mutex
	ring    []Entry
	size    int
	next    int
	wrapped bool

	spillFile   *os.File
	spillWriter *bufio.Writer

	total   uint64
	spilled uint64
}

// NewBuffer creates a buffer holding up to size entries. spillPath may be empty.
func NewBuffer(size int, spillPath string) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("log buffer size must be positive, got %d", size)
	}

	b := &Buffer{
		ring: make([]Entry, size),
		size: size,
	}

	if spillPath != "" {
		if err := os.MkdirAll(filepath.Dir(spillPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(spillPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open spill file: %w", err)
		}
		b.spillFile = f
		b.spillWriter = bufio.NewWriter(f)
	}

	return b, nil
}

// Add appends an entry, evicting the oldest one when the ring is full.
func (b *Buffer) Add(entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var spillErr error
	if b.wrapped && b.spillWriter != nil {
		if spillErr = b.spill(b.ring[b.next]); spillErr == nil {
			b.spilled++
		}
	}

	b.ring[b.next] = entry
	b.next = (b.next + 1) % b.size
	if b.next == 0 {
		b.wrapped = true
	}
	b.total++

	return spillErr
}

func (b *Buffer) spill(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if _, err := b.spillWriter.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to spill file: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest entries at or above minLevel, oldest first.
// A limit <= 0 returns everything retained.
func (b *Buffer) Recent(limit int, minLevel zapcore.Level) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.next
	start := 0
	if b.wrapped {
		count = b.size
		start = b.next
	}

	// Walk newest to oldest so the limit keeps the latest entries.
	out := make([]Entry, 0, count)
	for i := count - 1; i >= 0; i-- {
		e := b.ring[(start+i)%b.size]
		lvl, err := zapcore.ParseLevel(e.Level)
		if err == nil && lvl < minLevel {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats returns the number of entries ever added and the number spilled to disk.
func (b *Buffer) Stats() (total, spilled uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.spilled
}

// Flush forces buffered spill data to disk.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spillWriter == nil {
		return nil
	}
	if err := b.spillWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush spill writer: %w", err)
	}
	return b.spillFile.Sync()
}

// Close writes the retained entries to the spill file and closes it.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spillWriter == nil {
		return nil
	}

	count, start := b.next, 0
	if b.wrapped {
		count, start = b.size, b.next
	}
	for i := 0; i < count; i++ {
		if err := b.spill(b.ring[(start+i)%b.size]); err != nil {
			return err
		}
	}

	if err := b.spillWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush during close: %w", err)
	}
	err := b.spillFile.Close()
	b.spillWriter = nil
	return err
}

// StartPeriodicFlush flushes the spill file every interval until the returned channel is closed.
func (b *Buffer) StartPeriodicFlush(interval time.Duration, onError func(error)) chan struct{} {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := b.Flush(); err != nil && onError != nil {
					onError(err)
				}
			case <-done:
				return
			}
		}
	}()

	return done
}
