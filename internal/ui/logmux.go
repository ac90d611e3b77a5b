package ui

import (
	"bytes"
	"sync"
	"time"
)

// LogSource tags where a dashboard log line came from.
type LogSource string

const (
	SourceApp LogSource = "app"
	SourceArk LogSource = "ark"
)

// LogLine is one captured line.
type LogLine struct {
	Time   time.Time
	Source LogSource
	Text   string
}

// LineWriter is an io.Writer that splits its input into lines and hands
// each non-empty line to sink. Partial lines are held until the newline
// arrives or Flush is called.
type LineWriter struct {
	mu     sync.Mutex
	buffer []byte
	source LogSource
	sink   func(LogLine)
}

// NewLineWriter creates a writer feeding sink.
func NewLineWriter(source LogSource, sink func(LogLine)) *LineWriter {
	return &LineWriter{
		buffer: make([]byte, 0, 4096),
		source: source,
		sink:   sink,
	}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, p...)
	for {
		i := bytes.IndexByte(w.buffer, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.buffer[:i], "\r")
		if len(line) > 0 {
			w.emit(string(line))
		}
		w.buffer = w.buffer[i+1:]
	}
	return len(p), nil
}

// Sync flushes a trailing partial line. It lets a LineWriter back a zap
// core directly.
func (w *LineWriter) Sync() error {
	w.Flush()
	return nil
}

// Flush writes any remaining partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) > 0 {
		w.emit(string(w.buffer))
		w.buffer = w.buffer[:0]
	}
}

func (w *LineWriter) emit(text string) {
	w.sink(LogLine{Time: time.Now(), Source: w.source, Text: text})
}

// LogBuffer is a bounded ring of log lines.
type LogBuffer struct {
	lines    []LogLine
	maxLines int
	mu       sync.RWMutex
}

// NewLogBuffer creates a buffer keeping the last maxLines lines.
func NewLogBuffer(maxLines int) *LogBuffer {
	return &LogBuffer{
		lines:    make([]LogLine, 0, maxLines),
		maxLines: maxLines,
	}
}

// Append adds a line, evicting the oldest when full.
func (lb *LogBuffer) Append(line LogLine) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.lines) >= lb.maxLines {
		copy(lb.lines, lb.lines[1:])
		lb.lines = lb.lines[:len(lb.lines)-1]
	}
	lb.lines = append(lb.lines, line)
}

// GetAll returns a copy of all lines.
func (lb *LogBuffer) GetAll() []LogLine {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogLine, len(lb.lines))
	copy(result, lb.lines)
	return result
}

// GetLast returns the last n lines.
func (lb *LogBuffer) GetLast(n int) []LogLine {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if n > len(lb.lines) {
		n = len(lb.lines)
	}
	result := make([]LogLine, n)
	copy(result, lb.lines[len(lb.lines)-n:])
	return result
}

// Clear drops all lines.
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.lines = lb.lines[:0]
}

// Len returns the number of buffered lines.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.lines)
}
