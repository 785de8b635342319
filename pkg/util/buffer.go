package util

import (
	"errors"
	"io"
	"sync"
)

// StreamBuffer is an in-memory buffer for the output of a single stream of a
// running process. It is written to by a single writer (the stream's reader
// loop), and read from by any number of goroutines sharing one read cursor.
//
// Writes never touch the readable contents of the buffer directly. Each write
// is queued as a pending chunk, and pending chunks are merged onto the end of
// the log lazily, only when a read is requested. A read merges a snapshot of
// the chunks pending at the time it was called; chunks queued concurrently
// after that point are left for the next read.
//
// The log is append-only and the cursor always satisfies 0 <= cursor <= Len().
// Merging new data never moves the cursor.
type StreamBuffer struct {
	pendingMu sync.Mutex
	pending   [][]byte

	// guards log and cursor
	mu     sync.Mutex
	log    []byte
	cursor int
}

var ErrSeekOutOfRange = errors.New("seek position out of range")

var _ io.Writer = (*StreamBuffer)(nil)

func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{}
}

// Write queues a copy of p. It does not block on readers.
func (b *StreamBuffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)

	b.pendingMu.Lock()
	b.pending = append(b.pending, chunk)
	b.pendingMu.Unlock()
	return len(p), nil
}

// Read returns up to size bytes starting at the cursor, and advances the
// cursor past them. If size is negative, everything up to the end of the
// buffer is returned. If there is no new data, an empty slice is returned.
func (b *StreamBuffer) Read(size int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mergeLocked()
	return b.readLocked(size)
}

// ReadAll returns the entire contents of the buffer. The cursor is left
// where it was.
func (b *StreamBuffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mergeLocked()

	last := b.cursor
	b.cursor = 0
	contents := b.readLocked(-1)
	b.cursor = last
	return contents
}

// Seek moves the cursor to an absolute position in the buffer.
func (b *StreamBuffer) Seek(position int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mergeLocked()

	if position < 0 || position > len(b.log) {
		return ErrSeekOutOfRange
	}
	b.cursor = position
	return nil
}

// Tell returns the current position of the cursor.
func (b *StreamBuffer) Tell() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Len returns the number of bytes in the buffer, including any data that has
// been written but not yet read.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mergeLocked()
	return len(b.log)
}

func (b *StreamBuffer) mergeLocked() {
	b.pendingMu.Lock()
	snapshot := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	for _, chunk := range snapshot {
		b.log = append(b.log, chunk...)
	}
}

func (b *StreamBuffer) readLocked(size int) []byte {
	remaining := len(b.log) - b.cursor
	if size < 0 || size > remaining {
		size = remaining
	}
	out := make([]byte, size)
	copy(out, b.log[b.cursor:b.cursor+size])
	b.cursor += size
	return out
}
