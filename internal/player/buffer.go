package player

import (
	"errors"
	"io"
	"sync"
)

const (
	// MaxBufferBytes is the hard ceiling for buffered network data. Above
	// it the oldest quarter of the buffer is evicted.
	MaxBufferBytes = 4 * 1024 * 1024
	// BackpressureBytes is the soft watermark above which the fetcher
	// pauses to let the decoder catch up.
	BackpressureBytes = 3 * 1024 * 1024
	// CleanupThreshold is how many consumed bytes may pile up before the
	// cursor region is compacted away.
	CleanupThreshold = 256 * 1024
	// EvictFraction is the share of the buffer dropped on overflow.
	EvictFraction = 0.25
)

var errBufferClosed = errors.New("stream buffer closed")

// StreamBuffer is the bounded byte queue between the network fetcher and
// the decoder. The fetcher appends at the tail; the media source reads at
// the cursor. Neither side ever blocks on the buffer itself: a zero-length
// read means "no data yet", and overflow is handled by evicting the oldest
// data rather than by blocking the writer.
type StreamBuffer struct {
	mu               sync.Mutex
	data             []byte
	cursor           int
	cleanupThreshold int
	closed           bool
	err              error
	evictions        int
}

func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{cleanupThreshold: CleanupThreshold}
}

// Write appends p to the buffer. Fails once the buffer has been closed.
func (b *StreamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errBufferClosed
	}

	b.data = append(b.data, p...)
	return len(p), nil
}

// Read copies up to len(p) unread bytes into p and advances the cursor.
// It never blocks: (0, nil) means no data has arrived yet. After the
// buffer is closed and fully drained it returns io.EOF, or the error the
// writer closed with.
func (b *StreamBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cursor >= len(b.data) {
		if b.closed {
			if b.err != nil {
				return 0, b.err
			}
			return 0, io.EOF
		}
		return 0, nil
	}

	n := copy(p, b.data[b.cursor:])
	b.cursor += n

	if b.cursor > b.cleanupThreshold {
		b.compactLocked()
	}

	return n, nil
}

// Peek returns a copy of up to n unread bytes without advancing the cursor.
func (b *StreamBuffer) Peek(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	unread := b.data[b.cursor:]
	if len(unread) > n {
		unread = unread[:n]
	}
	out := make([]byte, len(unread))
	copy(out, unread)
	return out
}

// Len returns the total number of bytes currently held, consumed or not.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Buffered returns the number of unread bytes.
func (b *StreamBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.cursor
}

// Compact drops the consumed bytes before the cursor and resets the cursor
// to zero. Unread data is preserved.
func (b *StreamBuffer) Compact() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compactLocked()
}

func (b *StreamBuffer) compactLocked() {
	if b.cursor == 0 {
		return
	}
	remaining := len(b.data) - b.cursor
	copy(b.data, b.data[b.cursor:])
	b.data = b.data[:remaining]
	b.cursor = 0
}

// EvictOldest drops the oldest fraction of the whole buffer and shifts the
// cursor by the same amount, saturating at zero. This is the emergency
// overflow valve: it loses data and may force a decode resync, but bounds
// memory. Returns the number of bytes dropped.
func (b *StreamBuffer) EvictOldest(fraction float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	drop := int(float64(len(b.data)) * fraction)
	if drop <= 0 {
		return 0
	}
	if drop > len(b.data) {
		drop = len(b.data)
	}

	remaining := len(b.data) - drop
	copy(b.data, b.data[drop:])
	b.data = b.data[:remaining]

	b.cursor -= drop
	if b.cursor < 0 {
		b.cursor = 0
	}

	b.evictions++
	return drop
}

// Evictions returns how many emergency evictions have occurred. The decode
// pipeline uses this to detect that a resync is needed.
func (b *StreamBuffer) Evictions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evictions
}

// Close marks the stream as cleanly ended. Readers drain the remaining
// bytes and then see io.EOF.
func (b *StreamBuffer) Close() {
	b.CloseWithError(nil)
}

// CloseWithError marks the stream as ended with a failure. Readers drain
// the remaining bytes and then see err.
func (b *StreamBuffer) CloseWithError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.err = err
}

// Closed reports whether the write end has finished.
func (b *StreamBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
