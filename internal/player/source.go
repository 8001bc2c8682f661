package player

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"time"
)

const (
	// StarvationBackoffMin is the first wait when the buffer has no data.
	StarvationBackoffMin = 10 * time.Millisecond
	// StarvationBackoffMax caps the exponential starvation backoff.
	StarvationBackoffMax = 500 * time.Millisecond
)

// ErrSeekUnsupported is returned for any attempt to seek a live stream.
var ErrSeekUnsupported = errors.New("seeking is not supported on a live stream")

// mediaSource presents the stream buffer to the decoder as a pull-based,
// non-seekable byte source. Transient starvation (the buffer is empty but
// the stream is still arriving) is absorbed here with a bounded, jittered
// exponential backoff so the decoder never mistakes a network hiccup for
// end of stream. io.EOF surfaces only once the fetcher has closed the
// buffer and the remaining bytes are drained.
type mediaSource struct {
	ctx context.Context
	buf *StreamBuffer
	rng *rand.Rand
}

func newMediaSource(ctx context.Context, buf *StreamBuffer) *mediaSource {
	return &mediaSource{
		ctx: ctx,
		buf: buf,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *mediaSource) Read(p []byte) (int, error) {
	backoff := StarvationBackoffMin

	for {
		if err := s.ctx.Err(); err != nil {
			return 0, err
		}

		n, err := s.buf.Read(p)
		if n > 0 || err != nil {
			return n, err
		}

		// Starved: wait a little and try again.
		if err := s.wait(backoff); err != nil {
			return 0, err
		}
		backoff *= 2
		if backoff > StarvationBackoffMax {
			backoff = StarvationBackoffMax
		}
	}
}

func (s *mediaSource) wait(backoff time.Duration) error {
	jitter := time.Duration(s.rng.Int63n(int64(backoff)/2 + 1))
	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Seek fails explicitly: the source is a live stream.
func (s *mediaSource) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrSeekUnsupported
}

// Close is a no-op; the buffer's lifecycle belongs to the session.
func (s *mediaSource) Close() error {
	return nil
}

var _ io.ReadSeekCloser = (*mediaSource)(nil)
