package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"wavefm/internal/config"
)

const (
	// NetworkChunkSize is the read granularity for streams without ICY
	// metadata. ICY streams are read at their metadata interval instead.
	NetworkChunkSize = 4096
	// ReadStallTimeout aborts the connection when no bytes arrive at all.
	ReadStallTimeout = 30 * time.Second
	// BackpressurePause is the sleep between buffer-level re-checks while
	// the decoder catches up.
	BackpressurePause = 50 * time.Millisecond
	// MaxBackpressureWait bounds the total pause before the fetcher gives
	// up waiting and lets the eviction valve handle the overflow.
	MaxBackpressureWait = 2 * time.Second
	// ProgressInterval is how many fetched bytes pass between
	// EventBufferProgress notifications.
	ProgressInterval = 64 * 1024

	maxICYMetadataLen = 4080
)

type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("stream returned status %d: %s", e.StatusCode, e.Status)
}

func isNonRetryableError(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403, 404, 410:
			return true
		}
	}
	return false
}

// newStreamClient builds an HTTP client tuned for long-lived radio streams:
// no overall timeout, but bounded dial/TLS/header phases.
func newStreamClient() *http.Client {
	return &http.Client{
		Timeout: 0, // No overall timeout, streams are long-lived
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			DisableKeepAlives:     false,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}
}

// watchdogReader wraps the response body so a single Read can neither
// outlive the session context nor stall indefinitely on a dead connection.
// Relies on context cancellation to clean up the spawned read goroutine.
type watchdogReader struct {
	reader  io.Reader
	ctx     context.Context
	timeout time.Duration
}

func (w *watchdogReader) Read(p []byte) (int, error) {
	select {
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	default:
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := w.reader.Read(p)
		select {
		case done <- result{n, err}:
		case <-w.ctx.Done():
		}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("read timeout: no data received for %v", w.timeout)
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	}
}

// fetcher streams the HTTP response body into the stream buffer. It is the
// only writer of the buffer and signals termination by closing it: cleanly
// on end of stream, with an error on transport failure.
type fetcher struct {
	client  *http.Client
	buf     *StreamBuffer
	bus     *EventBus
	onTrack func(string) // ICY StreamTitle callback, may be nil
}

// run performs the GET and the chunk loop. It returns only when the stream
// ends, fails, or the context is cancelled; the buffer is always closed on
// return.
func (f *fetcher) run(ctx context.Context, streamURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		f.buf.CloseWithError(fmt.Errorf("failed to create request: %w", err))
		return
	}

	req.Header.Set("User-Agent", fmt.Sprintf("WaveFM/%s", config.AppVersion))
	req.Header.Set("Icy-MetaData", "1")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			f.buf.CloseWithError(ctx.Err())
			return
		}
		f.buf.CloseWithError(fmt.Errorf("failed to connect to stream: %w", err))
		return
	}
	defer resp.Body.Close()

	log.Debug().Msgf("Stream response status: %d, Content-Type: %s",
		resp.StatusCode, resp.Header.Get("Content-Type"))

	if resp.StatusCode != http.StatusOK {
		f.buf.CloseWithError(&httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status})
		return
	}

	f.bus.Publish(Event{Kind: EventConnected})

	var icyMetaint int
	if val := resp.Header.Get("icy-metaint"); val != "" {
		_, _ = fmt.Sscanf(val, "%d", &icyMetaint)
		log.Debug().Msgf("ICY metadata interval: %d bytes", icyMetaint)
	}
	if icyMetaint < 0 || icyMetaint > MaxBufferBytes/4 {
		log.Warn().Int("metaint", icyMetaint).Msg("Implausible ICY metadata interval, treating stream as plain audio")
		icyMetaint = 0
	}

	chunkSize := icyMetaint
	if chunkSize <= 0 {
		chunkSize = NetworkChunkSize
	}

	body := bufio.NewReader(&watchdogReader{
		reader:  resp.Body,
		ctx:     ctx,
		timeout: ReadStallTimeout,
	})

	chunk := make([]byte, chunkSize)
	var total, lastReport int64

	for {
		if ctx.Err() != nil {
			f.buf.CloseWithError(ctx.Err())
			return
		}

		if err := f.applyBackpressure(ctx); err != nil {
			f.buf.CloseWithError(err)
			return
		}

		n, readErr := f.readChunk(body, chunk, icyMetaint)
		if n > 0 {
			if _, err := f.buf.Write(chunk[:n]); err != nil {
				return // buffer closed under us, session is over
			}
			total += int64(n)
			if total-lastReport >= ProgressInterval {
				lastReport = total
				f.bus.Publish(Event{Kind: EventBufferProgress, Bytes: total})
			}
		}

		if readErr != nil {
			switch {
			case ctx.Err() != nil:
				f.buf.CloseWithError(ctx.Err())
			case errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF):
				log.Debug().Int64("bytes", total).Msg("Stream ended")
				f.buf.Close()
			default:
				log.Error().Err(readErr).Msg("Error reading audio data from stream")
				f.buf.CloseWithError(fmt.Errorf("network read error: %w", readErr))
			}
			return
		}
	}
}

// applyBackpressure pauses while the buffer is above the soft watermark,
// re-checking cancellation on every pause. If the buffer is still over the
// hard maximum after the bounded wait, the oldest quarter is evicted.
func (f *fetcher) applyBackpressure(ctx context.Context) error {
	waited := time.Duration(0)
	for f.buf.Len() > BackpressureBytes && waited < MaxBackpressureWait {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(BackpressurePause):
			waited += BackpressurePause
		}
	}

	if f.buf.Len() >= MaxBufferBytes {
		dropped := f.buf.EvictOldest(EvictFraction)
		log.Warn().Int("dropped", dropped).Msg("Stream buffer overflow, evicted oldest data")
	}
	return nil
}

// readChunk reads the next audio chunk. For ICY streams it reads exactly
// one metadata interval of audio and then strips the interleaved metadata
// block; otherwise it does a plain read.
func (f *fetcher) readChunk(body *bufio.Reader, chunk []byte, icyMetaint int) (int, error) {
	if icyMetaint <= 0 {
		return body.Read(chunk)
	}

	n, err := io.ReadFull(body, chunk[:icyMetaint])
	if err != nil {
		return n, err
	}

	return n, f.skipICYMetadata(body)
}

// skipICYMetadata consumes one ICY metadata block, extracting the
// StreamTitle when present.
func (f *fetcher) skipICYMetadata(body *bufio.Reader) error {
	lenByte, err := body.ReadByte()
	if err != nil {
		return err
	}

	metaLen := int(lenByte) * 16
	if metaLen == 0 {
		return nil
	}
	if metaLen > maxICYMetadataLen {
		log.Warn().Int("metaLen", metaLen).Msg("ICY metadata too large, skipping")
		_, err := io.CopyN(io.Discard, body, int64(metaLen))
		return err
	}

	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(body, meta); err != nil {
		return err
	}

	if title, ok := parseStreamTitle(string(meta)); ok && f.onTrack != nil {
		f.onTrack(title)
	}
	return nil
}

func parseStreamTitle(meta string) (string, bool) {
	const marker = "StreamTitle='"
	start := strings.Index(meta, marker)
	if start < 0 {
		return "", false
	}
	start += len(marker)
	end := strings.Index(meta[start:], "';")
	if end <= 0 {
		return "", false
	}
	return meta[start : start+end], true
}
