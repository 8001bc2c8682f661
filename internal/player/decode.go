package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog/log"
)

const (
	// DecodeBatchSize is how many stereo samples are decoded per frame batch.
	DecodeBatchSize = 4096
	// FrameChannelDepth bounds the decoded-PCM hand-off to the sink.
	// Decoded audio is expensive to reproduce, so a full channel stalls the
	// decoder briefly instead of dropping frames.
	FrameChannelDepth = 16
	// ProbeBytes is how much of the stream head is sniffed for the
	// container format.
	ProbeBytes = 16
	// MaxResyncAttempts bounds container re-probes after emergency
	// buffer evictions.
	MaxResyncAttempts = 3
)

// ErrUnsupportedFormat is a fatal probe failure: the stream head matches no
// container the decoder knows.
var ErrUnsupportedFormat = errors.New("unsupported or unrecognized stream format")

// Frame is one batch of decoded PCM: interleaved stereo float64 samples in
// production order, plus the source format description.
type Frame struct {
	Samples    [][2]float64
	SampleRate int
	Channels   int
}

// StreamFormat is the container format detected by the probe.
type StreamFormat int

const (
	FormatUnknown StreamFormat = iota
	FormatMP3
	FormatWAV
	FormatFLAC
	FormatOggVorbis
)

func (f StreamFormat) String() string {
	switch f {
	case FormatMP3:
		return "MP3"
	case FormatWAV:
		return "WAV"
	case FormatFLAC:
		return "FLAC"
	case FormatOggVorbis:
		return "OGG"
	default:
		return "unknown"
	}
}

// DetectFormat sniffs the container format from the first bytes of a
// stream. Radio streams often join mid-frame, so after the magic-number
// checks it also scans for an MPEG frame sync anywhere in the window.
func DetectFormat(header []byte) StreamFormat {
	if len(header) < 4 {
		return FormatUnknown
	}

	switch {
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3
	case bytes.HasPrefix(header, []byte("RIFF")):
		return FormatWAV
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(header, []byte("OggS")):
		return FormatOggVorbis
	}

	for i := 0; i+1 < len(header); i++ {
		if header[i] == 0xFF && header[i+1]&0xE0 == 0xE0 {
			return FormatMP3
		}
	}

	return FormatUnknown
}

// sequentialReader hides everything but Read/Close from the decoders. Some
// of them sniff for io.Seeker and switch to a seek-table mode that cannot
// work on a live stream.
type sequentialReader struct {
	src io.ReadCloser
}

func (r sequentialReader) Read(p []byte) (int, error) { return r.src.Read(p) }
func (r sequentialReader) Close() error               { return r.src.Close() }

// decodePipeline turns the byte stream into ordered PCM frames. It runs on
// its own goroutine: probing and decoding are CPU-bound and must not stall
// network ingestion or the UI.
type decodePipeline struct {
	buf          *StreamBuffer
	src          *mediaSource
	frames       chan<- Frame
	onFirstFrame func()      // fired once, when playback effectively starts
	tap          func(Frame) // optional recorder tap, may be nil

	playingSignaled bool
	lastEvictions   int
}

func newDecodePipeline(buf *StreamBuffer, src *mediaSource, frames chan<- Frame) *decodePipeline {
	return &decodePipeline{
		buf:    buf,
		src:    src,
		frames: frames,
	}
}

// run probes the stream, decodes it to PCM frames and pushes them to the
// hand-off channel until EOF, a fatal error, or cancellation. The detected
// format is reported once on ready before any frame is produced. After an
// emergency buffer eviction a decoder failure triggers a bounded re-probe
// instead of aborting the session.
func (p *decodePipeline) run(ctx context.Context, ready chan<- beep.Format) error {
	resyncs := 0
	reported := false

	for {
		streamer, format, err := p.open(ctx)
		if err != nil {
			return err
		}

		if !reported {
			reported = true
			ready <- format
		}

		err = p.decodeLoop(ctx, streamer, format)
		streamer.Close()

		if err == nil || ctx.Err() != nil {
			return err
		}

		if p.shouldResync(resyncs) {
			resyncs++
			log.Warn().Err(err).Int("resync", resyncs).Msg("Decoder lost sync after eviction, re-probing stream")
			continue
		}

		return err
	}
}

// shouldResync reports whether a decoder failure warrants a container
// re-probe: the buffer must have evicted data since the decoder was opened,
// and the re-probe budget must not be exhausted.
func (p *decodePipeline) shouldResync(resyncs int) bool {
	evictions := p.buf.Evictions()
	if evictions == p.lastEvictions || resyncs >= MaxResyncAttempts {
		return false
	}
	p.lastEvictions = evictions
	return true
}

// open waits for enough stream head to probe, then constructs the matching
// decoder over the media source.
func (p *decodePipeline) open(ctx context.Context) (beep.StreamSeekCloser, beep.Format, error) {
	header, err := p.waitForProbe(ctx)
	if err != nil {
		return nil, beep.Format{}, err
	}

	format := DetectFormat(header)
	log.Debug().Str("format", format.String()).Msg("Probed stream container")

	reader := sequentialReader{src: p.src}

	switch format {
	case FormatMP3:
		return decodeWrap(mp3.Decode(reader))
	case FormatWAV:
		return decodeWrap(wav.Decode(reader))
	case FormatFLAC:
		return decodeWrap(flac.Decode(reader))
	case FormatOggVorbis:
		return decodeWrap(vorbis.Decode(reader))
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, header)
	}
}

func decodeWrap(s beep.StreamSeekCloser, format beep.Format, err error) (beep.StreamSeekCloser, beep.Format, error) {
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to open decoder: %w", err)
	}
	return s, format, nil
}

// waitForProbe blocks (with the starvation backoff) until the buffer holds
// enough bytes to sniff, the stream ends, or the context is cancelled.
func (p *decodePipeline) waitForProbe(ctx context.Context) ([]byte, error) {
	backoff := StarvationBackoffMin

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		header := p.buf.Peek(ProbeBytes)
		if len(header) >= ProbeBytes {
			return header, nil
		}

		if p.buf.Closed() {
			if len(header) > 0 {
				return header, nil
			}
			// Drained and closed: surface the writer's terminal status.
			if _, err := p.buf.Read(make([]byte, 1)); err != nil {
				return nil, err
			}
			continue
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > StarvationBackoffMax {
			backoff = StarvationBackoffMax
		}
	}
}

// decodeLoop pulls sample batches from the decoder and pushes them, in
// order, to the frame channel. A full channel blocks (context-aware)
// rather than dropping PCM.
func (p *decodePipeline) decodeLoop(ctx context.Context, streamer beep.StreamSeekCloser, format beep.Format) error {
	batch := make([][2]float64, DecodeBatchSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, ok := streamer.Stream(batch)
		if n > 0 {
			samples := make([][2]float64, n)
			copy(samples, batch[:n])

			frame := Frame{
				Samples:    samples,
				SampleRate: int(format.SampleRate),
				Channels:   format.NumChannels,
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case p.frames <- frame:
			}

			if !p.playingSignaled {
				p.playingSignaled = true
				if p.onFirstFrame != nil {
					p.onFirstFrame()
				}
			}
			if p.tap != nil {
				p.tap(frame)
			}
		}

		if !ok {
			if err := streamer.Err(); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("decode error: %w", err)
			}
			return nil
		}
	}
}
