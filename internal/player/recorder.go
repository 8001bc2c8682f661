package player

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const recorderBitDepth = 16

// Recorder taps the decoded PCM stream and writes it to a WAV file. The
// canonical float64 samples are converted back to 16-bit integer PCM on
// the way out.
type Recorder struct {
	mu         sync.Mutex
	file       *os.File
	enc        *wav.Encoder
	sampleRate int
	written    int64
	closed     bool
}

// NewRecorder creates a stereo 16-bit WAV recorder at path.
func NewRecorder(path string, sampleRate int) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	// audioFormat 1 = integer PCM
	enc := wav.NewEncoder(file, sampleRate, recorderBitDepth, 2, 1)

	return &Recorder{
		file:       file,
		enc:        enc,
		sampleRate: sampleRate,
	}, nil
}

// Write appends one decoded frame to the recording. Frames arriving after
// Close are ignored.
func (r *Recorder) Write(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 2,
			SampleRate:  r.sampleRate,
		},
		Data:           make([]int, len(frame.Samples)*2),
		SourceBitDepth: recorderBitDepth,
	}

	for i, sample := range frame.Samples {
		buf.Data[i*2] = floatToInt16(sample[0])
		buf.Data[i*2+1] = floatToInt16(sample[1])
	}

	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	r.written += int64(len(frame.Samples))
	return nil
}

// Written returns the number of sample pairs recorded so far.
func (r *Recorder) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to finalize recording: %w", err)
	}
	return r.file.Close()
}

func floatToInt16(v float64) int {
	if v > 1.0 {
		v = 1.0
	}
	if v < -1.0 {
		v = -1.0
	}
	return int(v * math.MaxInt16)
}
