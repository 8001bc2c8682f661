package player

import (
	"math"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	// SpeakerBufferSize is the output device buffer length.
	SpeakerBufferSize = 250 * time.Millisecond
	// FadeInDuration softens the start of playback.
	FadeInDuration = 50 * time.Millisecond

	VolumeCurveExponent = 0.5
	MinVolumeDB         = -10.0
)

// Output is the playback device handle. The production implementation is
// the global speaker; tests substitute a silent stub so the pipeline can
// run without an audio device.
type Output interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Clear()
}

type speakerOutput struct{}

func (speakerOutput) Init(sampleRate beep.SampleRate, bufferSize int) error {
	return speaker.Init(sampleRate, bufferSize)
}

func (speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerOutput) Lock()                { speaker.Lock() }
func (speakerOutput) Unlock()              { speaker.Unlock() }
func (speakerOutput) Clear()               { speaker.Clear() }

// percentToExponent maps a 0-100 volume percentage onto the exponent scale
// used by effects.Volume, with a perceptual curve.
func percentToExponent(p float64) float64 {
	if p <= 0 {
		return MinVolumeDB
	}
	if p >= 100 {
		return 0
	}

	normalized := p / 100.0
	adjusted := math.Pow(normalized, VolumeCurveExponent)
	return (1.0 - adjusted) * MinVolumeDB
}

// pcmStreamer bridges the decode pipeline's frame channel to the output
// device. Reads are non-blocking: an empty channel produces silence instead
// of stalling the speaker mutex, which keeps the device pipeline flowing
// during network interruptions. Frames are consumed strictly in arrival
// order.
type pcmStreamer struct {
	frames <-chan Frame

	pending []([2]float64)
	done    bool

	fadeInRemaining int
	fadeInTotal     int
}

func newPCMStreamer(frames <-chan Frame, sampleRate beep.SampleRate) *pcmStreamer {
	fadeSamples := sampleRate.N(FadeInDuration)
	return &pcmStreamer{
		frames:          frames,
		fadeInRemaining: fadeSamples,
		fadeInTotal:     fadeSamples,
	}
}

func (b *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	audioEnd := 0

	if !b.done {
		for i := range samples {
			if len(b.pending) == 0 {
				select {
				case frame, more := <-b.frames:
					if !more {
						b.done = true
					} else {
						b.pending = frame.Samples
					}
				default:
				}
			}
			if b.done || len(b.pending) == 0 {
				break
			}

			samples[i] = b.pending[0]
			b.pending = b.pending[1:]
			audioEnd = i + 1
		}
	}

	for i := audioEnd; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}

	if b.fadeInRemaining > 0 {
		for i := 0; i < audioEnd; i++ {
			pos := b.fadeInTotal - b.fadeInRemaining
			scale := float64(pos) / float64(b.fadeInTotal)
			samples[i][0] *= scale
			samples[i][1] *= scale
			b.fadeInRemaining--
			if b.fadeInRemaining <= 0 {
				break
			}
		}
	}

	return len(samples), true
}

func (b *pcmStreamer) Err() error {
	return nil
}
