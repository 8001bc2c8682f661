// Package player implements the streaming playback engine: a network
// fetcher feeding a bounded byte buffer, a decode pipeline turning the
// bytes into PCM frames on a dedicated worker, and an output sink, all
// supervised by a per-session retry controller.
package player

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/rs/zerolog/log"
	"wavefm/internal/config"
)

const (
	// MaxRetries is how many reconnection attempts a session makes after
	// the initial one before giving up.
	MaxRetries = 3
	// RetryDelay is the fixed wait between reconnection attempts.
	RetryDelay = 2 * time.Second
)

// StreamResolver maps a candidate URL (possibly a playlist file) to the
// real media endpoint.
type StreamResolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// session is one playback attempt series for a single URL. Creating a new
// session cancels and supersedes the previous one; the generation counter
// invalidates callbacks from stale sessions.
type session struct {
	url    string
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	played atomic.Bool // the attempt produced audio before failing
}

// Player is the playback engine facade. All commands are non-blocking:
// they trigger background work and return immediately.
type Player struct {
	out        Output
	httpClient *http.Client
	resolver   StreamResolver
	bus        *EventBus

	mu            sync.Mutex
	sess          *session
	generation    uint64
	state         PlaybackState
	requestedURL  string
	streamURL     string
	currentTrack  string
	lastError     string
	autoReconnect bool
	retryAttempt  int
	maxRetries    int
	retryDelay    time.Duration
	volumePercent int
	volume        *effects.Volume
	ctrl          *beep.Ctrl
	speakerInit   bool
	speakerRate   beep.SampleRate
	recorder      *Recorder
	closed        bool
}

// NewPlayer creates a player backed by the system audio device.
func NewPlayer(resolver StreamResolver) *Player {
	return newPlayer(resolver, speakerOutput{})
}

func newPlayer(resolver StreamResolver, out Output) *Player {
	return &Player{
		out:           out,
		httpClient:    newStreamClient(),
		resolver:      resolver,
		bus:           NewEventBus(),
		state:         StateStopped,
		autoReconnect: true,
		maxRetries:    MaxRetries,
		retryDelay:    RetryDelay,
		volumePercent: -1,
	}
}

// Subscribe returns a latest-value event subscription.
func (p *Player) Subscribe() *Subscription {
	return p.bus.Subscribe()
}

// LatestEvent returns the most recent published event, if any.
func (p *Player) LatestEvent() (Event, bool) {
	return p.bus.Latest()
}

// Play starts a new playback session for url, cancelling any session in
// progress. It returns immediately; progress is observable through the
// state query and the event subscription.
func (p *Player) Play(url string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.cancelSessionLocked()

	p.generation++
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		url:    url,
		gen:    p.generation,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.sess = sess
	p.state = StateConnecting
	p.requestedURL = url
	p.streamURL = ""
	p.currentTrack = ""
	p.lastError = ""
	p.retryAttempt = 0
	p.mu.Unlock()

	p.out.Clear()
	p.bus.Publish(Event{Kind: EventConnecting, URL: url})

	go p.runSession(sess)
}

// Pause suspends the live output. No-op unless currently playing.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.ctrl == nil || p.state != StatePlaying {
		p.mu.Unlock()
		return
	}

	p.out.Lock()
	p.ctrl.Paused = true
	p.out.Unlock()
	p.state = StatePaused
	p.mu.Unlock()

	log.Debug().Msg("Playback paused")
	p.bus.Publish(Event{Kind: EventPaused})
}

// Resume continues a paused session. No-op unless currently paused.
func (p *Player) Resume() {
	p.mu.Lock()
	if p.ctrl == nil || p.state != StatePaused {
		p.mu.Unlock()
		return
	}

	p.out.Lock()
	p.ctrl.Paused = false
	p.out.Unlock()
	p.state = StatePlaying
	p.mu.Unlock()

	log.Debug().Msg("Playback resumed")
	p.bus.Publish(Event{Kind: EventResumed})
}

// Stop cancels the current session, halts output and resets session
// bookkeeping.
func (p *Player) Stop() {
	p.mu.Lock()
	hadSession := p.sess != nil || p.state != StateStopped
	p.cancelSessionLocked()
	p.state = StateStopped
	p.retryAttempt = 0
	p.lastError = ""
	recorder := p.recorder
	p.recorder = nil
	p.mu.Unlock()

	p.out.Clear()

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to finalize recording")
		}
	}

	if hadSession {
		log.Debug().Msg("Playback stopped")
		p.bus.Publish(Event{Kind: EventStopped})
	}
}

// Shutdown stops playback and permanently disables the player.
func (p *Player) Shutdown() {
	p.Stop()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// SetAutoReconnect toggles session-level retry on fetch/decode failure.
func (p *Player) SetAutoReconnect(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoReconnect = enabled
}

// SetVolume applies a 0-100 volume percentage to the live output, or
// stores it for the next session when nothing is playing.
func (p *Player) SetVolume(volumePercent int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volumePercent = volumePercent

	if p.volume == nil {
		log.Debug().Msgf("Volume stored as %d%% (will be applied when playback starts)", volumePercent)
		return
	}

	volumeLevel := percentToExponent(float64(volumePercent))

	p.out.Lock()
	p.volume.Volume = volumeLevel
	p.volume.Silent = volumePercent == 0
	p.out.Unlock()

	log.Debug().Msgf("Volume set to %d%% (%.2f dB)", volumePercent, volumeLevel)
}

// Volume returns the configured volume percentage.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.volumePercent < 0 {
		return config.DefaultVolume
	}
	return p.volumePercent
}

// PlaybackState returns the current state machine value.
func (p *Player) PlaybackState() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CurrentURL returns the URL the current session was started with.
func (p *Player) CurrentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestedURL
}

// StreamURL returns the resolved media endpoint of the current session.
func (p *Player) StreamURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamURL
}

// CurrentTrack returns the latest ICY stream title, if any.
func (p *Player) CurrentTrack() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTrack
}

// SetInitialTrack seeds the track display before ICY metadata arrives.
// ICY titles already received are not overwritten.
func (p *Player) SetInitialTrack(track string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentTrack == "" {
		p.currentTrack = track
	}
}

// LastError returns the terminal failure reason when in the Error state.
func (p *Player) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// RetryInfo returns the current attempt number and the ceiling.
func (p *Player) RetryInfo() (current, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryAttempt, p.maxRetries
}

// StartRecording begins capturing decoded PCM to a WAV file at path.
// Fails when nothing is playing or a recording is already in progress.
func (p *Player) StartRecording(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recorder != nil {
		return errors.New("recording already in progress")
	}
	if p.state != StatePlaying && p.state != StatePaused {
		return errors.New("nothing is playing")
	}

	recorder, err := NewRecorder(path, int(p.speakerRate))
	if err != nil {
		return err
	}
	p.recorder = recorder
	log.Debug().Str("path", path).Msg("Recording started")
	return nil
}

// StopRecording finalizes the in-progress recording, if any.
func (p *Player) StopRecording() error {
	p.mu.Lock()
	recorder := p.recorder
	p.recorder = nil
	p.mu.Unlock()

	if recorder == nil {
		return nil
	}
	log.Debug().Int64("samples", recorder.Written()).Msg("Recording stopped")
	return recorder.Close()
}

// IsRecording reports whether a recording is in progress.
func (p *Player) IsRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recorder != nil
}

// cancelSessionLocked tears down the current session slot. The session's
// goroutines observe the cancellation at their next wait point.
func (p *Player) cancelSessionLocked() {
	if p.sess != nil {
		p.sess.cancel()
		p.sess = nil
	}
	p.ctrl = nil
	p.volume = nil
}

// isCurrent reports whether sess still owns the player.
func (p *Player) isCurrent(sess *session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess == sess
}

// runSession resolves the URL once, then wraps playback attempts in the
// retry loop. It is the only place that decides between retry and the
// terminal Error state.
func (p *Player) runSession(sess *session) {
	defer close(sess.done)

	resolved, err := p.resolver.Resolve(sess.ctx, sess.url)
	if err != nil {
		log.Warn().Err(err).Str("url", sess.url).Msg("Failed to resolve stream URL, using it unresolved")
		resolved = sess.url
	}

	p.mu.Lock()
	if p.sess == sess {
		p.streamURL = resolved
	}
	p.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if sess.ctx.Err() != nil {
			return
		}

		p.setRetryAttempt(sess, attempt)

		err := p.playAttempt(sess, resolved)

		if sess.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}

		if err == nil {
			// The stream ended cleanly; unusual for live radio but not
			// an error.
			p.endSession(sess, StateStopped, "")
			p.bus.Publish(Event{Kind: EventStopped})
			return
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("Playback attempt failed")
		p.bus.Publish(Event{Kind: EventError, Message: err.Error()})

		// A stream that connected and played before dropping earns a
		// fresh retry budget.
		if sess.played.Swap(false) {
			attempt = -1
		}

		if isNonRetryableError(err) || !p.autoReconnectEnabled() || attempt+1 > p.retryCeiling() {
			p.endSession(sess, StateError, err.Error())
			return
		}

		delay := p.retryWait()
		log.Warn().Msgf("Reconnecting in %v...", delay)
		select {
		case <-sess.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// playAttempt wires one fetch+decode+sink pipeline and blocks until it
// terminates. A nil return means clean end of stream.
func (p *Player) playAttempt(sess *session, streamURL string) error {
	attemptCtx, cancel := context.WithCancel(sess.ctx)

	buf := NewStreamBuffer()

	fet := &fetcher{
		client: p.httpClient,
		buf:    buf,
		bus:    p.bus,
		onTrack: func(title string) {
			p.setCurrentTrack(sess, title)
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fet.run(attemptCtx, streamURL)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	src := newMediaSource(attemptCtx, buf)
	frames := make(chan Frame, FrameChannelDepth)

	pipeline := newDecodePipeline(buf, src, frames)
	pipeline.onFirstFrame = func() {
		sess.played.Store(true)
		p.markPlaying(sess)
	}
	pipeline.tap = p.recordFrame

	ready := make(chan beep.Format, 1)
	decodeDone := make(chan error, 1)
	go func() {
		err := pipeline.run(attemptCtx, ready)
		close(frames)
		decodeDone <- err
	}()

	var format beep.Format
	select {
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	case err := <-decodeDone:
		return err
	case format = <-ready:
	}

	if err := p.startOutput(sess, format, frames); err != nil {
		return err
	}
	defer p.stopOutput(sess)

	select {
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	case err := <-decodeDone:
		return err
	}
}

// startOutput initializes the device for the probed format and attaches
// the PCM bridge behind volume and pause controls.
func (p *Player) startOutput(sess *session, format beep.Format, frames <-chan Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess != sess {
		return context.Canceled
	}

	if !p.speakerInit || format.SampleRate != p.speakerRate {
		if err := p.out.Init(format.SampleRate, format.SampleRate.N(SpeakerBufferSize)); err != nil {
			return err
		}
		p.speakerInit = true
		p.speakerRate = format.SampleRate
		log.Debug().Msgf("Audio output initialized at %d Hz", format.SampleRate)
	}

	volumePercent := p.volumePercent
	if volumePercent < 0 {
		volumePercent = config.DefaultVolume
	}

	p.volume = &effects.Volume{
		Streamer: newPCMStreamer(frames, format.SampleRate),
		Base:     2,
		Volume:   percentToExponent(float64(volumePercent)),
		Silent:   volumePercent == 0,
	}
	p.ctrl = &beep.Ctrl{Streamer: p.volume}

	p.out.Play(p.ctrl)
	return nil
}

// stopOutput detaches the session's streamer from the device. Superseded
// sessions must not touch the output: by the time their deferred teardown
// runs, the replacement session may already be playing through it.
func (p *Player) stopOutput(sess *session) {
	p.mu.Lock()
	if p.sess != sess {
		p.mu.Unlock()
		return
	}
	p.ctrl = nil
	p.volume = nil
	p.mu.Unlock()

	p.out.Clear()
}

// markPlaying flips the session to Playing on the first decoded frame.
// Stale-session callbacks are ignored.
func (p *Player) markPlaying(sess *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess || sess.ctx.Err() != nil {
		return
	}
	if p.state == StateConnecting {
		log.Debug().Str("url", p.streamURL).Msg("First frame decoded, playback live")
		p.state = StatePlaying
	}
}

func (p *Player) setCurrentTrack(sess *session, track string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess {
		return
	}
	if track != p.currentTrack {
		p.currentTrack = track
		log.Debug().Msgf("Now playing: %s", track)
	}
}

func (p *Player) setRetryAttempt(sess *session, attempt int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess {
		return
	}
	p.retryAttempt = attempt
	if attempt > 0 && p.state != StateConnecting {
		p.state = StateConnecting
	}
}

// endSession records the terminal outcome of a session that was not
// superseded.
func (p *Player) endSession(sess *session, state PlaybackState, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess {
		return
	}
	p.state = state
	p.lastError = errMsg
	p.sess = nil
	p.ctrl = nil
	p.volume = nil
}

func (p *Player) autoReconnectEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoReconnect
}

func (p *Player) retryCeiling() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxRetries
}

func (p *Player) retryWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryDelay
}

// recordFrame forwards a decoded frame to the active recorder, if any.
func (p *Player) recordFrame(frame Frame) {
	p.mu.Lock()
	recorder := p.recorder
	p.mu.Unlock()

	if recorder == nil {
		return
	}
	if err := recorder.Write(frame); err != nil {
		log.Warn().Err(err).Msg("Recording write failed, stopping recorder")
		p.mu.Lock()
		p.recorder = nil
		p.mu.Unlock()
		recorder.Close()
	}
}
