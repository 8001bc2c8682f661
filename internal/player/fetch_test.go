package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestFetcher(buf *StreamBuffer, bus *EventBus) *fetcher {
	return &fetcher{
		client: newStreamClient(),
		buf:    buf,
		bus:    bus,
	}
}

func TestFetcherDeliversBytesInOrder(t *testing.T) {
	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	buf := NewStreamBuffer()
	bus := NewEventBus()
	sub := bus.Subscribe()
	defer sub.Cancel()

	f := newTestFetcher(buf, bus)
	f.run(context.Background(), server.URL)

	if !buf.Closed() {
		t.Fatal("buffer not closed after run() returned")
	}

	got, err := io.ReadAll(newMediaSource(context.Background(), buf))
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("drained %d bytes, want %d identical bytes", len(got), len(payload))
	}
}

func TestFetcherPublishesConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Small enough that no progress event follows.
		w.Write(make([]byte, 512))
	}))
	defer server.Close()

	buf := NewStreamBuffer()
	bus := NewEventBus()

	newTestFetcher(buf, bus).run(context.Background(), server.URL)

	latest, ok := bus.Latest()
	if !ok || latest.Kind != EventConnected {
		t.Errorf("latest event = %v (ok=%v), want EventConnected", latest.Kind, ok)
	}
}

func TestFetcherPublishesProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, ProgressInterval+NetworkChunkSize))
	}))
	defer server.Close()

	buf := NewStreamBuffer()
	bus := NewEventBus()

	newTestFetcher(buf, bus).run(context.Background(), server.URL)

	latest, ok := bus.Latest()
	if !ok || latest.Kind != EventBufferProgress {
		t.Fatalf("latest event = %v (ok=%v), want EventBufferProgress", latest.Kind, ok)
	}
	if latest.Bytes < ProgressInterval {
		t.Errorf("progress at %d bytes, want >= %d", latest.Bytes, ProgressInterval)
	}
}

func TestFetcherNonOKStatus(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		nonRetryable bool
	}{
		{"not_found", http.StatusNotFound, true},
		{"forbidden", http.StatusForbidden, true},
		{"gone", http.StatusGone, true},
		{"service_unavailable", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			buf := NewStreamBuffer()
			f := newTestFetcher(buf, NewEventBus())
			f.run(context.Background(), server.URL)

			_, err := buf.Read(make([]byte, 1))
			var statusErr *httpStatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("buffer error = %v, want httpStatusError", err)
			}
			if statusErr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", statusErr.StatusCode, tt.status)
			}
			if got := isNonRetryableError(err); got != tt.nonRetryable {
				t.Errorf("isNonRetryableError() = %v, want %v", got, tt.nonRetryable)
			}
		})
	}
}

func TestFetcherCancellation(t *testing.T) {
	handlerDone := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		flusher := w.(http.Flusher)
		for {
			if _, err := w.Write(make([]byte, 1024)); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer server.Close()

	buf := NewStreamBuffer()
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		newTestFetcher(buf, NewEventBus()).run(ctx, server.URL)
	}()

	// Let some audio flow before pulling the plug.
	deadline := time.After(2 * time.Second)
	for buf.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("no data received before cancellation")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server handler still writing after cancellation")
	}

	if !buf.Closed() {
		t.Error("buffer not closed after cancellation")
	}
}

func TestFetcherStripsICYMetadata(t *testing.T) {
	const metaint = 64
	audio := []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	title := "StreamTitle='Boards of Canada - Dayvan Cowboy';"
	meta := make([]byte, ((len(title)+15)/16)*16)
	copy(meta, title)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("icy-metaint", fmt.Sprintf("%d", metaint))
		// Two intervals: one with a title block, one with an empty block.
		w.Write(audio)
		w.Write([]byte{byte(len(meta) / 16)})
		w.Write(meta)
		w.Write(audio)
		w.Write([]byte{0})
	}))
	defer server.Close()

	buf := NewStreamBuffer()

	var gotTitle string
	f := newTestFetcher(buf, NewEventBus())
	f.onTrack = func(title string) { gotTitle = title }
	f.run(context.Background(), server.URL)

	got, err := io.ReadAll(newMediaSource(context.Background(), buf))
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}
	want := append(append([]byte{}, audio...), audio...)
	if !bytes.Equal(got, want) {
		t.Errorf("audio bytes = %q, want metadata stripped %q", got, want)
	}
	if gotTitle != "Boards of Canada - Dayvan Cowboy" {
		t.Errorf("track title = %q", gotTitle)
	}
}

func TestFetcherRejectsOversizedICYInterval(t *testing.T) {
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An interval bigger than the whole stream buffer can hold. A
		// server advertising this cannot be interleaving metadata at a
		// usable cadence, so the payload carries no metadata blocks.
		w.Header().Set("icy-metaint", fmt.Sprintf("%d", MaxBufferBytes/2))
		w.Write(payload)
	}))
	defer server.Close()

	buf := NewStreamBuffer()
	f := newTestFetcher(buf, NewEventBus())
	f.run(context.Background(), server.URL)

	if !buf.Closed() {
		t.Fatal("buffer not closed after run() returned")
	}

	got, err := io.ReadAll(newMediaSource(context.Background(), buf))
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}
	// The implausible interval is ignored: the stream passes through
	// untouched instead of being carved up at a bogus boundary.
	if !bytes.Equal(got, payload) {
		t.Errorf("drained %d bytes, want the %d-byte payload verbatim", len(got), len(payload))
	}
}

func TestApplyBackpressureEvictsOnOverflow(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the full backpressure window")
	}

	buf := NewStreamBuffer()
	// Fill past the hard ceiling with nothing consuming.
	chunk := make([]byte, 1024*1024)
	for buf.Len() < MaxBufferBytes {
		buf.Write(chunk)
	}

	f := newTestFetcher(buf, NewEventBus())
	if err := f.applyBackpressure(context.Background()); err != nil {
		t.Fatalf("applyBackpressure() error = %v", err)
	}

	if buf.Len() >= MaxBufferBytes {
		t.Errorf("buffer length %d after backpressure, want below %d", buf.Len(), MaxBufferBytes)
	}
	if buf.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", buf.Evictions())
	}
}

func TestApplyBackpressureCancellable(t *testing.T) {
	buf := NewStreamBuffer()
	chunk := make([]byte, 1024*1024)
	for buf.Len() <= BackpressureBytes {
		buf.Write(chunk)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(buf, NewEventBus())
	if err := f.applyBackpressure(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("applyBackpressure() = %v, want context.Canceled", err)
	}
}

func TestParseStreamTitle(t *testing.T) {
	tests := []struct {
		name  string
		meta  string
		title string
		ok    bool
	}{
		{"simple", "StreamTitle='Artist - Song';", "Artist - Song", true},
		{"with_url", "StreamTitle='Tune';StreamUrl='http://x';", "Tune", true},
		{"empty_title", "StreamTitle='';", "", false},
		{"no_marker", "StreamUrl='http://x';", "", false},
		{"padding", "StreamTitle='A';\x00\x00\x00", "A", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, ok := parseStreamTitle(tt.meta)
			if ok != tt.ok || title != tt.title {
				t.Errorf("parseStreamTitle(%q) = (%q, %v), want (%q, %v)",
					tt.meta, title, ok, tt.title, tt.ok)
			}
		})
	}
}
