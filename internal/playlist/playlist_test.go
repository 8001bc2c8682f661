package playlist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsDirectStream(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"http://ice1.somafm.com/groovesalad-256-mp3", false},
		{"http://example.com/stream.mp3", true},
		{"http://example.com/STREAM.MP3", true},
		{"http://example.com/stream.aac", true},
		{"http://example.com/stream.ogg", true},
		{"http://example.com/stream.flac", true},
		{"http://example.com/live", true},
		{"http://example.com/live/radio", true},
		{"http://example.com/station.pls", false},
		{"http://example.com/station.m3u", false},
	}

	for _, tt := range tests {
		if got := IsDirectStream(tt.url); got != tt.expected {
			t.Errorf("IsDirectStream(%q) = %v, want %v", tt.url, got, tt.expected)
		}
	}
}

func TestIsPlaylist(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"http://example.com/station.pls", true},
		{"http://example.com/station.PLS", true},
		{"http://example.com/station.m3u", true},
		{"http://example.com/station.m3u8", true},
		{"http://example.com/stream.mp3", false},
		{"http://example.com/listen", false},
	}

	for _, tt := range tests {
		if got := IsPlaylist(tt.url); got != tt.expected {
			t.Errorf("IsPlaylist(%q) = %v, want %v", tt.url, got, tt.expected)
		}
	}
}

func TestParsePLS(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "standard",
			content: "[playlist]\nnumberofentries=2\nFile1=http://ice1.somafm.com/groovesalad-256-mp3\nTitle1=SomaFM\nFile2=http://ice2.somafm.com/groovesalad-256-mp3\n",
			want:    "http://ice1.somafm.com/groovesalad-256-mp3",
		},
		{
			name:    "whitespace_around_entry",
			content: "[playlist]\n  File1 = http://example.com/live.mp3  \n",
			want:    "http://example.com/live.mp3",
		},
		{
			name:    "no_entries",
			content: "[playlist]\nnumberofentries=0\n",
			wantErr: true,
		},
		{
			name:    "empty_file_value",
			content: "[playlist]\nFile1=\n",
			wantErr: true,
		},
		{
			name:    "empty_content",
			content: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePLS(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrNoStreamURL) {
					t.Errorf("ParsePLS() error = %v, want ErrNoStreamURL", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePLS() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePLS() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseM3U(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "plain",
			content: "http://ice1.somafm.com/dronezone-256-mp3\n",
			want:    "http://ice1.somafm.com/dronezone-256-mp3",
		},
		{
			name:    "extended",
			content: "#EXTM3U\n#EXTINF:-1,Drone Zone\nhttp://ice1.somafm.com/dronezone-256-mp3\n",
			want:    "http://ice1.somafm.com/dronezone-256-mp3",
		},
		{
			name:    "leading_blank_lines",
			content: "\n\n  http://example.com/live.aac\n",
			want:    "http://example.com/live.aac",
		},
		{
			name:    "comments_only",
			content: "#EXTM3U\n#EXTINF:-1,Nothing\n",
			wantErr: true,
		},
		{
			name:    "empty_content",
			content: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseM3U(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrNoStreamURL) {
					t.Errorf("ParseM3U() error = %v, want ErrNoStreamURL", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseM3U() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseM3U() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolvePassesDirectURLsThrough(t *testing.T) {
	r := NewResolver()

	url := "http://example.com/stream.mp3"
	got, err := r.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != url {
		t.Errorf("Resolve() = %q, want unchanged %q", got, url)
	}
}

func TestResolveFetchesPLS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/station.pls" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("[playlist]\nFile1=http://ice1.somafm.com/groovesalad-256-mp3\n"))
	}))
	defer server.Close()

	r := NewResolver()
	got, err := r.Resolve(context.Background(), server.URL+"/station.pls")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "http://ice1.somafm.com/groovesalad-256-mp3" {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestResolveFetchesM3U(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\nhttp://ice1.somafm.com/dronezone-256-mp3\n"))
	}))
	defer server.Close()

	r := NewResolver()
	got, err := r.Resolve(context.Background(), server.URL+"/station.m3u")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "http://ice1.somafm.com/dronezone-256-mp3" {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestResolvePlaylistFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewResolver()
	if _, err := r.Resolve(context.Background(), server.URL+"/station.pls"); err == nil {
		t.Error("Resolve() expected an error for a failing playlist fetch")
	}
}

func TestResolveMalformedPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a playlist"))
	}))
	defer server.Close()

	r := NewResolver()
	_, err := r.Resolve(context.Background(), server.URL+"/station.pls")
	if !errors.Is(err, ErrNoStreamURL) {
		t.Errorf("Resolve() error = %v, want ErrNoStreamURL", err)
	}
}
