// Package playlist resolves a candidate stream URL to the real media
// endpoint. Direct stream URLs pass through unchanged; .pls/.m3u/.m3u8
// playlist files are fetched and the first listed stream URL is extracted.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const fetchTimeout = 10 * time.Second

// ErrNoStreamURL is returned when a playlist file contains no usable entry.
var ErrNoStreamURL = errors.New("no stream URL found in playlist")

// directStreamSuffixes are extensions that denote a playable stream as-is.
var directStreamSuffixes = []string{".mp3", ".aac", ".ogg", ".oga", ".flac", ".wav"}

// Resolver fetches and parses playlist files.
type Resolver struct {
	client *resty.Client
}

// NewResolver creates a Resolver with its own short-timeout HTTP client.
func NewResolver() *Resolver {
	return &Resolver{
		client: resty.New().SetTimeout(fetchTimeout),
	}
}

// IsDirectStream reports whether the URL denotes a playable stream without
// playlist indirection.
func IsDirectStream(url string) bool {
	lower := strings.ToLower(url)
	for _, suffix := range directStreamSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, "/live")
}

// IsPlaylist reports whether the URL points at a playlist file.
func IsPlaylist(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasSuffix(lower, ".pls") ||
		strings.HasSuffix(lower, ".m3u") ||
		strings.HasSuffix(lower, ".m3u8")
}

// Resolve maps a candidate URL to the stream endpoint to play. Playlist
// URLs are fetched and parsed; anything else is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, url string) (string, error) {
	if IsDirectStream(url) || !IsPlaylist(url) {
		return url, nil
	}

	content, err := r.fetch(ctx, url)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(url)
	if strings.HasSuffix(lower, ".pls") {
		return ParsePLS(content)
	}
	return ParseM3U(content)
}

func (r *Resolver) fetch(ctx context.Context, url string) (string, error) {
	resp, err := r.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch playlist: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("playlist returned status %d: %s", resp.StatusCode(), resp.Status())
	}
	return string(resp.Body()), nil
}

// ParsePLS extracts the first FileN= entry from .pls playlist content.
func ParsePLS(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "File") || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if url := strings.TrimSpace(parts[1]); url != "" {
			return url, nil
		}
	}
	return "", ErrNoStreamURL
}

// ParseM3U extracts the first non-comment, non-blank line from .m3u/.m3u8
// playlist content.
func ParseM3U(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	return "", ErrNoStreamURL
}
