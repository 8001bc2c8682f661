// Package station defines the data structures for directory radio stations.
package station

import "strings"

// Playlist is one streaming endpoint of a station. A station typically
// exposes several endpoints at different formats and bitrates.
type Playlist struct {
	URL     string `json:"url"`
	Format  string `json:"format"`  // Audio format (e.g., "mp3", "aac")
	Quality string `json:"quality"` // Quality level (e.g., "highest", "high")
}

// Station is a radio station as described by the directory API.
type Station struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DJ          string     `json:"dj"`
	Genre       string     `json:"genre"` // Pipe-separated genre list
	Image       string     `json:"image"`
	Updated     string     `json:"updated"`
	Playlists   []Playlist `json:"playlists"`
	Listeners   string     `json:"listeners"`
	LastPlaying string     `json:"lastPlaying"`
}

// Genres splits the pipe-separated genre field into individual genres.
func (s *Station) Genres() []string {
	if s.Genre == "" {
		return nil
	}
	parts := strings.Split(s.Genre, "|")
	genres := make([]string, 0, len(parts))
	for _, part := range parts {
		if g := strings.TrimSpace(part); g != "" {
			genres = append(genres, g)
		}
	}
	return genres
}

// BestPlaylistURL returns the URL of the highest quality MP3 endpoint.
// Falls back to the first available endpoint if no MP3 "highest" exists.
func (s *Station) BestPlaylistURL() string {
	for _, playlist := range s.Playlists {
		if playlist.Format == "mp3" && playlist.Quality == "highest" {
			return playlist.URL
		}
	}
	if len(s.Playlists) > 0 {
		return s.Playlists[0].URL
	}
	return ""
}

// AllPlaylistURLs returns every endpoint URL sorted by preference:
// MP3 highest quality first, then other MP3, then other formats.
func (s *Station) AllPlaylistURLs() []string {
	var mp3Highest, mp3Other, other []string

	for _, playlist := range s.Playlists {
		if playlist.Format == "mp3" {
			if playlist.Quality == "highest" {
				mp3Highest = append(mp3Highest, playlist.URL)
			} else {
				mp3Other = append(mp3Other, playlist.URL)
			}
		} else {
			other = append(other, playlist.URL)
		}
	}

	result := make([]string, 0, len(s.Playlists))
	result = append(result, mp3Highest...)
	result = append(result, mp3Other...)
	result = append(result, other...)

	return result
}
