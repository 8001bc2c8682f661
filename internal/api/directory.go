// Package api provides the HTTP client for the station directory.
//
// The directory exposes the SomaFM channels.json schema: a channel list
// endpoint and a per-station recent-songs endpoint. Any server speaking
// that schema can be used by pointing the client at its base URL.
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"wavefm/internal/station"
)

const requestTimeout = 30 * time.Second

// DirectoryClient is the HTTP client for the station directory API.
type DirectoryClient struct {
	client *resty.Client
}

// NewDirectoryClient creates a directory client for the given base URL.
func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(requestTimeout),
	}
}

// Channels fetches the list of available radio stations from the directory.
func (c *DirectoryClient) Channels() ([]station.Station, error) {
	resp, err := c.client.R().Get("/channels.json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stations: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("directory returned status %d: %s", resp.StatusCode(), resp.Status())
	}

	var response struct {
		Channels []station.Station `json:"channels"`
	}

	if err := json.Unmarshal(resp.Body(), &response); err != nil {
		return nil, fmt.Errorf("failed to parse stations response: %w", err)
	}

	return response.Channels, nil
}

type TrackInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Date   string `json:"date"`
}

type TracksResponse struct {
	ID    string      `json:"id"`
	Songs []TrackInfo `json:"songs"`
}

// RecentTracks fetches the recent track history for a specific station.
func (c *DirectoryClient) RecentTracks(stationID string) (*TracksResponse, error) {
	resp, err := c.client.R().Get(fmt.Sprintf("/songs/%s.json", stationID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch songs for station %s: %w", stationID, err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("directory returned status %d: %s", resp.StatusCode(), resp.Status())
	}

	var response TracksResponse
	if err := json.Unmarshal(resp.Body(), &response); err != nil {
		return nil, fmt.Errorf("failed to parse songs response: %w", err)
	}

	return &response, nil
}

// CurrentTrack returns an "Artist - Title" string for the most recent track
// of the station, or an empty string when the history is empty.
func (c *DirectoryClient) CurrentTrack(stationID string) (string, error) {
	tracks, err := c.RecentTracks(stationID)
	if err != nil {
		return "", err
	}

	if len(tracks.Songs) == 0 {
		return "", nil
	}

	song := tracks.Songs[0]
	if song.Artist != "" && song.Title != "" {
		return fmt.Sprintf("%s - %s", song.Artist, song.Title), nil
	}
	return song.Title, nil
}
