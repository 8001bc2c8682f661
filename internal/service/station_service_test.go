package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"wavefm/internal/api"
	"wavefm/internal/cache"
	"wavefm/internal/station"
)

func newTestService(t *testing.T, handler http.HandlerFunc) (*StationService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &StationService{
		client:       api.NewDirectoryClient(server.URL),
		catalogCache: cache.NewCacheAt(t.TempDir()),
	}, server
}

func channelsHandler(stations []station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			Channels []station.Station `json:"channels"`
		}{Channels: stations}
		_ = json.NewEncoder(w).Encode(response)
	}
}

func TestStationsSortsByListeners(t *testing.T) {
	svc, _ := newTestService(t, channelsHandler([]station.Station{
		{ID: "quiet", Title: "Quiet", Listeners: "12"},
		{ID: "busy", Title: "Busy", Listeners: "3400"},
		{ID: "broken", Title: "Broken", Listeners: "n/a"},
		{ID: "mid", Title: "Mid", Listeners: "800"},
	}))

	stations, err := svc.Stations()
	if err != nil {
		t.Fatalf("Stations() error = %v", err)
	}

	wantOrder := []string{"busy", "mid", "quiet", "broken"}
	for i, id := range wantOrder {
		if stations[i].ID != id {
			t.Errorf("stations[%d].ID = %q, want %q", i, stations[i].ID, id)
		}
	}
}

func TestStationsFallsBackToCache(t *testing.T) {
	var failing atomic.Bool
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		channelsHandler([]station.Station{
			{ID: "groovesalad", Title: "Groove Salad", Listeners: "1000"},
		})(w, r)
	})

	// First fetch succeeds and warms the on-disk cache.
	if _, err := svc.Stations(); err != nil {
		t.Fatalf("Stations() error = %v", err)
	}

	failing.Store(true)

	stations, err := svc.Stations()
	if err != nil {
		t.Fatalf("Stations() with directory down error = %v, want cached fallback", err)
	}
	if len(stations) != 1 || stations[0].ID != "groovesalad" {
		t.Errorf("cached fallback = %v", stations)
	}
}

func TestStationsErrorWithoutCache(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := svc.Stations(); err == nil {
		t.Error("Stations() expected an error when directory is down and nothing is cached")
	}
}

func TestFindByID(t *testing.T) {
	svc, _ := newTestService(t, channelsHandler([]station.Station{
		{ID: "groovesalad", Title: "Groove Salad", Listeners: "1000"},
		{ID: "dronezone", Title: "Drone Zone", Listeners: "500"},
	}))

	if _, err := svc.Stations(); err != nil {
		t.Fatalf("Stations() error = %v", err)
	}

	st, ok := svc.FindByID("dronezone")
	if !ok {
		t.Fatal("FindByID() did not find a loaded station")
	}
	if st.Title != "Drone Zone" {
		t.Errorf("FindByID().Title = %q", st.Title)
	}

	if _, ok := svc.FindByID("nope"); ok {
		t.Error("FindByID() found a nonexistent station")
	}
}

func TestSearch(t *testing.T) {
	svc, _ := newTestService(t, channelsHandler([]station.Station{
		{ID: "groovesalad", Title: "Groove Salad", Description: "chilled ambient beats", Genre: "ambient|electronica", Listeners: "1000"},
		{ID: "metal", Title: "Metal Detector", Description: "heavy", Genre: "metal", Listeners: "300"},
	}))

	if _, err := svc.Stations(); err != nil {
		t.Fatalf("Stations() error = %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"by_title", "groove", 1},
		{"by_description", "heavy", 1},
		{"by_genre", "electronica", 1},
		{"case_insensitive", "GROOVE", 1},
		{"no_match", "jazz", 0},
		{"empty_returns_all", "", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.Search(tt.query); len(got) != tt.want {
				t.Errorf("Search(%q) returned %d stations, want %d", tt.query, len(got), tt.want)
			}
		})
	}
}

func TestFormatListeners(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"0", "0"},
		{"42", "42"},
		{"999", "999"},
		{"1000", "1.0k"},
		{"3400", "3.4k"},
		{"n/a", "n/a"},
	}

	for _, tt := range tests {
		if got := FormatListeners(tt.in); got != tt.expected {
			t.Errorf("FormatListeners(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}
