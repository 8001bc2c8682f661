// Package service provides the business logic layer for station catalog data.
package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"wavefm/internal/api"
	"wavefm/internal/cache"
	"wavefm/internal/station"
)

// StationService manages the station catalog: fetching it from the
// directory, sorting it, and falling back to the on-disk cache when the
// directory is unreachable.
type StationService struct {
	client        *api.DirectoryClient
	catalogCache  *cache.Cache
	stations      []station.Station
	mu            sync.RWMutex
	refreshTicker *time.Ticker
	stopRefresh   chan struct{}
	onRefresh     func([]station.Station)
}

// NewStationService creates a StationService with the given directory client.
func NewStationService(client *api.DirectoryClient) *StationService {
	catalogCache, err := cache.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize catalog cache, offline fallback disabled")
	}

	return &StationService{
		client:       client,
		catalogCache: catalogCache,
	}
}

// Stations fetches the catalog from the directory. On success the result
// is sorted by listener count and cached; on failure the last cached
// catalog is returned instead, if one exists.
func (s *StationService) Stations() ([]station.Station, error) {
	stations, err := s.client.Channels()
	if err != nil {
		if cached := s.loadCachedCatalog(); cached != nil {
			log.Warn().Err(err).Int("stations", len(cached)).Msg("Directory unreachable, using cached catalog")
			s.setStations(cached)
			return cached, nil
		}
		return nil, err
	}

	s.sortByListeners(stations)
	s.setStations(stations)

	if s.catalogCache != nil {
		if err := s.catalogCache.SaveCatalog(stations); err != nil {
			log.Debug().Err(err).Msg("Failed to cache catalog")
		}
	}

	return stations, nil
}

// CachedStations returns the most recently loaded catalog.
func (s *StationService) CachedStations() []station.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]station.Station, len(s.stations))
	copy(result, s.stations)
	return result
}

// FindByID looks a station up in the loaded catalog.
func (s *StationService) FindByID(id string) (*station.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.stations {
		if s.stations[i].ID == id {
			st := s.stations[i]
			return &st, true
		}
	}
	return nil, false
}

// Search filters the loaded catalog by a case-insensitive match on title,
// description, or genre.
func (s *StationService) Search(query string) []station.Station {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.CachedStations()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []station.Station
	for _, st := range s.stations {
		if strings.Contains(strings.ToLower(st.Title), query) ||
			strings.Contains(strings.ToLower(st.Description), query) ||
			strings.Contains(strings.ToLower(st.Genre), query) {
			matches = append(matches, st)
		}
	}
	return matches
}

// CurrentTrack returns the directory's idea of what a station is playing.
func (s *StationService) CurrentTrack(stationID string) (string, error) {
	return s.client.CurrentTrack(stationID)
}

// StartPeriodicRefresh re-fetches the catalog on the given interval and
// invokes onRefresh with each successful result.
func (s *StationService) StartPeriodicRefresh(interval time.Duration, onRefresh func([]station.Station)) {
	s.mu.Lock()
	if s.refreshTicker != nil {
		s.mu.Unlock()
		return
	}
	s.refreshTicker = time.NewTicker(interval)
	s.stopRefresh = make(chan struct{})
	s.onRefresh = onRefresh
	ticker := s.refreshTicker
	stop := s.stopRefresh
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				stations, err := s.Stations()
				if err != nil {
					log.Debug().Err(err).Msg("Periodic catalog refresh failed")
					continue
				}
				if onRefresh != nil {
					onRefresh(stations)
				}
			}
		}
	}()
}

// StopPeriodicRefresh halts the background refresh, if running.
func (s *StationService) StopPeriodicRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshTicker == nil {
		return
	}
	s.refreshTicker.Stop()
	close(s.stopRefresh)
	s.refreshTicker = nil
	s.stopRefresh = nil
}

func (s *StationService) setStations(stations []station.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations = stations
}

func (s *StationService) loadCachedCatalog() []station.Station {
	if s.catalogCache == nil {
		return nil
	}
	return s.catalogCache.LoadCatalog()
}

func (s *StationService) sortByListeners(stations []station.Station) {
	sort.SliceStable(stations, func(i, j int) bool {
		listenersI, errI := strconv.Atoi(stations[i].Listeners)
		listenersJ, errJ := strconv.Atoi(stations[j].Listeners)
		if errI != nil {
			listenersI = 0
		}
		if errJ != nil {
			listenersJ = 0
		}
		return listenersI > listenersJ
	})
}

// FormatListeners renders a listener count for display.
func FormatListeners(listeners string) string {
	n, err := strconv.Atoi(listeners)
	if err != nil {
		return listeners
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return strconv.Itoa(n)
}
