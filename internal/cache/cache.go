// Package cache provides the on-disk station catalog cache. The catalog is
// kept so the player can still list stations when the directory API is
// unreachable.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"wavefm/internal/station"
)

const (
	// DefaultExpiry is how long a cached catalog is considered fresh.
	DefaultExpiry = 24 * time.Hour
	// CatalogFileName is the file the station list is stored in.
	CatalogFileName = "catalog.json"
	// AppName is used for the cache directory name.
	AppName = "wavefm"
)

// Cache manages the disk-based catalog cache.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// NewCache creates a Cache under the user cache directory with the default expiry.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// NewCacheAt creates a Cache rooted at an explicit directory.
func NewCacheAt(dir string) *Cache {
	return &Cache{
		baseDir: dir,
		expiry:  DefaultExpiry,
	}
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	return filepath.Join(userCacheDir, AppName), nil
}

func (c *Cache) catalogPath() string {
	return filepath.Join(c.baseDir, CatalogFileName)
}

// SaveCatalog stores the station list on disk, replacing any previous copy.
func (c *Cache) SaveCatalog(stations []station.Station) error {
	if err := os.MkdirAll(c.baseDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(stations)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	if err := os.WriteFile(c.catalogPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}

	return nil
}

// LoadCatalog retrieves the cached station list. Returns nil if the cache
// is missing, unreadable, or older than the expiry.
func (c *Cache) LoadCatalog() []station.Station {
	path := c.catalogPath()

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired catalog")
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var stations []station.Station
	if err := json.Unmarshal(data, &stations); err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Failed to decode cached catalog")
		return nil
	}

	return stations
}

// Age reports how old the cached catalog is. The second return value is
// false when no catalog is cached.
func (c *Cache) Age() (time.Duration, bool) {
	info, err := os.Stat(c.catalogPath())
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

// Clear removes the cached catalog.
func (c *Cache) Clear() error {
	err := os.Remove(c.catalogPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove catalog file: %w", err)
	}
	return nil
}
