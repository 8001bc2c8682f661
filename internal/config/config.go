// Package config handles the persistent YAML configuration of the player.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gdamore/tcell/v2"
	"gopkg.in/yaml.v3"
)

const (
	AppName        = "WaveFM"
	AppTagline     = "Terminal internet radio"
	AppDescription = "A terminal player for internet radio streams"

	ConfigDir      = ".config/wavefm"
	ConfigFileName = "config.yml"

	// DefaultDirectoryURL is the station directory the player ships with.
	// Any SomaFM-compatible directory (channels.json schema) works.
	DefaultDirectoryURL = "https://api.somafm.com"

	DefaultVolume = 70
	MinVolume     = 0
	MaxVolume     = 100
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X wavefm/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

type Theme struct {
	Background       string `yaml:"background"`
	Foreground       string `yaml:"foreground"`
	Borders          string `yaml:"borders"`
	Highlight        string `yaml:"highlight"`
	HeaderBackground string `yaml:"header_background"`
	StatusForeground string `yaml:"status_foreground"`
	ErrorForeground  string `yaml:"error_foreground"`
}

type Config struct {
	Volume        int      `yaml:"volume"`
	LastStation   string   `yaml:"last_station"`
	Autostart     bool     `yaml:"autostart"`
	AutoReconnect bool     `yaml:"auto_reconnect"`
	DirectoryURL  string   `yaml:"directory_url"`
	Favorites     []string `yaml:"favorites"`
	Theme         Theme    `yaml:"theme"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Volume = ClampVolume(cfg.Volume)
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = DefaultDirectoryURL
	}

	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:        DefaultVolume,
		LastStation:   "",
		Autostart:     false,
		AutoReconnect: true,
		DirectoryURL:  DefaultDirectoryURL,
		Favorites:     []string{},
		Theme: Theme{
			Background:       "#1b1d2a",
			Foreground:       "#aab2d0",
			Borders:          "#3f4459",
			Highlight:        "#7fd4a0",
			HeaderBackground: "#2e3247",
			StatusForeground: "#c8d0e8",
			ErrorForeground:  "#fe5f55",
		},
	}
}

func (c *Config) IsFavorite(stationID string) bool {
	for _, id := range c.Favorites {
		if id == stationID {
			return true
		}
	}
	return false
}

func (c *Config) ToggleFavorite(stationID string) {
	for i, id := range c.Favorites {
		if id == stationID {
			c.Favorites = append(c.Favorites[:i], c.Favorites[i+1:]...)
			return
		}
	}
	c.Favorites = append(c.Favorites, stationID)
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
