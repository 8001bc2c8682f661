package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"wavefm/internal/api"
	"wavefm/internal/cache"
	"wavefm/internal/config"
	"wavefm/internal/player"
	"wavefm/internal/playlist"
	"wavefm/internal/service"
	"wavefm/internal/ui"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	urlFlag     = flag.String("url", "", "Play a stream URL directly, without the directory UI")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		configPath, err := config.GetConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "\nConfig file will be created on first use.\n")
			}
		}
	}
}

func setupLogging(debug bool) {
	if !debug {
		// Avoid TUI corruption by only logging errors to /dev/null
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644)
		if err == nil {
			log.Logger = log.Output(logFile)
		}
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	cacheDir, err := cache.GetCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(cacheDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging(*debugFlag)

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
	}

	radioPlayer := player.NewPlayer(playlist.NewResolver())
	radioPlayer.SetAutoReconnect(cfg.AutoReconnect)
	radioPlayer.SetVolume(cfg.Volume)

	// Headless mode: play one URL until interrupted.
	if *urlFlag != "" {
		runHeadless(radioPlayer, *urlFlag)
		return
	}

	directory := api.NewDirectoryClient(cfg.DirectoryURL)
	stationService := service.NewStationService(directory)
	radioUI := ui.NewUI(radioPlayer, stationService, cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, cleaning up...")
		radioUI.Shutdown()
	}()

	if err := radioUI.Run(); err != nil {
		radioPlayer.Shutdown()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	radioPlayer.Shutdown()
}

// runHeadless plays a single stream without the UI, printing player events
// to stdout until interrupted.
func runHeadless(radioPlayer *player.Player, url string) {
	sub := radioPlayer.Subscribe()
	defer sub.Cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	radioPlayer.Play(url)

	for {
		select {
		case ev := <-sub.C:
			fmt.Println(ev.String())
			if radioPlayer.PlaybackState() == player.StateError {
				radioPlayer.Shutdown()
				return
			}
		case <-sigChan:
			radioPlayer.Shutdown()
			return
		}
	}
}
