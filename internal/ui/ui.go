// Package ui implements the terminal interface: a station list, a
// now-playing status bar fed from the player's event feed, and key
// bindings for the playback commands.
package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
	"wavefm/internal/config"
	"wavefm/internal/player"
	"wavefm/internal/service"
	"wavefm/internal/station"
)

const (
	VolumeStep      = 5
	statusPollEvery = 500 * time.Millisecond
)

type UI struct {
	app            *tview.Application
	stationService *service.StationService
	player         *player.Player
	cfg            *config.Config

	stations       []station.Station
	currentStation *station.Station

	stationList *tview.Table
	header      *tview.TextView
	statusView  *tview.TextView
	helpView    *tview.TextView
	layout      *tview.Flex

	events       *player.Subscription
	stopLoop     chan struct{}
	shutdownOnce sync.Once
}

func NewUI(p *player.Player, stationService *service.StationService, cfg *config.Config) *UI {
	u := &UI{
		app:            tview.NewApplication(),
		stationService: stationService,
		player:         p,
		cfg:            cfg,
		stopLoop:       make(chan struct{}),
	}
	u.build()
	return u
}

func (u *UI) build() {
	theme := u.cfg.Theme
	background := config.GetColor(theme.Background)
	foreground := config.GetColor(theme.Foreground)
	highlight := config.GetColor(theme.Highlight)

	u.header = tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText(fmt.Sprintf(" %s — %s ", config.AppName, config.AppTagline))
	u.header.SetBackgroundColor(config.GetColor(theme.HeaderBackground))
	u.header.SetTextColor(config.GetColor(theme.StatusForeground))

	u.stationList = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	u.stationList.SetBackgroundColor(background)
	u.stationList.SetSelectedStyle(tcell.StyleDefault.
		Foreground(background).
		Background(highlight))
	u.stationList.SetSelectedFunc(func(row, column int) {
		u.playRow(row)
	})

	u.statusView = tview.NewTextView().SetDynamicColors(true)
	u.statusView.SetBackgroundColor(background)
	u.statusView.SetTextColor(config.GetColor(theme.StatusForeground))

	u.helpView = tview.NewTextView().
		SetDynamicColors(true).
		SetText(" [::b]enter[::-] play  [::b]space[::-] pause  [::b]s[::-] stop  [::b]-/+[::-] volume  [::b]w[::-] record  [::b]r[::-] refresh  [::b]q[::-] quit")
	u.helpView.SetBackgroundColor(background)
	u.helpView.SetTextColor(foreground)

	u.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(u.header, 1, 0, false).
		AddItem(u.stationList, 0, 1, true).
		AddItem(u.statusView, 2, 0, false).
		AddItem(u.helpView, 1, 0, false)

	u.app.SetInputCapture(u.handleKey)
	u.setStatus("Loading stations...")
}

// Run loads the catalog, starts the event loop and blocks until quit.
func (u *UI) Run() error {
	if err := u.loadStations(); err != nil {
		return fmt.Errorf("failed to load stations: %w", err)
	}

	u.events = u.player.Subscribe()
	go u.eventLoop()

	if u.cfg.Autostart && u.cfg.LastStation != "" {
		if st, ok := u.stationService.FindByID(u.cfg.LastStation); ok {
			u.playStation(st)
		}
	}

	return u.app.SetRoot(u.layout, true).EnableMouse(false).Run()
}

// Shutdown stops playback and the UI. Safe to call from any goroutine and
// more than once.
func (u *UI) Shutdown() {
	u.shutdownOnce.Do(func() {
		close(u.stopLoop)
		if u.events != nil {
			u.events.Cancel()
		}
		u.player.Shutdown()
		u.app.Stop()
	})
}

func (u *UI) loadStations() error {
	stations, err := u.stationService.Stations()
	if err != nil {
		return err
	}
	u.stations = stations
	u.renderStations()
	return nil
}

// refreshStations re-fetches the catalog off the UI goroutine and applies
// the result through the draw queue.
func (u *UI) refreshStations() {
	stations, err := u.stationService.Stations()
	if err != nil {
		log.Warn().Err(err).Msg("Station refresh failed")
		return
	}
	u.app.QueueUpdateDraw(func() {
		u.stations = stations
		u.renderStations()
	})
}

func (u *UI) renderStations() {
	u.stationList.Clear()

	headers := []string{"  Station", "Genre", "Listeners"}
	for col, h := range headers {
		cell := tview.NewTableCell(h).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1)
		u.stationList.SetCell(0, col, cell)
	}

	for i, st := range u.stations {
		marker := "  "
		if u.currentStation != nil && st.ID == u.currentStation.ID {
			marker = "▶ "
		}
		if u.cfg.IsFavorite(st.ID) {
			marker = "★ "
		}

		u.stationList.SetCell(i+1, 0, tview.NewTableCell(marker+st.Title).SetExpansion(2))
		u.stationList.SetCell(i+1, 1, tview.NewTableCell(st.Genre).SetExpansion(2))
		u.stationList.SetCell(i+1, 2, tview.NewTableCell(service.FormatListeners(st.Listeners)).SetExpansion(1))
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		u.Shutdown()
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			u.Shutdown()
			return nil
		case ' ':
			u.togglePause()
			return nil
		case 's', 'S':
			u.player.Stop()
			u.setStatus("Stopped")
			return nil
		case 'r', 'R':
			go u.refreshStations()
			return nil
		case 'f', 'F':
			u.toggleFavorite()
			return nil
		case 'w', 'W':
			u.toggleRecording()
			return nil
		case '-', '_':
			u.adjustVolume(-VolumeStep)
			return nil
		case '+', '=':
			u.adjustVolume(VolumeStep)
			return nil
		}
	}
	return event
}

func (u *UI) selectedStation() *station.Station {
	row, _ := u.stationList.GetSelection()
	idx := row - 1 // header row
	if idx < 0 || idx >= len(u.stations) {
		return nil
	}
	return &u.stations[idx]
}

func (u *UI) playRow(row int) {
	idx := row - 1
	if idx < 0 || idx >= len(u.stations) {
		return
	}
	u.playStation(&u.stations[idx])
}

func (u *UI) playStation(st *station.Station) {
	url := st.BestPlaylistURL()
	if url == "" {
		u.setStatus(fmt.Sprintf("[%s]%s has no stream endpoints", u.cfg.Theme.ErrorForeground, st.Title))
		return
	}

	u.currentStation = st
	u.cfg.LastStation = st.ID
	if err := u.cfg.Save(); err != nil {
		log.Debug().Err(err).Msg("Failed to save config")
	}

	u.player.Play(url)
	u.renderStations()

	// Seed the track display from the directory while ICY metadata is
	// still on its way.
	go func(id string) {
		track, err := u.stationService.CurrentTrack(id)
		if err == nil && track != "" {
			u.player.SetInitialTrack(track)
		}
	}(st.ID)
}

func (u *UI) togglePause() {
	switch u.player.PlaybackState() {
	case player.StatePlaying:
		u.player.Pause()
	case player.StatePaused:
		u.player.Resume()
	}
}

func (u *UI) toggleFavorite() {
	st := u.selectedStation()
	if st == nil {
		return
	}
	u.cfg.ToggleFavorite(st.ID)
	if err := u.cfg.Save(); err != nil {
		log.Debug().Err(err).Msg("Failed to save config")
	}
	u.renderStations()
}

func (u *UI) toggleRecording() {
	if u.player.IsRecording() {
		if err := u.player.StopRecording(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop recording")
		}
		u.setStatus("Recording stopped")
		return
	}

	path := fmt.Sprintf("wavefm-%s.wav", time.Now().Format("20060102-150405"))
	if err := u.player.StartRecording(path); err != nil {
		u.setStatus(fmt.Sprintf("Recording failed: %v", err))
		return
	}
	u.setStatus("Recording to " + path)
}

func (u *UI) adjustVolume(delta int) {
	volume := config.ClampVolume(u.player.Volume() + delta)
	u.player.SetVolume(volume)
	u.cfg.Volume = volume
	if err := u.cfg.Save(); err != nil {
		log.Debug().Err(err).Msg("Failed to save config")
	}
	u.refreshStatus()
}

// eventLoop mirrors the player's latest event into the status bar. Because
// the subscription keeps only the newest event, a busy UI never processes
// a backlog.
func (u *UI) eventLoop() {
	ticker := time.NewTicker(statusPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-u.stopLoop:
			return
		case <-u.events.C:
			u.app.QueueUpdateDraw(u.refreshStatus)
		case <-ticker.C:
			u.app.QueueUpdateDraw(u.refreshStatus)
		}
	}
}

func (u *UI) refreshStatus() {
	state := u.player.PlaybackState()

	name := ""
	if u.currentStation != nil {
		name = u.currentStation.Title
	}

	var line string
	switch state {
	case player.StateConnecting:
		attempt, max := u.player.RetryInfo()
		if attempt > 0 {
			line = fmt.Sprintf("Connecting to %s (retry %d/%d)...", name, attempt, max)
		} else {
			line = fmt.Sprintf("Connecting to %s...", name)
		}
	case player.StatePlaying:
		line = fmt.Sprintf("▶ %s", name)
		if track := u.player.CurrentTrack(); track != "" {
			line += "  —  " + track
		}
	case player.StatePaused:
		line = fmt.Sprintf("⏸ %s (paused)", name)
	case player.StateError:
		// Keep showing the last station; transient details belong in the
		// second status line.
		line = fmt.Sprintf("[%s]%s: %s", u.cfg.Theme.ErrorForeground, name, u.player.LastError())
	default:
		line = "Stopped"
	}

	volume := fmt.Sprintf("vol %d%%", u.player.Volume())
	if u.player.IsRecording() {
		volume += "  ● REC"
	}

	u.statusView.SetText(fmt.Sprintf(" %s\n %s  (%s)", line, volume, state))
}

func (u *UI) setStatus(text string) {
	u.statusView.SetText(" " + text)
}
