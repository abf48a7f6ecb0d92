package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/clipdeck/internal/app"
	"github.com/petems/clipdeck/internal/config"
	"github.com/petems/clipdeck/internal/deck"
	"github.com/petems/clipdeck/internal/logging"
	"github.com/petems/clipdeck/internal/media"
	"github.com/rs/zerolog"
)

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mRecord   *systray.MenuItem
	mMode     *systray.MenuItem
	mDevices  *systray.MenuItem
	mAutoplay *systray.MenuItem
	mClips    *systray.MenuItem
	mEmpty    *systray.MenuItem

	mu       sync.Mutex
	ready    bool
	mode     string
	autoplay bool
	device   string
	pending  []deck.Card
	entries  map[media.ClipID]*clipEntry
}

// clipEntry is the Clips submenu entry for one card.
type clipEntry struct {
	card    deck.Card
	item    *systray.MenuItem
	play    *systray.MenuItem
	copy    *systray.MenuItem
	del     *systray.MenuItem
	playing bool
	quit    chan struct{}
}

func New(application *app.App, cfg *config.Config, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:      application,
		version:  version,
		commit:   commit,
		log:      log.With().Str("component", "tray").Logger(),
		mode:     cfg.Mode,
		autoplay: cfg.Playback.Autoplay,
		device:   cfg.Audio.DeviceID,
		entries:  make(map[media.ClipID]*clipEntry),
	}
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
	u.setRecordTitle(false)
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
	u.setRecordTitle(true)
}

func (u *UI) SetError(err error) {
	u.updateStatus("error")
	if err != nil {
		systray.SetTooltip(err.Error())
	}
}

// SetPlaying flips the play/pause glyph of a clip entry.
func (u *UI) SetPlaying(id media.ClipID, playing bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[id]
	if !ok {
		return
	}
	e.playing = playing
	e.item.SetTitle(clipTitle(e.card, playing))
	e.play.SetTitle(playTitle(playing))
}

func (u *UI) CardAdded(card deck.Card) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.ready {
		u.pending = append(u.pending, card)
		return
	}
	u.addEntryLocked(card)
}

// CardRemoved hides the entry; systray cannot remove menu items.
func (u *UI) CardRemoved(id media.ClipID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, c := range u.pending {
		if c.ID() == id {
			u.pending = append(u.pending[:i], u.pending[i+1:]...)
			return
		}
	}
	e, ok := u.entries[id]
	if !ok {
		return
	}
	delete(u.entries, id)
	close(e.quit)
	e.item.Hide()
	if len(u.entries) == 0 {
		u.mEmpty.Show()
	}
}

// Reveal surfaces the newest clip in the tooltip.
func (u *UI) Reveal(id media.ClipID) {
	u.mu.Lock()
	e, ok := u.entries[id]
	u.mu.Unlock()
	if ok {
		systray.SetTooltip("Latest: " + e.card.Clip.Label())
	}
}

func (u *UI) Run(ctx context.Context) error {
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	// Use emoji instead of icon - microphone with initial status
	u.updateStatus("idle")
	systray.SetTooltip("Voice clip recorder")

	u.mu.Lock()
	mode, autoplay := u.mode, u.autoplay
	u.mu.Unlock()

	// Build menu
	u.mRecord = systray.AddMenuItem(recordTitle(false), "Record a clip")
	systray.AddSeparator()

	u.mClips = systray.AddMenuItem("Clips", "Recorded clips")
	u.mEmpty = u.mClips.AddSubMenuItem("No recordings yet", "")
	u.mEmpty.Disable()
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(mode), "Toggle between modes")
	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()
	u.mAutoplay = systray.AddMenuItemCheckbox("Autoplay New Clips", "Play each clip once it is recorded", autoplay)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About ClipDeck")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	for _, card := range u.pending {
		u.addEntryLocked(card)
	}
	u.pending = nil
	u.mu.Unlock()

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mRecord.ClickedCh:
			u.app.ToggleRecording()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mAutoplay.ClickedCh:
			u.toggleAutoplay()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) addEntryLocked(card deck.Card) {
	u.mEmpty.Hide()

	e := &clipEntry{
		card: card,
		item: u.mClips.AddSubMenuItem(clipTitle(card, false), card.Clip.CreatedAt.Format("2006-01-02 15:04:05")),
		quit: make(chan struct{}),
	}
	e.play = e.item.AddSubMenuItem(playTitle(false), "Play or pause this clip")
	e.copy = e.item.AddSubMenuItem("Copy Details", "Copy clip details to the clipboard")
	e.del = e.item.AddSubMenuItem("Delete", "Delete this clip")
	if !card.Playable() {
		e.play.Disable()
	}
	u.entries[card.ID()] = e

	go u.handleClipEvents(e)
}

func (u *UI) handleClipEvents(e *clipEntry) {
	id := e.card.ID()
	for {
		select {
		case <-e.play.ClickedCh:
			u.app.TogglePlayback(id)
		case <-e.copy.ClickedCh:
			u.copyDetails(e.card)
		case <-e.del.ClickedCh:
			u.app.Delete(id)
		case <-e.quit:
			return
		}
	}
}

func (u *UI) copyDetails(card deck.Card) {
	if err := clipboard.WriteAll(clipDetails(card)); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy clip details")
		return
	}
	u.log.Debug().Str("clip", card.ID().String()).Msg("Copied clip details")
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	u.mu.Lock()
	selected := u.device
	u.mu.Unlock()

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == selected || (selected == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Cannot change audio device")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.mu.Lock()
				u.device = deviceID
				u.mu.Unlock()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) toggleMode() {
	u.mu.Lock()
	oldMode := u.mode
	u.mu.Unlock()

	newMode := config.ModeToggle
	if oldMode == config.ModeToggle {
		newMode = config.ModePushToTalk
	}
	if err := u.app.SetMode(newMode); err != nil {
		u.log.Error().Err(err).Msg("Failed to save mode")
	}

	u.mu.Lock()
	u.mode = newMode
	u.mu.Unlock()
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) toggleAutoplay() {
	u.mu.Lock()
	u.autoplay = !u.autoplay
	enabled := u.autoplay
	u.mu.Unlock()

	if enabled {
		u.mAutoplay.Check()
		u.log.Info().Msg("Enabled autoplay")
	} else {
		u.mAutoplay.Uncheck()
		u.log.Info().Msg("Disabled autoplay")
	}
	if err := u.app.SetAutoplay(enabled); err != nil {
		u.log.Error().Err(err).Msg("Failed to save autoplay setting")
	}
}

func (u *UI) openLogs() {
	path := logging.Path()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

func (u *UI) showAbout() {
	// TODO: Show about dialog with native UI
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("ClipDeck - record and replay voice clips")
}

func (u *UI) onExit() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, e := range u.entries {
		close(e.quit)
		delete(u.entries, id)
	}
}

func (u *UI) setRecordTitle(recording bool) {
	u.mu.Lock()
	ready := u.ready
	u.mu.Unlock()
	if ready {
		u.mRecord.SetTitle(recordTitle(recording))
	}
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	emoji := emojiForStatus(status)
	systray.SetTitle(fmt.Sprintf("🎤 %s", emoji))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

func recordTitle(recording bool) string {
	if recording {
		return "Stop Recording"
	}
	return "Start Recording"
}

func modeTitle(mode string) string {
	if mode == config.ModeToggle {
		return "Mode: Toggle"
	}
	return "Mode: Push-to-Talk"
}

// playGlyph is the affordance shown next to a clip.
func playGlyph(playing bool) string {
	if playing {
		return "⏸"
	}
	return "▶"
}

func playTitle(playing bool) string {
	if playing {
		return "Pause"
	}
	return "Play"
}

func clipTitle(card deck.Card, playing bool) string {
	return playGlyph(playing) + " " + card.Clip.Label()
}

func clipDetails(card deck.Card) string {
	c := card.Clip
	return fmt.Sprintf("%s\nID: %s\nFormat: %s\nSize: %d bytes\nRecorded: %s",
		c.Label(), c.ID, c.Artifact.MediaType, len(c.Artifact.Data), c.CreatedAt.Format("2006-01-02 15:04:05"))
}
