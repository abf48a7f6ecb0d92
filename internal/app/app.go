package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petems/clipdeck/internal/config"
	"github.com/petems/clipdeck/internal/deck"
	"github.com/petems/clipdeck/internal/media"
	"github.com/petems/clipdeck/internal/playback"
	"github.com/petems/clipdeck/internal/recorder"
	"github.com/rs/zerolog"
)

type Mode int

const (
	PushToTalk Mode = iota
	Toggle
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	deck.View

	SetIdle()
	SetRecording()
	SetError(err error)
	SetPlaying(id media.ClipID, playing bool)
}

// Platform is the host audio stack plus device enumeration for the tray.
type Platform interface {
	media.Platform
	ListDevices() ([]media.Device, error)
}

type Config struct {
	Platform      Platform
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
	// Save persists Config; defaults to Config.Save.
	Save func() error
}

// App is the session controller: it owns the capture session, the playback
// registry and the deck, and routes UI signals to them.
type App struct {
	platform Platform
	log      zerolog.Logger
	save     func() error

	session  *recorder.Session
	registry *playback.Registry
	deck     *deck.Deck

	mu     sync.Mutex
	cfg    *config.Config
	status StatusUpdater
}

func New(cfg Config) *App {
	a := &App{
		platform: cfg.Platform,
		log:      cfg.Logger,
		cfg:      cfg.Config,
		status:   cfg.StatusUpdater,
		save:     cfg.Save,
	}
	if a.save == nil {
		a.save = a.cfg.Save
	}

	a.deck = deck.New(deck.Config{
		Players:       cfg.Platform,
		View:          viewFunc(a.view),
		Logger:        cfg.Logger.With().Str("component", "deck").Logger(),
		Autoplay:      cfg.Config.Playback.Autoplay,
		AutoplayDelay: cfg.Config.Playback.AutoplayDelay(),
	})
	a.registry = playback.New(playback.Config{
		Lookup:         a.deck.Lookup,
		Logger:         cfg.Logger.With().Str("component", "playback").Logger(),
		RetryDelay:     cfg.Config.Playback.RetryDelay(),
		OnStateChanged: a.onPlaybackChanged,
	})
	a.deck.SetRegistry(a.registry)

	a.session = recorder.New(recorder.Config{
		Platform:           cfg.Platform,
		Logger:             cfg.Logger.With().Str("component", "recorder").Logger(),
		OnClipReady:        a.deck.OnClipReady,
		OnRecordingChanged: a.onRecordingChanged,
	})

	return a
}

// SetStatusUpdater sets the UI (for circular dependency resolution)
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *App) view() deck.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == nil {
		return nil
	}
	return a.status
}

func (a *App) statusUpdater() StatusUpdater {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *App) mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Mode == config.ModeToggle {
		return Toggle
	}
	return PushToTalk
}

// OnHotkey receives press and release of the record hotkey.
func (a *App) OnHotkey(pressed bool) {
	switch a.mode() {
	case PushToTalk:
		if pressed {
			a.beginCapture()
		} else {
			a.endCapture()
		}
	case Toggle:
		if pressed {
			a.ToggleRecording()
		}
	}
}

// ToggleRecording starts a take if idle and ends it otherwise.
func (a *App) ToggleRecording() {
	if a.session.IsRecording() {
		a.endCapture()
	} else {
		a.beginCapture()
	}
}

func (a *App) beginCapture() {
	if err := a.session.Initialize(context.Background()); err != nil {
		a.log.Error().Err(err).Msg("Microphone unavailable")
		if s := a.statusUpdater(); s != nil {
			s.SetError(err)
		}
		return
	}
	a.session.StartRecording()
}

func (a *App) endCapture() {
	a.session.StopRecording()
}

func (a *App) onRecordingChanged(recording bool) {
	if recording {
		// a new take preempts playback
		a.registry.StopCurrent()
	}

	s := a.statusUpdater()
	if s == nil {
		return
	}
	if recording {
		s.SetRecording()
	} else {
		s.SetIdle()
	}
}

func (a *App) onPlaybackChanged(id media.ClipID, playing bool) {
	if s := a.statusUpdater(); s != nil {
		s.SetPlaying(id, playing)
	}
}

func (a *App) TogglePlayback(id media.ClipID) {
	a.deck.Toggle(id)
}

func (a *App) Delete(id media.ClipID) {
	a.deck.Delete(id)
}

func (a *App) Cards() []deck.Card {
	return a.deck.Cards()
}

func (a *App) IsRecording() bool {
	return a.session.IsRecording()
}

func (a *App) IsPlaying(id media.ClipID) bool {
	return a.registry.IsPlaying(id)
}

func (a *App) Shutdown(ctx context.Context) error {
	a.session.StopRecording()
	a.deck.Close()
	return a.session.Close()
}

// Tray actions

func (a *App) SetMode(mode string) error {
	if mode != config.ModePushToTalk && mode != config.ModeToggle {
		return fmt.Errorf("unknown mode %q", mode)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Mode = mode
	return a.save()
}

// ErrDeviceLocked is returned when the microphone was already acquired.
var ErrDeviceLocked = errors.New("microphone already in use, restart to switch devices")

// SetDevice selects the input device used when the microphone is first opened.
func (a *App) SetDevice(id string) error {
	if a.session.Initialized() {
		return ErrDeviceLocked
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Audio.DeviceID = id
	return a.save()
}

func (a *App) SetAutoplay(enabled bool) error {
	a.deck.SetAutoplay(enabled)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Playback.Autoplay = enabled
	return a.save()
}

func (a *App) ListDevices() ([]media.Device, error) {
	return a.platform.ListDevices()
}

// viewFunc resolves the deck's view lazily since the tray is built after the app.
type viewFunc func() deck.View

func (f viewFunc) CardAdded(card deck.Card) {
	if v := f(); v != nil {
		v.CardAdded(card)
	}
}

func (f viewFunc) CardRemoved(id media.ClipID) {
	if v := f(); v != nil {
		v.CardRemoved(id)
	}
}

func (f viewFunc) Reveal(id media.ClipID) {
	if v := f(); v != nil {
		v.Reveal(id)
	}
}
