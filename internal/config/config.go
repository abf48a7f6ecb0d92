package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"
)

type Config struct {
	Hotkey       string         `json:"hotkey"`
	HotkeyDarwin string         `json:"hotkey_darwin"`
	Mode         string         `json:"mode"` // "PushToTalk" or "Toggle"
	LogLevel     string         `json:"log_level"`
	Audio        AudioConfig    `json:"audio"`
	Playback     PlaybackConfig `json:"playback"`
}

type AudioConfig struct {
	DeviceID        string `json:"device_id"`
	SampleRate      int    `json:"sample_rate"`
	FramesPerBuffer int    `json:"frames_per_buffer"`
	ChunkMS         int    `json:"chunk_ms"` // encoder timeslice
}

// ChunkInterval is the audio length of one encoded chunk.
func (a AudioConfig) ChunkInterval() time.Duration {
	return time.Duration(a.ChunkMS) * time.Millisecond
}

type PlaybackConfig struct {
	Autoplay        bool `json:"autoplay"`
	AutoplayDelayMS int  `json:"autoplay_delay_ms"`
	RetryDelayMS    int  `json:"retry_delay_ms"`
}

func (p PlaybackConfig) AutoplayDelay() time.Duration {
	return time.Duration(p.AutoplayDelayMS) * time.Millisecond
}

func (p PlaybackConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMS) * time.Millisecond
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Hotkey:       "Alt+Space",
		HotkeyDarwin: "Ctrl+Space",
		Mode:         ModePushToTalk,
		LogLevel:     "info",
		Audio: AudioConfig{
			DeviceID:        "",
			SampleRate:      16000,
			FramesPerBuffer: 512,
			ChunkMS:         250,
		},
		Playback: PlaybackConfig{
			Autoplay:        true,
			AutoplayDelayMS: 150,
			RetryDelayMS:    100,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	cfg := Default()

	// Load existing config if it exists
	if data, err := os.ReadFile(configPath()); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.fillZeroes()
	return cfg, nil
}

// fillZeroes restores defaults for numeric fields a hand-edited file zeroed.
func (c *Config) fillZeroes() {
	d := Default()
	if c.Mode != ModeToggle {
		c.Mode = ModePushToTalk
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = d.Audio.SampleRate
	}
	if c.Audio.FramesPerBuffer <= 0 {
		c.Audio.FramesPerBuffer = d.Audio.FramesPerBuffer
	}
	if c.Audio.ChunkMS <= 0 {
		c.Audio.ChunkMS = d.Audio.ChunkMS
	}
	if c.Playback.AutoplayDelayMS <= 0 {
		c.Playback.AutoplayDelayMS = d.Playback.AutoplayDelayMS
	}
	if c.Playback.RetryDelayMS <= 0 {
		c.Playback.RetryDelayMS = d.Playback.RetryDelayMS
	}
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// Path returns the config file location.
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "clipdeck", "config.json")
}
