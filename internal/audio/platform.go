package audio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/clipdeck/internal/config"
	"github.com/petems/clipdeck/internal/media"
	"github.com/petems/clipdeck/internal/permissions"
	"github.com/rs/zerolog"
)

// Platform is the PortAudio implementation of media.Platform.
type Platform struct {
	cfg *config.AudioConfig
	log zerolog.Logger
}

// New initializes PortAudio. Close must be called on shutdown. cfg is read
// when the microphone is opened, so device changes made before that apply.
func New(cfg *config.AudioConfig, log zerolog.Logger) (*Platform, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Platform{cfg: cfg, log: log}, nil
}

// OpenInput opens the configured microphone. The stream is started and
// stopped by its encoder.
func (p *Platform) OpenInput(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if err := permissions.Microphone(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrPermissionDenied, err)
	}

	device, err := p.inputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrPermissionDenied, err)
	}

	if c.EchoCancellation {
		p.log.Debug().Msg("Echo cancellation not available on this host, ignoring")
	}

	channels := min(device.MaxInputChannels, 2)
	frames := p.cfg.FramesPerBuffer
	buffer := make([]float32, frames*channels)

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.cfg.SampleRate),
		FramesPerBuffer: frames,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open audio stream: %v", media.ErrPermissionDenied, err)
	}

	p.log.Info().
		Str("device", device.Name).
		Int("channels", channels).
		Int("sample_rate", p.cfg.SampleRate).
		Msg("Opened microphone")

	return &inputStream{
		stream:   stream,
		buffer:   buffer,
		channels: channels,
		frames:   frames,
		rate:     p.cfg.SampleRate,
		proc:     newProcessor(c),
	}, nil
}

func (p *Platform) inputDevice() (*portaudio.DeviceInfo, error) {
	var device *portaudio.DeviceInfo
	if p.cfg.DeviceID == "" {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
	} else {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate devices: %w", err)
		}
		for _, d := range devices {
			if d.Name == p.cfg.DeviceID && d.MaxInputChannels > 0 {
				device = d
				break
			}
		}
	}

	if device == nil || device.MaxInputChannels < 1 {
		return nil, fmt.Errorf("input device not found: %q", p.cfg.DeviceID)
	}
	return device, nil
}

// Supports reports whether a codec exists for mediaType.
func (p *Platform) Supports(mediaType string) bool {
	_, ok := codecFor(mediaType)
	return ok
}

func (p *Platform) NewEncoder(s media.Stream, mediaType string) (media.Encoder, error) {
	in, ok := s.(*inputStream)
	if !ok {
		return nil, fmt.Errorf("stream %T was not opened by this platform", s)
	}
	codec, ok := codecFor(mediaType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrUnsupportedFormat, mediaType)
	}
	chunkFrames := int(p.cfg.ChunkInterval().Seconds() * float64(in.rate))
	return newEncoder(in, codec, chunkFrames, p.log), nil
}

func (p *Platform) NewPlayer(a media.Artifact, onEnded func()) (media.Player, error) {
	codec, ok := codecFor(a.MediaType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrUnsupportedFormat, a.MediaType)
	}
	return newPlayer(a, codec, onEnded, p.log)
}

func (p *Platform) ListDevices() ([]media.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]media.Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, media.Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *Platform) Close() error {
	return portaudio.Terminate()
}
