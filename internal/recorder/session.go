package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/clipdeck/internal/media"
	"github.com/rs/zerolog"
)

type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "uninitialized"
	}
}

type Config struct {
	Platform media.Platform
	Logger   zerolog.Logger

	// OnClipReady receives every finished take. Required.
	OnClipReady func(media.Clip)
	// OnRecordingChanged is optional.
	OnRecordingChanged func(recording bool)
}

type Option func(*Session)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// take is the chunk buffer of one StartRecording/StopRecording pair. Its
// callbacks run on encoder goroutines and never take the session lock.
type take struct {
	started   time.Time
	mediaType string
	once      sync.Once

	mu        sync.Mutex
	chunks    [][]byte
	finalized bool
}

var errSessionClosed = errors.New("session closed")

// Session owns the microphone stream and its encoder.
type Session struct {
	platform media.Platform
	log      zerolog.Logger
	now      func() time.Time
	onClip   func(media.Clip)
	onState  func(bool)

	// initMu serializes Initialize so mu is free while a permission prompt is up.
	initMu sync.Mutex

	mu        sync.Mutex
	state     State
	fatal     error
	stream    media.Stream
	encoder   media.Encoder
	mediaType string
	current   *take
}

func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		platform: cfg.Platform,
		log:      cfg.Logger,
		now:      time.Now,
		onClip:   cfg.OnClipReady,
		onState:  cfg.OnRecordingChanged,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize acquires the microphone and negotiates a format. It is a no-op
// once it has succeeded. Permission failures can be retried; an unsupported
// format is final.
func (s *Session) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	state, fatal := s.state, s.fatal
	s.mu.Unlock()
	if state != StateUninitialized {
		return nil
	}
	if fatal != nil {
		return fatal
	}

	stream, err := s.platform.OpenInput(ctx, media.DefaultConstraints())
	if err != nil {
		if !errors.Is(err, media.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", media.ErrPermissionDenied, err)
		}
		return err
	}

	mediaType, err := media.Negotiate(s.platform)
	if err != nil {
		stream.Close()
		return s.setFatal(err)
	}

	enc, err := s.platform.NewEncoder(stream, mediaType)
	if err != nil {
		stream.Close()
		return s.setFatal(fmt.Errorf("%w: %s: %v", media.ErrUnsupportedFormat, mediaType, err))
	}

	s.mu.Lock()
	if s.fatal != nil {
		// closed while the microphone was being opened
		err := s.fatal
		s.mu.Unlock()
		stream.Close()
		return err
	}
	s.stream = stream
	s.encoder = enc
	s.mediaType = enc.MediaType()
	s.state = StateIdle
	s.mu.Unlock()

	s.log.Info().Str("media_type", enc.MediaType()).Msg("Microphone ready")
	return nil
}

func (s *Session) setFatal(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
	return s.fatal
}

func (s *Session) StartRecording() {
	s.mu.Lock()

	switch s.state {
	case StateUninitialized:
		s.mu.Unlock()
		s.log.Debug().Err(media.ErrEncoderUnavailable).Msg("Ignoring start")
		return
	case StateRecording:
		s.mu.Unlock()
		return
	}

	t := &take{started: s.now(), mediaType: s.mediaType}
	s.current = t
	s.state = StateRecording

	// Start may wait for the previous take to flush; that flush only needs t.mu.
	err := s.encoder.Start(
		func(chunk []byte) { s.appendChunk(t, chunk) },
		func() { s.finish(t) },
	)
	if err != nil {
		s.current = nil
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("Failed to start encoder")
		return
	}
	s.mu.Unlock()

	s.log.Info().Msg("Recording started")
	s.notifyState(true)
}

// StopRecording returns to idle immediately; the clip is delivered once the
// encoder has flushed.
func (s *Session) StopRecording() {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	t := s.current
	s.current = nil
	s.state = StateIdle
	enc := s.encoder
	s.mu.Unlock()

	s.notifyState(false)

	if err := enc.Stop(); err != nil {
		s.log.Error().Err(err).Msg("Encoder stop failed, finalizing take")
		s.finish(t)
	}
}

func (s *Session) appendChunk(t *take, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	t.chunks = append(t.chunks, chunk)
}

func (s *Session) finish(t *take) {
	t.once.Do(func() {
		now := s.now()

		t.mu.Lock()
		artifact := media.Artifact{
			Data:      bytes.Join(t.chunks, nil),
			MediaType: t.mediaType,
		}
		t.chunks = nil
		t.finalized = true
		t.mu.Unlock()

		if len(artifact.Data) == 0 {
			artifact.MediaType = media.FormatWAV
		}

		clip := media.Clip{
			ID:        uuid.New(),
			Artifact:  artifact,
			Duration:  now.Sub(t.started),
			CreatedAt: now,
		}

		s.log.Info().
			Str("clip", clip.ID.String()).
			Dur("duration", clip.Duration).
			Int("bytes", len(artifact.Data)).
			Msg("Clip ready")

		if s.onClip != nil {
			s.onClip(clip)
		}
	})
}

func (s *Session) notifyState(recording bool) {
	if s.onState != nil {
		s.onState(recording)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialized reports whether the microphone has been acquired.
func (s *Session) Initialized() bool {
	return s.State() != StateUninitialized
}

func (s *Session) IsRecording() bool {
	return s.State() == StateRecording
}

// MediaType is the negotiated format, empty before Initialize.
func (s *Session) MediaType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaType
}

// Close stops any take in progress and releases the microphone. The stream
// is closed outside the lock since it waits for the take to flush.
func (s *Session) Close() error {
	s.StopRecording()

	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.encoder = nil
	s.state = StateUninitialized
	s.fatal = errSessionClosed
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Close()
}
