package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied means the microphone could not be acquired.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnsupportedFormat means no preferred encoding is available.
	ErrUnsupportedFormat = errors.New("no supported recording format")
	// ErrPlaybackRejected means the output refused to start a clip.
	ErrPlaybackRejected = errors.New("playback rejected")
	// ErrEncoderUnavailable means recording was requested before Initialize.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
)

// Recording formats in order of preference.
const (
	FormatWAV  = "audio/wav"
	FormatPCMU = "audio/PCMU"
	FormatL16  = "audio/L16"
)

// Preferred is the format negotiation order.
var Preferred = []string{FormatWAV, FormatPCMU, FormatL16}

// ClipID identifies a clip across the deck and the playback registry.
type ClipID = uuid.UUID

// NoClip is the zero ClipID.
var NoClip = uuid.Nil

// Artifact is an encoded recording. Data must not be modified.
type Artifact struct {
	Data      []byte
	MediaType string
}

// Empty reports whether the artifact carries no bytes.
func (a Artifact) Empty() bool {
	return len(a.Data) == 0
}

// BaseType returns the media type without parameters, e.g. "audio/L16".
func BaseType(mediaType string) string {
	base, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		base, _, _ = strings.Cut(mediaType, ";")
		return strings.ToLower(strings.TrimSpace(base))
	}
	return base
}

// Clip is one finished recording.
type Clip struct {
	ID        ClipID
	Artifact  Artifact
	Duration  time.Duration
	CreatedAt time.Time
}

// Label renders the card caption, e.g. "Audio Clip • 15:04 • 3.2s".
func (c Clip) Label() string {
	return fmt.Sprintf("Audio Clip • %s • %.1fs", c.CreatedAt.Format("15:04"), c.Duration.Seconds())
}

// Constraints are the processing options requested with the microphone.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints enables all input processing.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Device is an audio input device.
type Device struct {
	ID      string
	Name    string
	Default bool
}

// Stream is an acquired microphone input.
type Stream interface {
	Close() error
}

// Encoder turns a Stream into encoded chunks. onChunk may be called any
// number of times after Start; onStop is called exactly once per successful
// Start, after the last chunk of that take. Neither is called from inside
// Start.
type Encoder interface {
	MediaType() string
	Start(onChunk func(chunk []byte), onStop func()) error
	Stop() error
}

// Player plays one artifact.
type Player interface {
	// Play starts output from the current position and returns once the
	// output is running or has been refused. ctx bounds the start only.
	Play(ctx context.Context) error
	Pause()
	Rewind()
	Paused() bool
	// Reload discards decoded state and re-reads the artifact.
	Reload() error
	Close() error
}

// Platform is the host audio stack.
type Platform interface {
	OpenInput(ctx context.Context, c Constraints) (Stream, error)
	Supports(mediaType string) bool
	NewEncoder(s Stream, mediaType string) (Encoder, error)
	NewPlayer(a Artifact, onEnded func()) (Player, error)
}

// Negotiate picks the first preferred format the platform supports.
func Negotiate(p Platform) (string, error) {
	for _, f := range Preferred {
		if p.Supports(f) {
			return f, nil
		}
	}
	return "", ErrUnsupportedFormat
}
