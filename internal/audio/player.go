package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/clipdeck/internal/media"
	"github.com/rs/zerolog"
)

const playbackFrames = 512

type player struct {
	artifact media.Artifact
	codec    Codec
	onEnded  func()
	log      zerolog.Logger

	mu      sync.Mutex
	samples []float32
	rate    int
	pos     int
	stream  *portaudio.Stream
	buf     []float32
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

func newPlayer(a media.Artifact, codec Codec, onEnded func(), log zerolog.Logger) (*player, error) {
	p := &player{
		artifact: a,
		codec:    codec,
		onEnded:  onEnded,
		log:      log,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *player) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: player closed", media.ErrPlaybackRejected)
	}
	if p.stop != nil {
		p.mu.Unlock()
		return nil
	}
	done := p.done
	p.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		return nil
	}
	if p.stream == nil {
		p.buf = make([]float32, playbackFrames)
		stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.rate), len(p.buf), p.buf)
		if err != nil {
			return fmt.Errorf("%w: %v", media.ErrPlaybackRejected, err)
		}
		p.stream = stream
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("%w: %v", media.ErrPlaybackRejected, err)
	}

	stop := make(chan struct{})
	done = make(chan struct{})
	p.stop, p.done = stop, done

	go p.run(p.stream, stop, done)
	return nil
}

func (p *player) run(stream *portaudio.Stream, stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			stream.Stop()
			return
		default:
		}

		p.mu.Lock()
		if p.pos >= len(p.samples) {
			ended := p.stop == stop
			if ended {
				p.stop = nil
			}
			p.mu.Unlock()
			stream.Stop()
			if ended && p.onEnded != nil {
				p.onEnded()
			}
			return
		}
		n := copy(p.buf, p.samples[p.pos:])
		clear(p.buf[n:])
		p.pos += n
		p.mu.Unlock()

		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			p.log.Warn().Err(err).Msg("Playback write failed")
		}
	}
}

func (p *player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *player) Rewind() {
	p.mu.Lock()
	p.pos = 0
	p.mu.Unlock()
}

func (p *player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop == nil
}

// Reload decodes the artifact again and drops the output stream so the next
// Play reopens the current default device.
func (p *player) Reload() error {
	samples, rate, err := p.codec.Decode(p.artifact)
	if err != nil {
		return fmt.Errorf("failed to decode clip: %w", err)
	}

	p.Pause()
	p.wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = samples
	p.rate = rate
	p.pos = 0
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	return nil
}

func (p *player) Close() error {
	p.Pause()
	p.wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.samples = nil
	if p.stream != nil {
		err := p.stream.Close()
		p.stream = nil
		return err
	}
	return nil
}

func (p *player) wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}
