package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

type encoder struct {
	in          *inputStream
	codec       Codec
	mediaType   string
	chunkFrames int
	log         zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newEncoder(in *inputStream, codec Codec, chunkFrames int, log zerolog.Logger) *encoder {
	if chunkFrames < in.frames {
		chunkFrames = in.frames
	}
	return &encoder{
		in:          in,
		codec:       codec,
		mediaType:   codec.MediaType(in.rate),
		chunkFrames: chunkFrames,
		log:         log,
	}
}

func (e *encoder) MediaType() string {
	return e.mediaType
}

// Start begins a take once the previous one has flushed.
func (e *encoder) Start(onChunk func([]byte), onStop func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stop != nil {
		return errors.New("encoder already running")
	}
	if e.done != nil {
		<-e.done
	}

	if err := e.in.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	e.stop, e.done = stop, done

	e.in.active.Add(1)
	go e.run(stop, done, onChunk, onStop)
	return nil
}

// Stop signals the take to flush; onStop follows asynchronously.
func (e *encoder) Stop() error {
	e.mu.Lock()
	stop := e.stop
	e.stop = nil
	e.mu.Unlock()

	if stop == nil {
		return errors.New("encoder not running")
	}
	close(stop)
	return nil
}

func (e *encoder) run(stop, done chan struct{}, onChunk func([]byte), onStop func()) {
	// onStop runs after done so the next take can start while this one is delivered
	defer onStop()
	defer e.in.active.Done()
	defer close(done)

	if h := e.codec.Header(e.in.rate); h != nil {
		onChunk(h)
	}

	pending := make([]float32, 0, e.chunkFrames)
	flush := func() {
		if len(pending) > 0 {
			onChunk(e.codec.Encode(pending))
			pending = pending[:0]
		}
	}

	for {
		select {
		case <-stop:
			flush()
			if err := e.in.stream.Stop(); err != nil {
				e.log.Warn().Err(err).Msg("Failed to stop audio stream")
			}
			return
		default:
		}

		samples, err := e.in.read()
		if err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				e.log.Debug().Msg("Input overflow, samples dropped")
				continue
			}
			e.log.Error().Err(err).Msg("Audio read failed")
			<-stop
			flush()
			e.in.stream.Stop()
			return
		}

		pending = append(pending, samples...)
		if len(pending) >= e.chunkFrames {
			flush()
		}
	}
}
