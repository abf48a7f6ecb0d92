package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

// source is the part of *portaudio.Stream the capture path drives.
type source interface {
	Start() error
	Stop() error
	Read() error
	Close() error
}

var _ source = (*portaudio.Stream)(nil)

type inputStream struct {
	stream   source
	buffer   []float32
	channels int
	frames   int
	rate     int
	proc     *processor

	// active counts encoder takes still reading from the stream.
	active sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// read blocks for one buffer and returns it as processed mono samples.
func (s *inputStream) read() ([]float32, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	mono := downmixInterleaved(s.buffer, s.channels, s.frames)
	s.proc.Process(mono)
	return mono, nil
}

// Close waits for in-flight takes to flush before closing the stream.
func (s *inputStream) Close() error {
	s.active.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}
