package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/petems/clipdeck/internal/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource fills the shared buffer with a constant on every Read.
type fakeSource struct {
	buf   []float32
	value float32

	mu      sync.Mutex
	running bool
	closed  bool
}

func (f *fakeSource) Start() error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Read() error {
	time.Sleep(time.Millisecond)
	for i := range f.buf {
		f.buf[i] = f.value
	}
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) state() (running, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.closed
}

func newFakeInput(frames int) (*inputStream, *fakeSource) {
	src := &fakeSource{buf: make([]float32, frames), value: 0.25}
	return &inputStream{
		stream:   src,
		buffer:   src.buf,
		channels: 1,
		frames:   frames,
		rate:     8000,
		proc:     newProcessor(media.Constraints{}),
	}, src
}

type takeLog struct {
	mu      sync.Mutex
	chunks  [][]byte
	stopped int
}

func (l *takeLog) chunk(b []byte) {
	l.mu.Lock()
	l.chunks = append(l.chunks, b)
	l.mu.Unlock()
}

func (l *takeLog) stop() {
	l.mu.Lock()
	l.stopped++
	l.mu.Unlock()
}

func (l *takeLog) snapshot() ([][]byte, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.chunks...), l.stopped
}

func TestEncoderEmitsHeaderThenChunks(t *testing.T) {
	in, src := newFakeInput(4)
	codec, ok := codecFor(media.FormatWAV)
	require.True(t, ok)
	enc := newEncoder(in, codec, 8, zerolog.Nop())
	log := &takeLog{}

	require.NoError(t, enc.Start(log.chunk, log.stop))
	require.Eventually(t, func() bool {
		chunks, _ := log.snapshot()
		return len(chunks) >= 3
	}, time.Second, time.Millisecond)
	require.NoError(t, enc.Stop())

	require.Eventually(t, func() bool {
		_, stopped := log.snapshot()
		return stopped == 1
	}, time.Second, time.Millisecond)

	chunks, _ := log.snapshot()
	assert.Len(t, chunks[0], 44)
	assert.Equal(t, "RIFF", string(chunks[0][:4]))
	// 8 frames of PCM16 per chunk
	assert.Len(t, chunks[1], 16)
	running, _ := src.state()
	assert.False(t, running)
}

func TestEncoderStopWithoutStartFails(t *testing.T) {
	in, _ := newFakeInput(4)
	enc := newEncoder(in, wavCodec{}, 8, zerolog.Nop())

	assert.Error(t, enc.Stop())
}

func TestEncoderRestartsRightAfterStop(t *testing.T) {
	in, _ := newFakeInput(4)
	enc := newEncoder(in, wavCodec{}, 8, zerolog.Nop())
	first, second := &takeLog{}, &takeLog{}

	require.NoError(t, enc.Start(first.chunk, first.stop))
	require.NoError(t, enc.Stop())
	require.NoError(t, enc.Start(second.chunk, second.stop))
	assert.Error(t, enc.Start(second.chunk, second.stop), "a running take cannot be restarted")
	require.NoError(t, enc.Stop())

	require.Eventually(t, func() bool {
		_, a := first.snapshot()
		_, b := second.snapshot()
		return a == 1 && b == 1
	}, time.Second, time.Millisecond)

	chunks, _ := second.snapshot()
	require.NotEmpty(t, chunks)
	assert.Equal(t, "RIFF", string(chunks[0][:4]))
}

func TestInputCloseWaitsForTake(t *testing.T) {
	in, src := newFakeInput(4)
	enc := newEncoder(in, wavCodec{}, 8, zerolog.Nop())
	log := &takeLog{}

	require.NoError(t, enc.Start(log.chunk, log.stop))
	require.NoError(t, enc.Stop())
	require.NoError(t, in.Close())

	// the take stopped the source before Close went through
	running, closed := src.state()
	assert.False(t, running)
	assert.True(t, closed)
	assert.NoError(t, in.Close())
}
