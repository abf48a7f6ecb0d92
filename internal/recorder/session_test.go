package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petems/clipdeck/internal/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeStream struct {
	closed bool
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeEncoder finalizes synchronously unless deferStop is set, in which case
// the test calls flush.
type fakeEncoder struct {
	mu        sync.Mutex
	mediaType string
	deferStop bool
	stopErr   error
	starts    int
	onChunk   func([]byte)
	onStop    func()
}

func (e *fakeEncoder) MediaType() string { return e.mediaType }

func (e *fakeEncoder) Start(onChunk func([]byte), onStop func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	e.onChunk = onChunk
	e.onStop = onStop
	return nil
}

func (e *fakeEncoder) Stop() error {
	if e.stopErr != nil {
		return e.stopErr
	}
	if !e.deferStop {
		e.flush()
	}
	return nil
}

func (e *fakeEncoder) emit(chunk []byte) {
	e.mu.Lock()
	fn := e.onChunk
	e.mu.Unlock()
	fn(chunk)
}

func (e *fakeEncoder) flush() {
	e.mu.Lock()
	fn := e.onStop
	e.mu.Unlock()
	fn()
}

// asyncStream cannot close until every take reading from it has finished.
type asyncStream struct {
	active sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func (s *asyncStream) Close() error {
	s.active.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *asyncStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// asyncEncoder runs each take on its own goroutine like the PortAudio
// encoder: Start waits for the previous take to flush, and the final chunk is
// emitted after the stop signal, before the take is marked done.
type asyncEncoder struct {
	stream *asyncStream

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (e *asyncEncoder) MediaType() string { return media.FormatWAV }

func (e *asyncEncoder) Start(onChunk func([]byte), onStop func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return errors.New("encoder already running")
	}
	if e.done != nil {
		<-e.done
	}

	stop, done := make(chan struct{}), make(chan struct{})
	e.stop, e.done = stop, done
	e.stream.active.Add(1)

	go func() {
		defer onStop()
		defer e.stream.active.Done()
		defer close(done)

		onChunk([]byte("head-"))
		<-stop
		onChunk([]byte("tail"))
	}()
	return nil
}

func (e *asyncEncoder) Stop() error {
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

type fakePlatform struct {
	openErr   error
	supported map[string]bool
	stream    *fakeStream
	encoder   *fakeEncoder
	async     *asyncEncoder
	opens     int
	requested media.Constraints

	// entered and gate hold OpenInput open, as a permission prompt does.
	entered chan struct{}
	gate    chan struct{}
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		supported: map[string]bool{media.FormatWAV: true},
		stream:    &fakeStream{},
		encoder:   &fakeEncoder{},
	}
}

func (p *fakePlatform) OpenInput(ctx context.Context, c media.Constraints) (media.Stream, error) {
	p.opens++
	p.requested = c
	if p.gate != nil {
		close(p.entered)
		<-p.gate
	}
	if p.openErr != nil {
		return nil, p.openErr
	}
	if p.async != nil {
		return p.async.stream, nil
	}
	return p.stream, nil
}

func (p *fakePlatform) Supports(mediaType string) bool { return p.supported[mediaType] }

func (p *fakePlatform) NewEncoder(s media.Stream, mediaType string) (media.Encoder, error) {
	if p.async != nil {
		return p.async, nil
	}
	p.encoder.mediaType = mediaType
	return p.encoder, nil
}

func (p *fakePlatform) NewPlayer(a media.Artifact, onEnded func()) (media.Player, error) {
	return nil, errors.New("not used")
}

type recorded struct {
	mu     sync.Mutex
	clips  []media.Clip
	states []bool
}

func (r *recorded) clip(c media.Clip) {
	r.mu.Lock()
	r.clips = append(r.clips, c)
	r.mu.Unlock()
}

func (r *recorded) state(recording bool) {
	r.mu.Lock()
	r.states = append(r.states, recording)
	r.mu.Unlock()
}

func (r *recorded) all() []media.Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Clip(nil), r.clips...)
}

func newTestSession(p *fakePlatform, clock *fakeClock) (*Session, *recorded) {
	rec := &recorded{}
	s := New(Config{
		Platform:           p,
		Logger:             zerolog.Nop(),
		OnClipReady:        rec.clip,
		OnRecordingChanged: rec.state,
	}, WithClock(clock.Now))
	return s, rec
}

func TestInitializeRequestsProcessedInput(t *testing.T) {
	p := newFakePlatform()
	s, _ := newTestSession(p, &fakeClock{t: time.Now()})

	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Initialize(context.Background()))

	assert.Equal(t, 1, p.opens, "stream must be acquired once")
	assert.Equal(t, media.DefaultConstraints(), p.requested)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, media.FormatWAV, s.MediaType())
}

func TestInitializePermissionDeniedCanRetry(t *testing.T) {
	p := newFakePlatform()
	p.openErr = errors.New("user said no")
	s, _ := newTestSession(p, &fakeClock{t: time.Now()})

	err := s.Initialize(context.Background())
	require.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.Equal(t, StateUninitialized, s.State())

	p.openErr = nil
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 2, p.opens)
}

func TestInitializeUnsupportedFormatIsFinal(t *testing.T) {
	p := newFakePlatform()
	p.supported = map[string]bool{"audio/ogg": true}
	s, _ := newTestSession(p, &fakeClock{t: time.Now()})

	require.ErrorIs(t, s.Initialize(context.Background()), media.ErrUnsupportedFormat)
	assert.True(t, p.stream.closed)

	p.supported[media.FormatWAV] = true
	require.ErrorIs(t, s.Initialize(context.Background()), media.ErrUnsupportedFormat)
	assert.Equal(t, 1, p.opens)
	assert.Equal(t, StateUninitialized, s.State())
}

func TestStartBeforeInitializeIsIgnored(t *testing.T) {
	p := newFakePlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})

	s.StartRecording()
	s.StopRecording()

	assert.Equal(t, StateUninitialized, s.State())
	assert.Empty(t, rec.states)
	assert.Empty(t, rec.clips)
	assert.Equal(t, 0, p.encoder.starts)
}

func TestRecordingProducesClip(t *testing.T) {
	p := newFakePlatform()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s, rec := newTestSession(p, clock)
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	require.True(t, s.IsRecording())

	p.encoder.emit([]byte("RIFF"))
	p.encoder.emit(nil)
	clock.Advance(1600 * time.Millisecond)
	p.encoder.emit([]byte("abcd"))
	clock.Advance(1600 * time.Millisecond)
	p.encoder.emit([]byte("efgh"))

	s.StopRecording()

	require.Len(t, rec.clips, 1)
	clip := rec.clips[0]
	assert.InDelta(t, 3.2, clip.Duration.Seconds(), 0.1)
	assert.Equal(t, []byte("RIFFabcdefgh"), clip.Artifact.Data)
	assert.Equal(t, media.FormatWAV, clip.Artifact.MediaType)
	assert.NotEqual(t, media.NoClip, clip.ID)
	assert.Equal(t, []bool{true, false}, rec.states)
	assert.Equal(t, StateIdle, s.State())
}

func TestStartWhileRecordingKeepsBuffer(t *testing.T) {
	p := newFakePlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	p.encoder.emit([]byte("one"))
	s.StartRecording()
	p.encoder.emit([]byte("two"))
	s.StopRecording()

	assert.Equal(t, 1, p.encoder.starts)
	require.Len(t, rec.clips, 1)
	assert.Equal(t, []byte("onetwo"), rec.clips[0].Artifact.Data)
	assert.Equal(t, []bool{true, false}, rec.states)
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	p := newFakePlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StopRecording()

	assert.Empty(t, rec.clips)
	assert.Empty(t, rec.states)
}

func TestEmptyTakeStillProducesClip(t *testing.T) {
	p := newFakePlatform()
	p.supported = map[string]bool{media.FormatL16: true}
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	s.StopRecording()

	assert.Equal(t, media.FormatL16, s.MediaType())
	require.Len(t, rec.clips, 1)
	assert.True(t, rec.clips[0].Artifact.Empty())
	assert.Equal(t, media.FormatWAV, rec.clips[0].Artifact.MediaType)
}

func TestStateFlipsBeforeFinalization(t *testing.T) {
	p := newFakePlatform()
	p.encoder.deferStop = true
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	p.encoder.emit([]byte("first"))
	s.StopRecording()

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, rec.clips)

	// trailing chunk of the finalizing take
	p.encoder.emit([]byte("-tail"))
	p.encoder.flush()
	p.encoder.flush()

	require.Len(t, rec.clips, 1)
	assert.Equal(t, []byte("first-tail"), rec.clips[0].Artifact.Data)
}

func TestLateChunksStayWithTheirTake(t *testing.T) {
	p := newFakePlatform()
	p.encoder.deferStop = true
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	p.encoder.emit([]byte("a"))
	s.StopRecording()
	firstChunk, firstStop := p.encoder.onChunk, p.encoder.onStop

	s.StartRecording()
	p.encoder.emit([]byte("b"))
	firstChunk([]byte("a2"))
	firstStop()
	s.StopRecording()
	p.encoder.flush()

	require.Len(t, rec.clips, 2)
	assert.Equal(t, []byte("aa2"), rec.clips[0].Artifact.Data)
	assert.Equal(t, []byte("b"), rec.clips[1].Artifact.Data)
}

func TestEncoderStopFailureStillFinalizes(t *testing.T) {
	p := newFakePlatform()
	p.encoder.stopErr = errors.New("device vanished")
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	p.encoder.emit([]byte("x"))
	s.StopRecording()

	require.Len(t, rec.clips, 1)
	assert.Equal(t, StateIdle, s.State())
}

func TestEveryPairYieldsOneClip(t *testing.T) {
	p := newFakePlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	// press/release noise: repeats and stray releases
	ops := []bool{true, true, false, false, true, false, false, true, true, true, false}
	pairs := 0
	recording := false
	for _, start := range ops {
		if start {
			if !recording {
				pairs++
			}
			recording = true
			s.StartRecording()
		} else {
			recording = false
			s.StopRecording()
		}
		assert.Equal(t, recording, s.IsRecording())
	}

	assert.Len(t, rec.clips, pairs)
}

func TestCloseReleasesStream(t *testing.T) {
	p := newFakePlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	require.NoError(t, s.Close())

	assert.True(t, p.stream.closed)
	assert.Len(t, rec.clips, 1)
	assert.Error(t, s.Initialize(context.Background()))
}

func newAsyncPlatform() *fakePlatform {
	p := newFakePlatform()
	p.async = &asyncEncoder{stream: &asyncStream{}}
	return p
}

// returnsWithin fails the test if fn blocks for longer than d.
func returnsWithin(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked for more than %s", what, d)
	}
}

func TestRestartRightAfterStop(t *testing.T) {
	p := newAsyncPlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	s.StopRecording()
	returnsWithin(t, 2*time.Second, "StartRecording after StopRecording", s.StartRecording)

	assert.True(t, s.IsRecording())
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []byte("head-tail"), rec.all()[0].Artifact.Data)

	s.StopRecording()
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []byte("head-tail"), rec.all()[1].Artifact.Data)
}

func TestRapidTogglesNeverStall(t *testing.T) {
	p := newAsyncPlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	returnsWithin(t, 2*time.Second, "rapid start/stop", func() {
		for i := 0; i < 50; i++ {
			s.StartRecording()
			s.StopRecording()
		}
	})

	require.Eventually(t, func() bool { return len(rec.all()) == 50 }, time.Second, 2*time.Millisecond)
}

func TestCloseDuringTakeFlushesAndReleases(t *testing.T) {
	p := newAsyncPlatform()
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})
	require.NoError(t, s.Initialize(context.Background()))

	s.StartRecording()
	returnsWithin(t, 2*time.Second, "Close during a take", func() {
		assert.NoError(t, s.Close())
	})

	assert.True(t, p.async.stream.isClosed())
	assert.False(t, s.IsRecording())
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []byte("head-tail"), rec.all()[0].Artifact.Data)
}

func TestStateQueriesDoNotWaitForMicrophonePrompt(t *testing.T) {
	p := newFakePlatform()
	p.entered = make(chan struct{})
	p.gate = make(chan struct{})
	s, rec := newTestSession(p, &fakeClock{t: time.Now()})

	errc := make(chan error, 1)
	go func() { errc <- s.Initialize(context.Background()) }()
	<-p.entered

	returnsWithin(t, time.Second, "state queries during the prompt", func() {
		assert.False(t, s.Initialized())
		assert.False(t, s.IsRecording())
		s.StartRecording()
	})
	assert.Empty(t, rec.states)

	close(p.gate)
	require.NoError(t, <-errc)
	assert.True(t, s.Initialized())
}

func TestCloseWhileMicrophonePromptIsOpen(t *testing.T) {
	p := newFakePlatform()
	p.entered = make(chan struct{})
	p.gate = make(chan struct{})
	s, _ := newTestSession(p, &fakeClock{t: time.Now()})

	errc := make(chan error, 1)
	go func() { errc <- s.Initialize(context.Background()) }()
	<-p.entered

	require.NoError(t, s.Close())
	close(p.gate)

	assert.ErrorIs(t, <-errc, errSessionClosed)
	assert.True(t, p.stream.closed)
	assert.False(t, s.Initialized())
}
