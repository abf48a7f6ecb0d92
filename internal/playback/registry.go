// Package playback keeps at most one clip playing at a time.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petems/clipdeck/internal/media"
	"github.com/rs/zerolog"
)

// DefaultRetryDelay is the pause between a failed start and the single retry.
const DefaultRetryDelay = 100 * time.Millisecond

// Resolver finds the player of a clip. It must not call into the Registry.
type Resolver func(id media.ClipID) (media.Player, bool)

type Config struct {
	Lookup     Resolver
	Logger     zerolog.Logger
	RetryDelay time.Duration

	// OnStateChanged is called with the registry locked whenever a clip's
	// play/pause affordance flips. It must not call back into the Registry.
	OnStateChanged func(id media.ClipID, playing bool)
}

// Registry tracks the clip currently playing by ID only; players are looked
// up on demand so a deleted clip is simply not found.
type Registry struct {
	lookup     Resolver
	log        zerolog.Logger
	retryDelay time.Duration
	onChange   func(media.ClipID, bool)

	mu       sync.Mutex
	current  media.ClipID
	starting bool
	cancel   context.CancelFunc
	gen      uint64
	playing  map[media.ClipID]bool
}

func New(cfg Config) *Registry {
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Registry{
		lookup:     cfg.Lookup,
		log:        cfg.Logger,
		retryDelay: delay,
		onChange:   cfg.OnStateChanged,
		playing:    make(map[media.ClipID]bool),
	}
}

// Play silences whatever is playing, rewinds id and starts it.
func (r *Registry) Play(id media.ClipID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playLocked(id, 0)
}

// Autoplay makes id the current clip and tries to start it after delay.
func (r *Registry) Autoplay(id media.ClipID, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playLocked(id, delay)
}

// Toggle stops id if it is the clip playing, otherwise plays it.
func (r *Registry) Toggle(id media.ClipID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == id {
		p, ok := r.lookup(id)
		if ok && (r.starting || !p.Paused()) {
			r.silenceLocked()
			return
		}
	}
	r.playLocked(id, 0)
}

// OnEnded is wired to each player's end-of-clip notification.
func (r *Registry) OnEnded(id media.ClipID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setPlayingLocked(id, false)
	if r.current == id && !r.starting {
		r.current = media.NoClip
		r.gen++
	}
}

// Stop silences id if it is the current clip.
func (r *Registry) Stop(id media.ClipID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == id {
		r.silenceLocked()
	}
}

// StopCurrent silences whatever is playing.
func (r *Registry) StopCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silenceLocked()
}

// Current returns the clip playing or about to play, if any.
func (r *Registry) Current() (media.ClipID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != media.NoClip
}

// IsPlaying reports the affordance state of id.
func (r *Registry) IsPlaying(id media.ClipID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing[id]
}

func (r *Registry) playLocked(id media.ClipID, delay time.Duration) {
	r.silenceLocked()

	p, ok := r.lookup(id)
	if !ok {
		r.log.Debug().Str("clip", id.String()).Msg("Play requested for unknown clip")
		return
	}
	p.Rewind()

	ctx, cancel := context.WithCancel(context.Background())
	r.gen++
	r.current = id
	r.starting = true
	r.cancel = cancel

	go r.start(ctx, cancel, id, p, r.gen, delay)
}

func (r *Registry) start(ctx context.Context, cancel context.CancelFunc, id media.ClipID, p media.Player, gen uint64, delay time.Duration) {
	defer cancel()

	err := ctx.Err()
	if delay > 0 {
		err = wait(ctx, delay)
	}
	if err == nil {
		err = p.Play(ctx)
	}
	if err != nil && ctx.Err() == nil {
		r.log.Debug().Err(err).Str("clip", id.String()).Msg("Playback failed, reloading")
		if rerr := p.Reload(); rerr != nil {
			r.log.Warn().Err(rerr).Str("clip", id.String()).Msg("Reload failed")
		}
		if err = wait(ctx, r.retryDelay); err == nil {
			err = p.Play(ctx)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != gen {
		// superseded while starting
		if err == nil && r.current != id {
			p.Pause()
			p.Rewind()
		}
		return
	}

	r.starting = false
	r.cancel = nil

	if err != nil {
		r.current = media.NoClip
		r.setPlayingLocked(id, false)
		event := r.log.Error()
		if errors.Is(err, media.ErrPlaybackRejected) {
			event = r.log.Warn()
		}
		event.Err(err).Str("clip", id.String()).Msg("Playback not started")
		return
	}

	r.setPlayingLocked(id, true)
}

// silenceLocked pauses and rewinds the current clip and forgets it.
func (r *Registry) silenceLocked() {
	if r.current == media.NoClip {
		return
	}
	id := r.current

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.starting = false
	r.current = media.NoClip
	r.gen++

	if p, ok := r.lookup(id); ok {
		p.Pause()
		p.Rewind()
	}
	r.setPlayingLocked(id, false)
}

func (r *Registry) setPlayingLocked(id media.ClipID, playing bool) {
	if r.playing[id] == playing {
		return
	}
	if playing {
		r.playing[id] = true
	} else {
		delete(r.playing, id)
	}
	if r.onChange != nil {
		r.onChange(id, playing)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
