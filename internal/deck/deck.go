// Package deck keeps the ordered list of recorded clips and their players.
package deck

import (
	"sync"
	"time"

	"github.com/petems/clipdeck/internal/media"
	"github.com/petems/clipdeck/internal/playback"
	"github.com/rs/zerolog"
)

// DefaultAutoplayDelay lets a fresh artifact settle before it is played.
const DefaultAutoplayDelay = 150 * time.Millisecond

// View renders the deck. Calls arrive from recorder and UI goroutines.
type View interface {
	CardAdded(card Card)
	CardRemoved(id media.ClipID)
	// Reveal scrolls the card into view.
	Reveal(id media.ClipID)
}

// PlayerFactory builds the player for a new clip.
type PlayerFactory interface {
	NewPlayer(a media.Artifact, onEnded func()) (media.Player, error)
}

// Card is a clip bound to its player.
type Card struct {
	Clip   media.Clip
	player media.Player
}

func (c Card) ID() media.ClipID {
	return c.Clip.ID
}

// Playable reports whether a player could be built for the clip.
func (c Card) Playable() bool {
	return c.player != nil
}

type Config struct {
	Players       PlayerFactory
	Registry      *playback.Registry
	View          View
	Logger        zerolog.Logger
	Autoplay      bool
	AutoplayDelay time.Duration
}

type Deck struct {
	players  PlayerFactory
	registry *playback.Registry
	view     View
	log      zerolog.Logger

	mu            sync.Mutex
	cards         []*Card
	autoplay      bool
	autoplayDelay time.Duration
}

// New creates an empty deck. The registry may be attached later with
// SetRegistry since it resolves players through Lookup.
func New(cfg Config) *Deck {
	delay := cfg.AutoplayDelay
	if delay <= 0 {
		delay = DefaultAutoplayDelay
	}
	return &Deck{
		players:       cfg.Players,
		registry:      cfg.Registry,
		view:          cfg.View,
		log:           cfg.Logger,
		autoplay:      cfg.Autoplay,
		autoplayDelay: delay,
	}
}

func (d *Deck) SetRegistry(r *playback.Registry) {
	d.registry = r
}

func (d *Deck) SetView(v View) {
	d.mu.Lock()
	d.view = v
	d.mu.Unlock()
}

func (d *Deck) SetAutoplay(enabled bool) {
	d.mu.Lock()
	d.autoplay = enabled
	d.mu.Unlock()
}

// OnClipReady preempts playback, appends a card for clip and autoplays it.
func (d *Deck) OnClipReady(clip media.Clip) {
	d.registry.StopCurrent()

	id := clip.ID
	player, err := d.players.NewPlayer(clip.Artifact, func() { d.registry.OnEnded(id) })
	if err != nil {
		d.log.Error().Err(err).Str("clip", id.String()).Msg("Clip is not playable")
	}

	card := &Card{Clip: clip, player: player}

	d.mu.Lock()
	d.cards = append(d.cards, card)
	autoplay, delay, view := d.autoplay, d.autoplayDelay, d.view
	d.mu.Unlock()

	if view != nil {
		view.CardAdded(*card)
		view.Reveal(id)
	}

	if autoplay && player != nil {
		d.registry.Autoplay(id, delay)
	}
}

// Delete stops the clip if it is playing and removes its card.
func (d *Deck) Delete(id media.ClipID) {
	d.registry.Stop(id)

	d.mu.Lock()
	var removed *Card
	for i, c := range d.cards {
		if c.Clip.ID == id {
			removed = c
			d.cards = append(d.cards[:i], d.cards[i+1:]...)
			break
		}
	}
	view := d.view
	d.mu.Unlock()

	if removed == nil {
		return
	}
	if removed.player != nil {
		if err := removed.player.Close(); err != nil {
			d.log.Warn().Err(err).Str("clip", id.String()).Msg("Failed to release player")
		}
	}
	if view != nil {
		view.CardRemoved(id)
	}
	d.log.Info().Str("clip", id.String()).Msg("Clip deleted")
}

func (d *Deck) Toggle(id media.ClipID) {
	d.registry.Toggle(id)
}

// Lookup resolves a clip's player for the registry.
func (d *Deck) Lookup(id media.ClipID) (media.Player, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.cards {
		if c.Clip.ID == id {
			return c.player, c.player != nil
		}
	}
	return nil, false
}

// Cards returns the cards oldest first.
func (d *Deck) Cards() []Card {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Card, len(d.cards))
	for i, c := range d.cards {
		out[i] = *c
	}
	return out
}

func (d *Deck) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cards)
}

// Close releases every player.
func (d *Deck) Close() {
	d.registry.StopCurrent()

	d.mu.Lock()
	cards := d.cards
	d.cards = nil
	d.mu.Unlock()

	for _, c := range cards {
		if c.player != nil {
			c.player.Close()
		}
	}
}
