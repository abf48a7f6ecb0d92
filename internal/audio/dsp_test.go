package audio

import (
	"testing"

	"github.com/petems/clipdeck/internal/media"
	"github.com/stretchr/testify/assert"
)

func TestNoiseGateSilencesHiss(t *testing.T) {
	p := newProcessor(media.Constraints{NoiseSuppression: true})
	buf := sine(512, 16000, 3000, 0.001)

	p.Process(buf)

	for _, s := range buf {
		assert.Zero(t, s)
	}
}

func TestNoiseGatePassesSpeech(t *testing.T) {
	p := newProcessor(media.Constraints{NoiseSuppression: true})
	buf := sine(512, 16000, 300, 0.3)
	want := append([]float32(nil), buf...)

	p.Process(buf)

	assert.Equal(t, want, buf)
}

func TestAutoGainRaisesQuietInput(t *testing.T) {
	p := newProcessor(media.Constraints{AutoGainControl: true})

	var last []float32
	for i := 0; i < 200; i++ {
		last = sine(512, 16000, 300, 0.05)
		p.Process(last)
	}

	peak := float32(0)
	for _, s := range last {
		if s > peak {
			peak = s
		}
	}
	assert.Greater(t, peak, float32(0.3))
	assert.LessOrEqual(t, peak, float32(agcTargetPeak+0.01))
}

func TestAutoGainNeverClips(t *testing.T) {
	p := newProcessor(media.Constraints{AutoGainControl: true})

	for i := 0; i < 50; i++ {
		p.Process(sine(512, 16000, 300, 0.01))
	}
	loud := sine(512, 16000, 300, 0.9)
	p.Process(loud)

	for _, s := range loud {
		assert.LessOrEqual(t, s, float32(1))
		assert.GreaterOrEqual(t, s, float32(-1))
	}
}
