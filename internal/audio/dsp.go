package audio

import (
	"math"

	"github.com/petems/clipdeck/internal/media"
)

const (
	agcTargetPeak = 0.5
	agcMaxGain    = 8.0
	agcRelease    = 0.05
	gateThreshold = 0.004 // RMS
)

// processor is the software side of media.Constraints: a noise gate and a
// peak-tracking gain stage. Echo cancellation has no host support.
type processor struct {
	gate bool
	agc  bool
	gain float64
}

func newProcessor(c media.Constraints) *processor {
	return &processor{
		gate: c.NoiseSuppression,
		agc:  c.AutoGainControl,
		gain: 1,
	}
}

// Process modifies buf in place.
func (p *processor) Process(buf []float32) {
	if len(buf) == 0 {
		return
	}

	if p.gate && rms(buf) < gateThreshold {
		for i := range buf {
			buf[i] = 0
		}
		return
	}

	if !p.agc {
		return
	}

	peak := 0.0
	for _, s := range buf {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if peak > 0 {
		want := math.Min(agcTargetPeak/peak, agcMaxGain)
		if want < p.gain {
			p.gain = want
		} else {
			p.gain += (want - p.gain) * agcRelease
		}
	}

	for i, s := range buf {
		v := float64(s) * p.gain
		buf[i] = float32(math.Max(-1, math.Min(1, v)))
	}
}

func rms(buf []float32) float64 {
	var sum float64
	for _, s := range buf {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(buf)))
}
