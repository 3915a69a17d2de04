// Package dsp generates baseband I/Q samples for the transmit loop and
// measures their spectrum.
package dsp

import (
	"fmt"
	"math"
)

// FullScale is the largest magnitude a 16-bit sample can hold.
const FullScale = math.MaxInt16

// Tone produces a complex exponential at a fixed offset from the carrier.
// I is the cosine and Q the sine, so positive frequencies sit above the LO.
type Tone struct {
	step  float64
	amp   float64
	phase float64
}

// NewTone returns a tone of freqHz at sampleRate. amplitude is a fraction of
// full scale in (0, 1].
func NewTone(freqHz, sampleRate, amplitude float64) (*Tone, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	if math.Abs(freqHz) > sampleRate/2 {
		return nil, fmt.Errorf("tone %g Hz exceeds Nyquist for %g SPS", freqHz, sampleRate)
	}
	if amplitude <= 0 || amplitude > 1 {
		return nil, fmt.Errorf("amplitude %g outside (0, 1]", amplitude)
	}
	return &Tone{
		step: 2 * math.Pi * freqHz / sampleRate,
		amp:  amplitude * FullScale,
	}, nil
}

// Next returns the next I/Q pair.
func (t *Tone) Next() (int16, int16) {
	s, c := math.Sincos(t.phase)
	t.phase = math.Mod(t.phase+t.step, 2*math.Pi)
	return int16(math.Round(c * t.amp)), int16(math.Round(s * t.amp))
}

// Silence produces zero pairs.
type Silence struct{}

func (Silence) Next() (int16, int16) { return 0, 0 }
