// Package tone synthesizes a quantized sine tone addressed by absolute
// sample index.
//
// Every sample is a pure function of its index, so a waveform generated in
// pieces is bit-identical to the same range generated in one call. A [Clock]
// hands out contiguous index ranges to whichever buffer is refilled next.
package tone

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ardnew/isostream/pkg"
)

// MaxAmplitude is the full-scale value of a signed 16-bit sample.
const MaxAmplitude = math.MaxInt16

// Default tone parameters: concert A at 5% volume, 48 kHz.
const (
	DefaultSampleRate = 48000.0
	DefaultFrequency  = 440.0
	DefaultAmplitude  = 0.05
)

// Generator produces samples of A·sin(2π·f·i/Fs).
type Generator struct {
	SampleRate float64 // Fs in Hz
	Frequency  float64 // f in Hz
	Amplitude  float64 // A, 0 < A <= 1
}

// Default returns the generator used when nothing else is configured.
func Default() Generator {
	return Generator{
		SampleRate: DefaultSampleRate,
		Frequency:  DefaultFrequency,
		Amplitude:  DefaultAmplitude,
	}
}

// Validate reports whether the generator parameters are usable.
func (g Generator) Validate() error {
	if !(g.SampleRate > 0) {
		return fmt.Errorf("%w: sample rate %v", pkg.ErrInvalidParameter, g.SampleRate)
	}
	if !(g.Frequency >= 0) {
		return fmt.Errorf("%w: frequency %v", pkg.ErrInvalidParameter, g.Frequency)
	}
	if !(g.Amplitude > 0 && g.Amplitude <= 1) {
		return fmt.Errorf("%w: amplitude %v not in (0, 1]", pkg.ErrInvalidParameter, g.Amplitude)
	}
	return nil
}

// Sample returns the quantized sample at absolute index i.
func (g Generator) Sample(i uint64) int16 {
	phase := 2 * math.Pi * g.Frequency * float64(i) / g.SampleRate
	return int16(math.Round(g.Amplitude * math.Sin(phase) * MaxAmplitude))
}

// Fill writes len(dst) consecutive samples starting at absolute index start.
func (g Generator) Fill(dst []int, start uint64) {
	for k := range dst {
		dst[k] = int(g.Sample(start + uint64(k)))
	}
}

// Clock is the absolute sample counter shared by all buffers of a stream.
// It only moves forward.
type Clock struct {
	next atomic.Uint64
}

// Advance reserves the next n indices and returns the first one.
func (c *Clock) Advance(n int) uint64 {
	return c.next.Add(uint64(n)) - uint64(n)
}

// Now returns the index the next reservation will start at.
func (c *Clock) Now() uint64 {
	return c.next.Load()
}
