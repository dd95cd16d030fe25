// Package audiotest builds synthetic sample buffers for pipeline tests.
package audiotest

import (
	"math"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Part is one span of a synthetic buffer.
type Part struct {
	Duration time.Duration
	Loud     bool
}

// Speech returns a loud part of length d.
func Speech(d time.Duration) Part { return Part{Duration: d, Loud: true} }

// Silence returns a silent part of length d.
func Silence(d time.Duration) Part { return Part{Duration: d} }

// Ms is shorthand for d milliseconds.
func Ms(d int) time.Duration { return time.Duration(d) * time.Millisecond }

// Build concatenates parts at rate. Loud parts carry a 0.5 amplitude 440 Hz
// tone; silent parts are digital zero.
func Build(rate int, parts ...Part) audio.Buffer {
	var samples []float32
	for _, p := range parts {
		n := audio.SamplesFor(p.Duration, rate)
		for i := range n {
			if p.Loud {
				samples = append(samples, Tone(i, rate))
			} else {
				samples = append(samples, 0)
			}
		}
	}
	return audio.Buffer{Samples: samples, SampleRate: rate}
}

// Tone returns sample i of a 0.5 amplitude 440 Hz sine at rate.
func Tone(i, rate int) float32 {
	return float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
}

// Frames splits buf into frames of d, the last one possibly short.
func Frames(buf audio.Buffer, d time.Duration) []audio.Frame {
	n := audio.SamplesFor(d, buf.SampleRate)
	var out []audio.Frame
	for off := 0; off < buf.Len(); off += n {
		end := min(off+n, buf.Len())
		s := make([]float32, end-off)
		copy(s, buf.Samples[off:end])
		out = append(out, audio.Frame{
			Samples:    s,
			SampleRate: buf.SampleRate,
			Channels:   1,
			Timestamp:  audio.DurationOf(off, buf.SampleRate),
		})
	}
	return out
}
