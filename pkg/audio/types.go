package audio

import "time"

// Frame is a single block of audio delivered by a capture [Stream].
// Frames are the atomic unit of transport between the microphone, the VAD
// detector, and the pre-roll buffer.
type Frame struct {
	// Samples holds normalised amplitudes in [-1, 1]. Multi-channel audio is
	// interleaved.
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for the capture pipeline, 48000 for many
	// USB microphones).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Buffer is an ordered run of mono samples at a fixed sample rate. Pipeline
// stages treat a Buffer as immutable: every stage returns a new Buffer rather
// than modifying the one it was given.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of samples in b.
func (b Buffer) Len() int { return len(b.Samples) }

// Empty reports whether b holds no samples.
func (b Buffer) Empty() bool { return len(b.Samples) == 0 }

// Duration returns the playback length of b.
func (b Buffer) Duration() time.Duration {
	return DurationOf(len(b.Samples), b.SampleRate)
}

// Slice returns a copy of samples [start, end). Out-of-range bounds are
// clamped, so Slice never panics.
func (b Buffer) Slice(start, end int) Buffer {
	start = max(0, min(start, len(b.Samples)))
	end = max(start, min(end, len(b.Samples)))
	out := make([]float32, end-start)
	copy(out, b.Samples[start:end])
	return Buffer{Samples: out, SampleRate: b.SampleRate}
}

// SliceDuration returns a copy of the span [from, to) of b.
func (b Buffer) SliceDuration(from, to time.Duration) Buffer {
	return b.Slice(SamplesFor(from, b.SampleRate), SamplesFor(to, b.SampleRate))
}

// Concat joins parts into a single freshly allocated Buffer at rate.
func Concat(rate int, parts ...[]float32) Buffer {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]float32, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return Buffer{Samples: out, SampleRate: rate}
}

// SamplesFor converts d to a sample count at rate, rounding to the nearest
// sample. Returns 0 for non-positive rates or durations.
func SamplesFor(d time.Duration, rate int) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int((int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second))
}

// DurationOf converts a sample count at rate to a duration.
func DurationOf(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
