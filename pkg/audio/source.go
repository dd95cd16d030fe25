// Package audio defines the sample types, conversions, and capture interfaces
// shared by every voxgate pipeline stage.
//
// The two primary abstractions are:
//
//   - [Source] — opens an input device (microphone, file replay, …) and
//     returns a [Stream].
//   - [Stream] — an open capture handle delivering [Frame] values until it is
//     closed.
//
// Implementations live in adapter packages (audio/portaudio, audio/wavfile).
// This package lives under pkg/ because third-party capture backends are
// expected to implement [Source] and [Stream].
package audio

import "context"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Stream is an open capture handle. It is the microphone resource that a
// capture session owns exclusively between Start and Stop.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the read-only channel on which captured frames are
	// delivered. The channel is closed when the stream ends, either because
	// Close was called or because the underlying device stopped.
	Frames() <-chan Frame

	// Format reports the format of the frames delivered on Frames.
	Format() Format

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Source is the entry point for an audio input backend.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the input device and starts capture. The requested format
	// is a hint; callers must check [Stream.Format] and convert if needed.
	//
	// Returns an error if the device is missing, busy, or access is denied.
	// The supplied ctx governs the open attempt and, for implementations that
	// pump frames in the background, the lifetime of that pump.
	Open(ctx context.Context, want Format) (Stream, error)
}

// Device describes an input device reported by a [DeviceLister].
type Device struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// DeviceLister is implemented by sources that can enumerate input devices.
type DeviceLister interface {
	Devices() ([]Device, error)
}

// Drain discards values from ch until it is closed. Run it after closing a
// [Stream] so a producer blocked on a send can see the close and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
