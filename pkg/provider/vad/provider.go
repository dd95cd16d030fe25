// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (WebRTC VAD, an energy
// detector, or a custom model) and surfaces it as a stateful, per-stream
// session. Each session maintains its own internal state so that multiple
// capture sessions can be processed independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a speech
// probability. Turning probabilities into speech-start and speech-end events
// is the job of the caller (see internal/vadstream).
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by ProcessFrame when the frame length does not
// match the configured frame duration.
var ErrFrameSize = errors.New("vad: unexpected frame size")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most
	// VAD models operate on fixed frame sizes (10, 20, or 30 ms).
	FrameSizeMs int

	// Aggressiveness tunes how eagerly non-speech is filtered. Range: [0, 3].
	// Engines without a notion of aggressiveness ignore it.
	Aggressiveness int
}

// FrameSamples returns the number of mono samples in one frame.
func (c Config) FrameSamples() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// Validate reports whether c describes a usable session.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("vad: frame size must be positive, got %d ms", c.FrameSizeMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad: aggressiveness must be in [0, 3], got %d", c.Aggressiveness)
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream. It
// is an interface so that test code can supply mock implementations without a
// live engine.
type SessionHandle interface {
	// ProcessFrame classifies a single mono frame of normalised samples and
	// returns the speech probability in [0, 1]. Returns [ErrFrameSize] if the
	// frame does not hold exactly Config.FrameSamples samples.
	//
	// This method is called synchronously in the capture loop; it must not
	// block.
	ProcessFrame(frame []float32) (float64, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported
	// sample rate or frame size) or if the engine cannot allocate resources.
	NewSession(cfg Config) (SessionHandle, error)
}
