// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1}, 64)
//	src := &mock.Source{Stream: stream}
//	s, _ := src.Open(ctx, want)
//	stream.Send(frame)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream] backed by a buffered
// channel. Tests push frames with [Stream.Send] and end the stream with
// [Stream.End] (device loss) or [Stream.Close] (release).
type Stream struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.Frame
	closed bool

	// CloseError is returned by every Close call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream creates a Stream delivering frames of the given format with a
// channel buffer of size buf.
func NewStream(format audio.Format, buf int) *Stream {
	return &Stream{format: format, frames: make(chan audio.Frame, buf)}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Send delivers f to the consumer. It reports false if the stream has already
// ended. Send blocks while the channel buffer is full.
func (s *Stream) Send(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- f
	return true
}

// End closes the frame channel without recording a Close call, simulating a
// device that stopped on its own.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shut()
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.shut()
	return s.CloseError
}

// Closes returns how many times Close was called.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// IsClosed reports whether the frame channel has been closed.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) shut() {
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

var _ audio.Stream = (*Stream)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// OpenCall records a single invocation of [Source.Open].
type OpenCall struct {
	Want audio.Format
}

// Source is a mock implementation of [audio.Source] and [audio.DeviceLister].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. When NewStreamFunc is set it takes
	// precedence, which allows tests to hand out a fresh stream per Open.
	Stream audio.Stream

	// NewStreamFunc, if set, builds the stream returned by Open.
	NewStreamFunc func(want audio.Format) audio.Stream

	// OpenError is returned by Open when non-nil.
	OpenError error

	// DevicesResult and DevicesError are returned by Devices.
	DevicesResult []audio.Device
	DevicesError  error

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, want audio.Format) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Want: want})
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	if s.NewStreamFunc != nil {
		return s.NewStreamFunc(want), nil
	}
	return s.Stream, nil
}

// SetOpenError replaces OpenError. Thread-safe.
func (s *Source) SetOpenError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenError = err
}

// Opens returns how many times Open was called. Thread-safe.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// Devices implements [audio.DeviceLister].
func (s *Source) Devices() ([]audio.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DevicesResult, s.DevicesError
}

var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = (*Source)(nil)
)
