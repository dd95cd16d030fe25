// Package mock provides scripted [vad.Engine] and [vad.SessionHandle]
// implementations for tests.
//
//	sess := &mock.Session{Probabilities: []float64{0.1, 0.9, 0.9, 0.2}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// Engine hands out Session, or a fresh [Loudness] session when Session is
// nil, and records every config it was asked for.
type Engine struct {
	// Session is returned by every NewSession call when set.
	Session vad.SessionHandle

	// NewSessionErr makes NewSession fail.
	NewSessionErr error

	mu    sync.Mutex
	calls []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	default:
		return Loudness(0.01), nil
	}
}

// Calls returns the configs passed to NewSession, oldest first.
func (e *Engine) Calls() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]vad.Config, len(e.calls))
	copy(out, e.calls)
	return out
}

// Session replays scripted speech probabilities.
type Session struct {
	// Probabilities are returned by successive ProcessFrame calls; the last
	// one repeats once they run out. Ignored when ProbabilityFunc is set.
	Probabilities []float64

	// ProbabilityFunc computes the probability of each frame.
	ProbabilityFunc func(frame []float32) float64

	// ProcessFrameErr makes every ProcessFrame call fail.
	ProcessFrameErr error

	// CloseErr is returned by Close.
	CloseErr error

	mu     sync.Mutex
	frames [][]float32
	resets int
	closes int
}

var _ vad.SessionHandle = (*Session)(nil)

// Loudness returns a Session that reports 1 for frames whose RMS exceeds
// level and 0 otherwise.
func Loudness(level float64) *Session {
	return &Session{
		ProbabilityFunc: func(frame []float32) float64 {
			if audio.RMS(frame) > level {
				return 1
			}
			return 0
		},
	}
}

// ProcessFrame implements [vad.SessionHandle]. The frame is copied.
func (s *Session) ProcessFrame(frame []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]float32(nil), frame...))
	if s.ProcessFrameErr != nil {
		return 0, s.ProcessFrameErr
	}
	if s.ProbabilityFunc != nil {
		return s.ProbabilityFunc(frame), nil
	}
	if len(s.Probabilities) == 0 {
		return 0, nil
	}
	return s.Probabilities[min(len(s.frames), len(s.Probabilities))-1], nil
}

// SetProbabilityFunc replaces ProbabilityFunc while the session is in use.
func (s *Session) SetProbabilityFunc(fn func(frame []float32) float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProbabilityFunc = fn
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// Frames returns copies of every frame passed to ProcessFrame.
func (s *Session) Frames() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.frames))
	copy(out, s.frames)
	return out
}

// FrameCount reports how many frames were processed.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Resets reports how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
