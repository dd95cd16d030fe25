// Package energy implements a pure-Go vad.Engine that scores frames by their
// RMS level. It needs no cgo and no model files, which makes it the fallback
// engine on platforms where WebRTC VAD is unavailable.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// Default RMS levels suitable for 16-bit microphones at normal gain.
const (
	DefaultFloor   = 0.005
	DefaultCeiling = 0.03
)

// Option configures an [Engine].
type Option func(*Engine)

// WithLevels sets the RMS level mapped to probability 0 (floor) and 1
// (ceiling). Levels in between are interpolated linearly.
func WithLevels(floor, ceiling float64) Option {
	return func(e *Engine) {
		e.floor = floor
		e.ceiling = ceiling
	}
}

// Engine creates energy-based VAD sessions.
type Engine struct {
	floor   float64
	ceiling float64
}

// New returns an energy engine with the given options applied.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{floor: DefaultFloor, ceiling: DefaultCeiling}
	for _, o := range opts {
		o(e)
	}
	if e.floor < 0 || e.ceiling <= e.floor {
		return nil, fmt.Errorf("energy vad: invalid levels floor=%g ceiling=%g", e.floor, e.ceiling)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{
		frameLen: cfg.FrameSamples(),
		floor:    e.floor,
		ceiling:  e.ceiling,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu       sync.Mutex
	frameLen int
	floor    float64
	ceiling  float64
	closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("energy vad: session closed")
	}
	if len(frame) != s.frameLen {
		return 0, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameLen)
	}
	return Probability(audio.RMS(frame), s.floor, s.ceiling), nil
}

// Reset implements vad.SessionHandle. Sessions are stateless between frames.
func (s *session) Reset() {}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

// Probability maps an RMS level onto [0, 1] between floor and ceiling.
func Probability(rms, floor, ceiling float64) float64 {
	switch {
	case rms <= floor:
		return 0
	case rms >= ceiling:
		return 1
	default:
		return (rms - floor) / (ceiling - floor)
	}
}
