// Package webrtc implements vad.Engine on top of the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad).
//
// WebRTC VAD makes a binary decision per 10 ms sub-frame. A session splits
// each configured frame into 10 ms sub-frames and reports the fraction that
// were classified as speech, which gives the caller a probability-like value
// to threshold against.
//
// The underlying detector requires cgo.
package webrtc

import (
	"fmt"
	"slices"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// supportedRates are the sample rates the WebRTC detector accepts.
var supportedRates = []int{8000, 16000, 32000, 48000}

// subFrameMs is the sub-frame length fed to the detector.
const subFrameMs = 10

// Engine creates WebRTC VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and allocates a detector instance.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !slices.Contains(supportedRates, cfg.SampleRate) {
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d, must be one of %v", cfg.SampleRate, supportedRates)
	}
	if cfg.FrameSizeMs%subFrameMs != 0 {
		return nil, fmt.Errorf("webrtc vad: frame size must be a multiple of %d ms, got %d", subFrameMs, cfg.FrameSizeMs)
	}

	det, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	if err := det.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	return &session{
		det:      det,
		cfg:      cfg,
		frameLen: cfg.FrameSamples(),
		subLen:   cfg.SampleRate * subFrameMs / 1000,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu       sync.Mutex
	det      *webrtcvad.VAD
	cfg      vad.Config
	frameLen int
	subLen   int
	closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("webrtc vad: session closed")
	}
	if len(frame) != s.frameLen {
		return 0, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameLen)
	}

	pcm := audio.PCM16Bytes(frame)
	var active, total int
	for off := 0; off+s.subLen <= len(frame); off += s.subLen {
		speech, err := s.det.Process(s.cfg.SampleRate, pcm[off*2:(off+s.subLen)*2])
		if err != nil {
			return 0, fmt.Errorf("webrtc vad: process: %w", err)
		}
		total++
		if speech {
			active++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(active) / float64(total), nil
}

// Reset implements vad.SessionHandle. The WebRTC detector keeps only
// short-term internal state, so re-applying the mode is sufficient.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		_ = s.det.SetMode(s.cfg.Aggressiveness)
	}
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)
