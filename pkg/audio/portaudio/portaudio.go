// Package portaudio implements [audio.Source] for local microphones using
// PortAudio (github.com/gordonklaus/portaudio).
//
// The PortAudio library is initialised lazily on the first Open or Devices
// call and terminated once the last stream is closed. Requires cgo and the
// PortAudio shared library.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// DefaultFramesPerBuffer is the PortAudio read size in frames.
const DefaultFramesPerBuffer = 512

// Config selects the input device.
type Config struct {
	// DeviceName selects an input device by exact name. Empty or "default"
	// uses the system default input.
	DeviceName string

	// FramesPerBuffer is the number of frames per read. Zero selects
	// [DefaultFramesPerBuffer].
	FramesPerBuffer int

	// Buffer is the depth of the frame channel. Frames are dropped when the
	// consumer falls this far behind. Zero selects 64.
	Buffer int
}

// Source opens microphone streams. It is safe for concurrent use.
type Source struct {
	cfg Config

	mu   sync.Mutex
	refs int // open PortAudio users
}

// New creates a Source. No device is touched until Open is called.
func New(cfg Config) *Source {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Source{cfg: cfg}
}

func (s *Source) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	s.refs++
	return nil
}

func (s *Source) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("portaudio: terminate failed", "err", err)
		}
	}
}

// Open implements [audio.Source]. The stream is opened with the requested
// sample rate and channel count; when the named device cannot be found the
// default input is used instead.
func (s *Source) Open(ctx context.Context, want audio.Format) (audio.Stream, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	channels := max(want.Channels, 1)
	buf := make([]float32, s.cfg.FramesPerBuffer*channels)

	st, err := s.openStream(want.SampleRate, channels, buf)
	if err != nil {
		s.release()
		return nil, err
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		s.release()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	ms := &stream{
		src:    s,
		st:     st,
		buf:    buf,
		format: audio.Format{SampleRate: want.SampleRate, Channels: channels},
		frames: make(chan audio.Frame, s.cfg.Buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go ms.pump()
	stop := context.AfterFunc(ctx, func() { _ = ms.Close() })
	ms.mu.Lock()
	ms.stopWatch = stop
	ms.mu.Unlock()
	return ms, nil
}

func (s *Source) openStream(rate, channels int, buf []float32) (*portaudio.Stream, error) {
	if s.cfg.DeviceName != "" && s.cfg.DeviceName != "default" {
		dev, err := findInput(s.cfg.DeviceName)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: channels,
					Latency:  dev.DefaultLowInputLatency,
				},
				SampleRate:      float64(rate),
				FramesPerBuffer: s.cfg.FramesPerBuffer,
			}
			st, err := portaudio.OpenStream(params, buf)
			if err != nil {
				return nil, fmt.Errorf("portaudio: open device %q: %w", s.cfg.DeviceName, err)
			}
			return st, nil
		}
		slog.Warn("portaudio: input device not found, using default", "device", s.cfg.DeviceName)
	}
	st, err := portaudio.OpenDefaultStream(channels, 0, float64(rate), s.cfg.FramesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open default input: %w", err)
	}
	return st, nil
}

func findInput(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: device not found: %s", name)
}

// Devices implements [audio.DeviceLister]. Only devices with input channels
// are returned.
func (s *Source) Devices() ([]audio.Device, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var out []audio.Device
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, audio.Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         d.Name == defaultName,
		})
	}
	return out, nil
}

var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = (*Source)(nil)
)

type stream struct {
	src    *Source
	st     *portaudio.Stream
	buf    []float32
	format audio.Format
	frames chan audio.Frame

	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu        sync.Mutex
	stopWatch func() bool
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Format() audio.Format { return s.format }

// pump reads blocking buffers from PortAudio and forwards copies. A full
// frame channel drops the buffer rather than stalling the device. The frame
// channel is closed when pump returns, so consumers observe device loss.
func (s *stream) pump() {
	defer close(s.exited)
	defer close(s.frames)
	var pos time.Duration
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.st.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			select {
			case <-s.done:
			default:
				slog.Warn("portaudio: read failed, ending stream", "err", err)
			}
			return
		}

		samples := make([]float32, len(s.buf))
		copy(samples, s.buf)
		f := audio.Frame{
			Samples:    samples,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  pos,
		}
		pos += audio.DurationOf(len(samples)/s.format.Channels, s.format.SampleRate)

		select {
		case s.frames <- f:
		case <-s.done:
			return
		default:
			slog.Debug("portaudio: consumer behind, dropping buffer")
		}
	}
}

// Close stops the device and waits for the pump to exit. Safe to call more
// than once.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		if s.stopWatch != nil {
			s.stopWatch()
		}
		s.mu.Unlock()
		close(s.done)
		if stopErr := s.st.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop stream: %w", stopErr)
		}
		<-s.exited
		if closeErr := s.st.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close stream: %w", closeErr)
		}
		s.src.release()
	})
	return err
}
