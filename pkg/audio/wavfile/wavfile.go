// Package wavfile implements [audio.Source] by replaying a PCM WAV file, for
// offline processing and for exercising the capture pipeline without a
// microphone.
package wavfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// DefaultFrameDuration is the length of each delivered frame.
const DefaultFrameDuration = 20 * time.Millisecond

// Option configures a [Source].
type Option func(*Source)

// WithRealtime paces frame delivery at playback speed, like a live device.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// WithClock sets the clock used for realtime pacing.
func WithClock(c clockwork.Clock) Option {
	return func(s *Source) { s.clock = c }
}

// WithFrameDuration sets the length of each delivered frame.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDur = d }
}

// Source replays a WAV file. Each Open starts from the beginning.
type Source struct {
	path     string
	realtime bool
	clock    clockwork.Clock
	frameDur time.Duration
}

// New creates a Source for the file at path. The file is not opened until
// Open is called.
func New(path string, opts ...Option) *Source {
	s := &Source{
		path:     path,
		clock:    clockwork.NewRealClock(),
		frameDur: DefaultFrameDuration,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Source]. The requested format is ignored; frames
// carry the file's own rate and channel count.
func (s *Source) Open(ctx context.Context, _ audio.Format) (audio.Stream, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", s.path, err)
	}
	dec := gowav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("wavfile: %s is not a valid WAV file", s.path)
	}
	if dec.BitDepth == 0 || dec.NumChans == 0 || dec.SampleRate == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("wavfile: %s has an invalid format header", s.path)
	}

	format := audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	st := &stream{
		file:   f,
		dec:    dec,
		format: format,
		scale:  float32(int64(1) << (dec.BitDepth - 1)),
		frames: make(chan audio.Frame, 16),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	frameLen := max(audio.SamplesFor(s.frameDur, format.SampleRate), 1) * format.Channels
	go st.pump(ctx, s.clock, s.realtime, s.frameDur, frameLen)
	return st, nil
}

var _ audio.Source = (*Source)(nil)

// ReadAll decodes the whole file at path into a mono buffer at its native
// sample rate. Multi-channel files are downmixed.
func ReadAll(ctx context.Context, path string) (audio.Buffer, error) {
	st, err := New(path).Open(ctx, audio.Format{})
	if err != nil {
		return audio.Buffer{}, err
	}
	defer st.Close()

	format := st.Format()
	var samples []float32
	for f := range st.Frames() {
		samples = append(samples, audio.Downmix(f.Samples, format.Channels)...)
	}
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	return audio.Buffer{Samples: samples, SampleRate: format.SampleRate}, nil
}

type stream struct {
	file   *os.File
	dec    *gowav.Decoder
	format audio.Format
	scale  float32
	frames chan audio.Frame

	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) pump(ctx context.Context, clock clockwork.Clock, realtime bool, frameDur time.Duration, frameLen int) {
	defer close(s.exited)
	defer close(s.frames)

	var tick <-chan time.Time
	if realtime {
		t := clock.NewTicker(frameDur)
		defer t.Stop()
		tick = t.Chan()
	}

	buf := &goaudio.IntBuffer{
		Data:   make([]int, frameLen),
		Format: s.dec.Format(),
	}
	var pos time.Duration
	for {
		n, err := s.dec.PCMBuffer(buf)
		if err != nil || n == 0 {
			return
		}
		samples := make([]float32, n)
		for i, v := range buf.Data[:n] {
			samples[i] = float32(v) / s.scale
		}
		f := audio.Frame{
			Samples:    samples,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  pos,
		}
		pos += audio.DurationOf(n/s.format.Channels, s.format.SampleRate)

		if tick != nil {
			select {
			case <-tick:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case s.frames <- f:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops replay and closes the file. Safe to call more than once.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		<-s.exited
		if cerr := s.file.Close(); cerr != nil {
			err = fmt.Errorf("wavfile: close: %w", cerr)
		}
	})
	return err
}
