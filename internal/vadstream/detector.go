// Package vadstream turns per-frame speech probabilities into utterance
// events.
//
// A [Detector] re-blocks arbitrary-sized capture frames into the fixed frame
// size of a vad.SessionHandle, scores each frame, and applies positive and
// negative thresholds with a redemption window. For every frame it emits a
// [FrameProcessed] event; around utterances it emits exactly one
// [SpeechStart] per onset and exactly one [SpeechEnd] (or [Misfire], for
// utterances shorter than MinSpeechFrames) per close.
package vadstream

import (
	"fmt"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// EventType enumerates detector events.
type EventType int

const (
	// FrameProcessed is emitted once per scored frame.
	FrameProcessed EventType = iota

	// SpeechStart marks an utterance onset.
	SpeechStart

	// SpeechEnd closes an utterance and carries its audio.
	SpeechEnd

	// Misfire closes an utterance that was too short to count as speech.
	Misfire
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case FrameProcessed:
		return "frame"
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	case Misfire:
		return "misfire"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a single detector output.
type Event struct {
	Type EventType

	// Samples is the scored frame. Set for FrameProcessed.
	Samples []float32

	// Probability is the speech probability of the frame. Set for
	// FrameProcessed.
	Probability float64

	// InSpeech reports whether the frame belongs to the current utterance.
	// Set for FrameProcessed.
	InSpeech bool

	// Chunk holds the utterance audio from its onset frame up to and
	// including the last redemption frame. Set for SpeechEnd and Misfire.
	Chunk audio.Buffer
}

// Params tune utterance detection.
type Params struct {
	// PositiveThreshold is the probability at or above which a frame counts
	// as speech.
	PositiveThreshold float64

	// NegativeThreshold is the probability below which a frame counts
	// towards ending an utterance. Frames between the two thresholds keep
	// the current state.
	NegativeThreshold float64

	// MinSpeechFrames is the number of speech frames an utterance needs to
	// be reported as SpeechEnd rather than Misfire.
	MinSpeechFrames int

	// RedemptionFrames is the number of consecutive negative frames that end
	// an utterance.
	RedemptionFrames int
}

// Validate reports whether p is usable.
func (p Params) Validate() error {
	if p.PositiveThreshold < 0 || p.PositiveThreshold > 1 {
		return fmt.Errorf("vadstream: positive threshold %g out of [0, 1]", p.PositiveThreshold)
	}
	if p.NegativeThreshold < 0 || p.NegativeThreshold > p.PositiveThreshold {
		return fmt.Errorf("vadstream: negative threshold %g must be in [0, %g]", p.NegativeThreshold, p.PositiveThreshold)
	}
	if p.MinSpeechFrames < 0 {
		return fmt.Errorf("vadstream: min speech frames must not be negative, got %d", p.MinSpeechFrames)
	}
	if p.RedemptionFrames < 1 {
		return fmt.Errorf("vadstream: redemption frames must be at least 1, got %d", p.RedemptionFrames)
	}
	return nil
}

// Detector is a streaming utterance detector bound to one VAD session.
// It is not safe for concurrent use; the capture loop owns it.
type Detector struct {
	sess       vad.SessionHandle
	params     Params
	sampleRate int
	frameLen   int

	pending []float32 // samples waiting for a full frame

	speaking     bool
	speechFrames int
	redemption   int
	chunk        []float32
}

// New creates a Detector scoring frames of frameLen samples at sampleRate.
func New(sess vad.SessionHandle, p Params, sampleRate, frameLen int) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if frameLen <= 0 {
		return nil, fmt.Errorf("vadstream: frame length must be positive, got %d", frameLen)
	}
	return &Detector{
		sess:       sess,
		params:     p,
		sampleRate: sampleRate,
		frameLen:   frameLen,
	}, nil
}

// Speaking reports whether an utterance is in progress.
func (d *Detector) Speaking() bool { return d.speaking }

// Process appends samples to the detector and returns the events produced by
// every frame that became complete. Leftover samples are kept for the next
// call.
func (d *Detector) Process(samples []float32) ([]Event, error) {
	d.pending = append(d.pending, samples...)

	var events []Event
	for len(d.pending) >= d.frameLen {
		frame := make([]float32, d.frameLen)
		copy(frame, d.pending[:d.frameLen])
		d.pending = d.pending[d.frameLen:]

		p, err := d.sess.ProcessFrame(frame)
		if err != nil {
			return events, fmt.Errorf("vadstream: process frame: %w", err)
		}
		events = d.step(frame, p, events)
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return events, nil
}

func (d *Detector) step(frame []float32, p float64, events []Event) []Event {
	positive := p >= d.params.PositiveThreshold
	negative := p < d.params.NegativeThreshold

	if positive && !d.speaking {
		d.speaking = true
		d.speechFrames = 0
		d.redemption = 0
		d.chunk = d.chunk[:0]
		events = append(events, Event{Type: SpeechStart})
	}

	events = append(events, Event{
		Type:        FrameProcessed,
		Samples:     frame,
		Probability: p,
		InSpeech:    d.speaking,
	})
	if !d.speaking {
		return events
	}

	d.chunk = append(d.chunk, frame...)
	switch {
	case positive:
		d.speechFrames++
		d.redemption = 0
	case negative:
		d.redemption++
		if d.redemption >= d.params.RedemptionFrames {
			events = append(events, d.end())
		}
	}
	return events
}

// end closes the current utterance. Must only be called while speaking.
func (d *Detector) end() Event {
	chunk := make([]float32, len(d.chunk))
	copy(chunk, d.chunk)
	typ := SpeechEnd
	if d.speechFrames < d.params.MinSpeechFrames {
		typ = Misfire
	}
	d.speaking = false
	d.speechFrames = 0
	d.redemption = 0
	d.chunk = d.chunk[:0]
	return Event{Type: typ, Chunk: audio.Buffer{Samples: chunk, SampleRate: d.sampleRate}}
}

// Flush closes an in-progress utterance, as when capture is stopped mid
// sentence. Any partial frame is appended to the chunk unscored. Flush
// returns nil when no utterance is in progress.
func (d *Detector) Flush() []Event {
	defer func() { d.pending = nil }()
	if !d.speaking {
		return nil
	}
	d.chunk = append(d.chunk, d.pending...)
	return []Event{d.end()}
}

// Reset discards all state, including any in-progress utterance, and resets
// the underlying VAD session.
func (d *Detector) Reset() {
	d.pending = nil
	d.speaking = false
	d.speechFrames = 0
	d.redemption = 0
	d.chunk = nil
	d.sess.Reset()
}
