// Package segment classifies a sample buffer into contiguous speech and
// silence spans.
//
// Each 20 ms frame is classified by its RMS level. Silence is subject to
// hysteresis: a silent run only becomes a silence [Segment] once it lasts at
// least [Config.MinSilence]; shorter pauses are absorbed into the surrounding
// speech. The result always covers the whole buffer, without gaps, and
// adjacent segments always differ in [Segment.Speech].
package segment

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// FrameDuration is the classification granularity.
const FrameDuration = 20 * time.Millisecond

// Config controls classification.
type Config struct {
	// SilenceThreshold is the RMS level at or below which a frame counts as
	// silent. Range: [0, 1].
	SilenceThreshold float64

	// MinSilence is how long a silent run must last before it is committed
	// as a silence segment. Zero commits every silent frame immediately.
	MinSilence time.Duration
}

// Segment is a classified span of a buffer, [Start, End).
type Segment struct {
	Start  time.Duration
	End    time.Duration
	Speech bool
}

// Duration returns the length of s.
func (s Segment) Duration() time.Duration { return s.End - s.Start }

type segmentJSON struct {
	StartMs  float64 `json:"startTimeMs"`
	EndMs    float64 `json:"endTimeMs"`
	IsSpeech bool    `json:"isSpeech"`
}

// MarshalJSON encodes s with millisecond timestamps.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		StartMs:  ms(s.Start),
		EndMs:    ms(s.End),
		IsSpeech: s.Speech,
	})
}

// UnmarshalJSON decodes the millisecond form written by MarshalJSON.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var v segmentJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.Start = time.Duration(v.StartMs * float64(time.Millisecond))
	s.End = time.Duration(v.EndMs * float64(time.Millisecond))
	s.Speech = v.IsSpeech
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Analyze partitions buf into alternating speech and silence segments.
// An empty buffer yields no segments.
func Analyze(buf audio.Buffer, cfg Config) []Segment {
	bounds := AnalyzeSamples(buf, cfg)
	out := make([]Segment, len(bounds))
	for i, b := range bounds {
		out[i] = Segment{
			Start:  audio.DurationOf(b.Start, buf.SampleRate),
			End:    audio.DurationOf(b.End, buf.SampleRate),
			Speech: b.Speech,
		}
	}
	return out
}

// Span is a segment expressed in sample offsets, [Start, End).
type Span struct {
	Start  int
	End    int
	Speech bool
}

// Len returns the number of samples covered by s.
func (s Span) Len() int { return s.End - s.Start }

// AnalyzeSamples is [Analyze] with sample-exact boundaries.
func AnalyzeSamples(buf audio.Buffer, cfg Config) []Span {
	total := buf.Len()
	frameLen := audio.SamplesFor(FrameDuration, buf.SampleRate)
	if total == 0 || frameLen == 0 {
		return nil
	}
	minSilentFrames := max(int(cfg.MinSilence/FrameDuration), 1)

	spans := make([]Span, 0, 8)
	var (
		cur       Span
		open      bool
		runStart  int // first sample of the current uncommitted silent run
		runFrames int
	)
	for off := 0; off < total; off += frameLen {
		end := min(off+frameLen, total)
		silent := audio.RMS(buf.Samples[off:end]) <= cfg.SilenceThreshold

		if !open {
			// Nothing precedes the first frame to absorb a pause into.
			cur = Span{Start: 0, Speech: !silent}
			open = true
			continue
		}

		switch {
		case cur.Speech && silent:
			if runFrames == 0 {
				runStart = off
			}
			runFrames++
			if runFrames >= minSilentFrames {
				cur.End = runStart
				spans = append(spans, cur)
				cur = Span{Start: runStart, Speech: false}
				runFrames = 0
			}
		case cur.Speech:
			runFrames = 0
		case !silent:
			cur.End = off
			spans = append(spans, cur)
			cur = Span{Start: off, Speech: true}
		}
	}
	cur.End = total
	return append(spans, cur)
}
