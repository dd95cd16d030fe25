// Package silence removes dead air from classified buffers.
//
// [Trim] cuts leading and trailing silence down to configurable margins and
// [Splice] caps every pause between two speech spans to a maximum length,
// keeping the onset of each pause. Both are pure functions over a buffer and its segments; neither
// mutates its input.
package silence

import (
	"time"

	"github.com/MrWong99/voxgate/internal/segment"
	"github.com/MrWong99/voxgate/pkg/audio"
)

// TrimConfig sets the margins kept around the outermost speech.
type TrimConfig struct {
	PreRoll  time.Duration
	PostRoll time.Duration
}

// TrimResult is the outcome of [Trim].
type TrimResult struct {
	// Buffer is the trimmed audio. Empty when no speech was found.
	Buffer audio.Buffer

	// HeadSamples and TailSamples count the samples removed from each end.
	HeadSamples int
	TailSamples int

	// Segments are the input segments clipped to the kept range and rebased
	// so that the first starts at zero.
	Segments []segment.Segment
}

// Empty reports whether the trim found no speech.
func (r TrimResult) Empty() bool { return r.Buffer.Empty() }

// Trim slices buf to [firstSpeech.Start-PreRoll, lastSpeech.End+PostRoll],
// clamped to the buffer bounds. When segs contains no speech the result is
// explicitly empty and the whole buffer counts as trimmed from the head.
func Trim(buf audio.Buffer, segs []segment.Segment, cfg TrimConfig) TrimResult {
	first, last := speechBounds(segs)
	if first < 0 {
		return TrimResult{
			Buffer:      audio.Buffer{SampleRate: buf.SampleRate},
			HeadSamples: buf.Len(),
		}
	}

	total := buf.Duration()
	from := max(0, segs[first].Start-cfg.PreRoll)
	to := min(total, segs[last].End+cfg.PostRoll)

	startSample := audio.SamplesFor(from, buf.SampleRate)
	endSample := min(audio.SamplesFor(to, buf.SampleRate), buf.Len())

	return TrimResult{
		Buffer:      buf.Slice(startSample, endSample),
		HeadSamples: startSample,
		TailSamples: buf.Len() - endSample,
		Segments:    rebase(segs, from, to),
	}
}

// speechBounds returns the indices of the first and last speech segments, or
// -1, -1 when there is none.
func speechBounds(segs []segment.Segment) (first, last int) {
	first, last = -1, -1
	for i, s := range segs {
		if !s.Speech {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last
}

// rebase clips segs to [from, to) and shifts them to start at zero. Segments
// entirely outside the window are dropped.
func rebase(segs []segment.Segment, from, to time.Duration) []segment.Segment {
	out := make([]segment.Segment, 0, len(segs))
	for _, s := range segs {
		start := max(s.Start, from)
		end := min(s.End, to)
		if end <= start {
			continue
		}
		out = append(out, segment.Segment{
			Start:  start - from,
			End:    end - from,
			Speech: s.Speech,
		})
	}
	return out
}

// SpliceConfig caps interior pauses.
type SpliceConfig struct {
	// MaxSilence is the longest silence kept. Zero disables splicing.
	MaxSilence time.Duration
}

// Splice copies buf, truncating every interior silence segment longer than
// cfg.MaxSilence to its first MaxSilence of audio. A silence is interior when
// speech precedes and follows it; leading and trailing silence is left to
// [Trim]. Speech segments and shorter silences pass through unchanged. Audio
// not covered by segs is kept.
func Splice(buf audio.Buffer, segs []segment.Segment, cfg SpliceConfig) audio.Buffer {
	if cfg.MaxSilence <= 0 || len(segs) == 0 {
		return buf.Slice(0, buf.Len())
	}
	first, last := speechBounds(segs)

	keep := audio.SamplesFor(cfg.MaxSilence, buf.SampleRate)
	out := make([]float32, 0, buf.Len())
	cursor := 0
	for i, s := range segs {
		start := min(audio.SamplesFor(s.Start, buf.SampleRate), buf.Len())
		end := min(audio.SamplesFor(s.End, buf.SampleRate), buf.Len())
		start = max(start, cursor)
		if end <= start {
			continue
		}
		// Anything between segments is kept verbatim.
		out = append(out, buf.Samples[cursor:start]...)
		if !s.Speech && i > first && i < last && end-start > keep {
			out = append(out, buf.Samples[start:start+keep]...)
		} else {
			out = append(out, buf.Samples[start:end]...)
		}
		cursor = end
	}
	out = append(out, buf.Samples[cursor:]...)
	return audio.Buffer{Samples: out, SampleRate: buf.SampleRate}
}
