// Package utterance runs the finalize pipeline over one captured utterance:
// segmentation, silence trimming, silence splicing, and WAV encoding.
package utterance

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxgate/internal/segment"
	"github.com/MrWong99/voxgate/internal/silence"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/wav"
)

// Config bundles the parameters of every pipeline stage.
type Config struct {
	Segment segment.Config
	Trim    silence.TrimConfig
	Splice  silence.SpliceConfig
}

// Result is the processed form of one utterance. It is never mutated after
// [Process] returns.
type Result struct {
	// ID uniquely identifies the utterance.
	ID string

	// Payload is a mono 16-bit PCM WAV file. An empty result still carries a
	// valid header with no samples.
	Payload []byte

	// SampleRate of the encoded payload.
	SampleRate int

	// OriginalDuration is the length of the buffer handed to Process.
	OriginalDuration time.Duration

	// TrimmedDuration is the length of the encoded audio.
	TrimmedDuration time.Duration

	// Segments classify the original buffer.
	Segments []segment.Segment

	// TrimmedSilence is OriginalDuration minus TrimmedDuration.
	TrimmedSilence time.Duration
}

// Empty reports whether the utterance contained no speech.
func (r Result) Empty() bool { return r.TrimmedDuration == 0 }

// Process classifies buf, trims and splices its silence, and encodes the
// result. It never fails: input without speech yields an empty Result.
func Process(buf audio.Buffer, cfg Config) Result {
	segs := segment.Analyze(buf, cfg.Segment)
	trimmed := silence.Trim(buf, segs, cfg.Trim)

	out := trimmed.Buffer
	if !trimmed.Empty() {
		out = silence.Splice(trimmed.Buffer, trimmed.Segments, cfg.Splice)
	}

	original := buf.Duration()
	final := out.Duration()
	return Result{
		ID:               uuid.NewString(),
		Payload:          wav.Encode(out),
		SampleRate:       buf.SampleRate,
		OriginalDuration: original,
		TrimmedDuration:  final,
		Segments:         segs,
		TrimmedSilence:   original - final,
	}
}

// Metadata is the JSON description that accompanies a payload.
type Metadata struct {
	ID                 string            `json:"id"`
	SampleRate         int               `json:"sampleRate"`
	OriginalDurationMs float64           `json:"originalDurationMs"`
	TrimmedDurationMs  float64           `json:"trimmedDurationMs"`
	TrimmedSilenceMs   float64           `json:"trimmedSilenceMs"`
	Segments           []segment.Segment `json:"segments"`
}

// Metadata returns the JSON-ready description of r.
func (r Result) Metadata() Metadata {
	segs := r.Segments
	if segs == nil {
		segs = []segment.Segment{}
	}
	return Metadata{
		ID:                 r.ID,
		SampleRate:         r.SampleRate,
		OriginalDurationMs: millis(r.OriginalDuration),
		TrimmedDurationMs:  millis(r.TrimmedDuration),
		TrimmedSilenceMs:   millis(r.TrimmedSilence),
		Segments:           segs,
	}
}

// MarshalJSON encodes the metadata of r. The payload is not included.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Metadata())
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
