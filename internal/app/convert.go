package app

import (
	"time"

	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/segment"
	"github.com/MrWong99/voxgate/internal/silence"
	"github.com/MrWong99/voxgate/internal/utterance"
	"github.com/MrWong99/voxgate/internal/vadstream"
)

// CaptureConfig converts the capture and VAD sections of cfg into a
// [capture.Config]. cfg must have defaults applied.
func CaptureConfig(cfg *config.Config) capture.Config {
	c := cfg.Capture
	frame := max(c.FrameMs, 1)

	threshold := valueOf(c.VADThreshold)
	neg := max(threshold-0.15, 0)
	if c.VADNegativeThreshold != nil {
		neg = *c.VADNegativeThreshold
	}

	return capture.Config{
		Mode:           capture.Mode(c.Mode),
		SampleRate:     c.SampleRate,
		FrameDuration:  ms(c.FrameMs),
		Aggressiveness: cfg.VAD.Aggressiveness,
		Detector: vadstream.Params{
			PositiveThreshold: threshold,
			NegativeThreshold: neg,
			MinSpeechFrames:   c.MinSpeechMs / frame,
			RedemptionFrames:  max(c.RedemptionMs/frame, 1),
		},
		Pipeline: utterance.Config{
			Segment: segment.Config{
				SilenceThreshold: c.SilenceThreshold,
				MinSilence:       msOf(c.MinSilenceMs),
			},
			Trim: silence.TrimConfig{
				PreRoll:  msOf(c.PreRollMs),
				PostRoll: msOf(c.PostRollMs),
			},
			Splice: silence.SpliceConfig{MaxSilence: msOf(c.MaxSilenceMs)},
		},
		PreRollBuffer: ms(c.PreRollBufferMs),
		AutoSendDelay: msOf(c.AutoSendDelayMs),
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// msOf converts an optional millisecond value; nil converts to zero.
func msOf(n *int) time.Duration { return ms(valueOf(n)) }

func valueOf[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
