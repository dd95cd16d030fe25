package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxgate/internal/utterance"
	"github.com/MrWong99/voxgate/internal/vadstream"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// Config tunes a [Session].
type Config struct {
	Mode Mode

	// SampleRate is the pipeline rate. Frames at other rates are converted.
	SampleRate int

	// FrameDuration is the VAD frame length.
	FrameDuration time.Duration

	// Aggressiveness is passed to the VAD engine.
	Aggressiveness int

	// Detector holds the speech probability thresholds and frame counts.
	Detector vadstream.Params

	// Pipeline configures segmentation, trimming, and splicing at finalize.
	Pipeline utterance.Config

	// PreRollBuffer caps the audio kept from before the first speech onset.
	PreRollBuffer time.Duration

	// AutoSendDelay is the auto-mode countdown after speech ends.
	AutoSendDelay time.Duration
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: auto, manual, ptt", c.Mode))
	}
	if err := c.vadConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Detector.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Mode == ModeAuto && c.AutoSendDelay <= 0 {
		errs = append(errs, fmt.Errorf("auto send delay must be positive in auto mode, got %s", c.AutoSendDelay))
	}
	if c.PreRollBuffer < 0 {
		errs = append(errs, fmt.Errorf("pre-roll buffer must not be negative, got %s", c.PreRollBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("capture: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) vadConfig() vad.Config {
	return vad.Config{
		SampleRate:     c.SampleRate,
		FrameSizeMs:    int(c.FrameDuration / time.Millisecond),
		Aggressiveness: c.Aggressiveness,
	}
}
