package resilience

import (
	"log/slog"

	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// VADFallback implements [vad.Engine] by creating sessions from the first
// engine that accepts the config. An engine that keeps failing is skipped
// until its breaker cools down.
type VADFallback struct {
	group *FallbackGroup[vad.Engine]
}

var _ vad.Engine = (*VADFallback)(nil)

// NewVADFallback creates a VADFallback preferring primary.
func NewVADFallback(primaryName string, primary vad.Engine, cfg BreakerConfig) *VADFallback {
	return &VADFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers an engine tried after the ones already added.
func (f *VADFallback) AddFallback(name string, e vad.Engine) {
	f.group.Add(name, e)
}

// NewSession implements [vad.Engine].
func (f *VADFallback) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	h, name, err := Try(f.group, func(e vad.Engine) (vad.SessionHandle, error) {
		return e.NewSession(cfg)
	})
	if err != nil {
		return nil, err
	}
	if names := f.group.Names(); name != names[0] {
		slog.Info("vad session created by fallback engine", "engine", name, "sample_rate", cfg.SampleRate)
	}
	return h, nil
}
