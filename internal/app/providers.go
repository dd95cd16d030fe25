package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// BuildVAD creates the engine named by cfg.Name. When cfg.Fallback is set
// the result tries the fallback engine whenever the primary cannot create a
// session.
func BuildVAD(reg *config.Registry, cfg config.VADConfig) (vad.Engine, error) {
	primary, err := reg.CreateVAD(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.Name, err)
	}
	if cfg.Fallback == "" {
		return primary, nil
	}

	fbCfg := cfg
	fbCfg.Name, fbCfg.Fallback = cfg.Fallback, ""
	fallback, err := reg.CreateVAD(fbCfg)
	if err != nil {
		return nil, fmt.Errorf("create vad fallback %q: %w", cfg.Fallback, err)
	}
	f := resilience.NewVADFallback(cfg.Name, primary, resilience.BreakerConfig{})
	f.AddFallback(cfg.Fallback, fallback)
	slog.Debug("vad fallback configured", "primary", cfg.Name, "fallback", cfg.Fallback)
	return f, nil
}
