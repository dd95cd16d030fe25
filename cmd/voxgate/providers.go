package main

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/portaudio"
	"github.com/MrWong99/voxgate/pkg/audio/wavfile"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
	"github.com/MrWong99/voxgate/pkg/provider/vad/energy"
	"github.com/MrWong99/voxgate/pkg/provider/vad/webrtc"
)

// registerBuiltins wires every built-in component factory into reg.
func registerBuiltins(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.VADConfig) (vad.Engine, error) {
		return webrtc.New(), nil
	})

	reg.RegisterVAD("energy", func(c config.VADConfig) (vad.Engine, error) {
		var opts []energy.Option
		floor, hasFloor := optFloat(c.Options, "floor")
		ceiling, hasCeiling := optFloat(c.Options, "ceiling")
		if hasFloor || hasCeiling {
			if !hasFloor {
				floor = energy.DefaultFloor
			}
			if !hasCeiling {
				ceiling = energy.DefaultCeiling
			}
			opts = append(opts, energy.WithLevels(floor, ceiling))
		}
		return energy.New(opts...)
	})

	// ── Sources ───────────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(c config.SourceConfig) (audio.Source, error) {
		return portaudio.New(portaudio.Config{
			DeviceName:      c.Device,
			FramesPerBuffer: c.FramesPerBuffer,
		}), nil
	})

	reg.RegisterSource("wavfile", func(c config.SourceConfig) (audio.Source, error) {
		if c.Path == "" {
			return nil, fmt.Errorf("source wavfile: path is required")
		}
		return wavfile.New(c.Path, wavfile.WithRealtime(c.Realtime)), nil
	})

	// ── Sinks ─────────────────────────────────────────────────────────────────

	reg.RegisterSink("file", func(e config.SinkEntry) (sink.Sink, error) {
		return sink.NewFile(e.Dir)
	})

	reg.RegisterSink("log", func(config.SinkEntry) (sink.Sink, error) {
		return sink.NewLog(nil), nil
	})

	for _, kind := range []string{"vad", "source", "sink"} {
		slog.Debug("registered components", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the components named in cfg. A config without
// sinks gets a log sink so utterances are never silently dropped.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	engine, err := app.BuildVAD(reg, cfg.VAD)
	if err != nil {
		return nil, err
	}
	slog.Info("component created", "kind", "vad", "name", cfg.VAD.Name, "fallback", cfg.VAD.Fallback)

	src, err := reg.CreateSource(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("create audio source %q: %w", cfg.Source.Name, err)
	}
	slog.Info("component created", "kind", "source", "name", cfg.Source.Name)

	entries := cfg.Sinks
	if len(entries) == 0 {
		entries = []config.SinkEntry{{Name: "log"}}
	}
	sinks, err := reg.CreateSinks(entries)
	if err != nil {
		return nil, fmt.Errorf("create sinks: %w", err)
	}
	for _, e := range entries {
		slog.Info("component created", "kind", "sink", "name", e.Name, "dir", e.Dir)
	}

	return &app.Providers{VAD: engine, Source: src, Sinks: sinks}, nil
}

// optFloat extracts a number from a component Options map. YAML and TOML
// decode whole numbers as integers, so those are accepted too.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
