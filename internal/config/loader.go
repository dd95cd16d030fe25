package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure returned by [Validate].
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Format is a configuration file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultSampleRate      = 16000
	DefaultFrameMs         = 20
	DefaultVADThreshold    = 0.5
	DefaultMinSpeechMs     = 200
	DefaultRedemptionMs    = 300
	DefaultMinSilenceMs    = 500
	DefaultMaxSilenceMs    = 2000
	DefaultPreRollMs       = 300
	DefaultPostRollMs      = 200
	DefaultAutoSendDelayMs = 1500
	DefaultSilenceLevel    = 0.01
	DefaultAggressiveness  = 2
	DefaultServiceName     = "voxgate"

	// negativeThresholdGap separates the default negative threshold from
	// the positive one.
	negativeThresholdGap = 0.15
)

// ValidComponentNames lists known component names per kind. Used by
// [Validate] to warn about unrecognised names.
var ValidComponentNames = map[string][]string{
	"vad":    {"webrtc", "energy"},
	"source": {"portaudio", "wavfile"},
	"sink":   {"file", "log"},
}

// FormatFromPath picks the decoder for path by its extension. Anything that
// is not .toml is treated as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads the configuration file at path and returns a validated [Config]
// with defaults applied. The encoding is chosen by [FormatFromPath].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a config in the given format from r, applies
// defaults, and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: decode toml: unknown keys %s", strings.Join(keys, ", "))
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q", format)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied and no sinks.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	c := &cfg.Capture
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameMs == 0 {
		c.FrameMs = DefaultFrameMs
	}
	defaultTo(&c.VADThreshold, DefaultVADThreshold)
	defaultTo(&c.VADNegativeThreshold, max(*c.VADThreshold-negativeThresholdGap, 0))
	if c.MinSpeechMs == 0 {
		c.MinSpeechMs = DefaultMinSpeechMs
	}
	if c.RedemptionMs == 0 {
		c.RedemptionMs = DefaultRedemptionMs
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceLevel
	}
	defaultTo(&c.MinSilenceMs, DefaultMinSilenceMs)
	defaultTo(&c.MaxSilenceMs, DefaultMaxSilenceMs)
	defaultTo(&c.PreRollMs, DefaultPreRollMs)
	defaultTo(&c.PostRollMs, DefaultPostRollMs)
	if c.PreRollBufferMs == 0 {
		c.PreRollBufferMs = *c.PreRollMs
	}
	defaultTo(&c.AutoSendDelayMs, DefaultAutoSendDelayMs)

	if cfg.VAD.Name == "" {
		cfg.VAD.Name = "webrtc"
	}
	if cfg.VAD.Aggressiveness == 0 {
		cfg.VAD.Aggressiveness = DefaultAggressiveness
	}
	if cfg.Source.Name == "" {
		cfg.Source.Name = "portaudio"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found, wrapped in [ErrInvalidConfig].
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Capture
	c := cfg.Capture
	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: auto, manual, ptt", c.Mode))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_ms must be positive, got %d", c.FrameMs))
	}
	if th := c.VADThreshold; th != nil && (*th <= 0 || *th > 1) {
		errs = append(errs, fmt.Errorf("capture.vad_threshold %.2f is out of range (0, 1]", *th))
	}
	if neg := c.VADNegativeThreshold; neg != nil && c.VADThreshold != nil && (*neg < 0 || *neg > *c.VADThreshold) {
		errs = append(errs, fmt.Errorf("capture.vad_negative_threshold %.2f must be in [0, vad_threshold]", *neg))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("capture.silence_threshold %.3f is out of range [0, 1]", c.SilenceThreshold))
	}
	for _, f := range []struct {
		key string
		val int
	}{
		{"min_speech_ms", c.MinSpeechMs},
		{"redemption_ms", c.RedemptionMs},
		{"min_silence_ms", valueOf(c.MinSilenceMs)},
		{"max_silence_ms", valueOf(c.MaxSilenceMs)},
		{"pre_roll_ms", valueOf(c.PreRollMs)},
		{"post_roll_ms", valueOf(c.PostRollMs)},
		{"pre_roll_buffer_ms", c.PreRollBufferMs},
		{"auto_send_delay_ms", valueOf(c.AutoSendDelayMs)},
	} {
		if f.val < 0 {
			errs = append(errs, fmt.Errorf("capture.%s must not be negative, got %d", f.key, f.val))
		}
	}
	if c.Mode == ModeAuto && c.AutoSendDelayMs != nil && *c.AutoSendDelayMs == 0 {
		errs = append(errs, errors.New("capture.auto_send_delay_ms must be positive in auto mode"))
	}
	if pre := valueOf(c.PreRollMs); c.PreRollBufferMs > 0 && c.PreRollBufferMs < pre {
		slog.Warn("capture.pre_roll_buffer_ms is shorter than pre_roll_ms; onset audio may be clipped",
			"pre_roll_buffer_ms", c.PreRollBufferMs,
			"pre_roll_ms", pre,
		)
	}

	// VAD
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", cfg.VAD.Aggressiveness))
	}
	validateComponentName("vad", cfg.VAD.Name)
	validateComponentName("vad", cfg.VAD.Fallback)
	if cfg.VAD.Fallback != "" && cfg.VAD.Fallback == cfg.VAD.Name {
		errs = append(errs, fmt.Errorf("vad.fallback %q must differ from vad.name", cfg.VAD.Fallback))
	}

	// Source
	validateComponentName("source", cfg.Source.Name)
	if cfg.Source.Name == "wavfile" && cfg.Source.Path == "" {
		errs = append(errs, errors.New("source.path is required when source.name is wavfile"))
	}
	if cfg.Source.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("source.frames_per_buffer must not be negative, got %d", cfg.Source.FramesPerBuffer))
	}

	// Sinks
	for i, s := range cfg.Sinks {
		prefix := fmt.Sprintf("sinks[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateComponentName("sink", s.Name)
		if s.Name == "file" && s.Dir == "" {
			errs = append(errs, fmt.Errorf("%s.dir is required for the file sink", prefix))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// validateComponentName logs a warning if name is non-empty and not found in
// the [ValidComponentNames] list for the given kind.
func validateComponentName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidComponentNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// defaultTo points *p at v when the key was absent.
func defaultTo[T any](p **T, v T) {
	if *p == nil {
		*p = &v
	}
}

// valueOf returns *p, or the zero value when p is nil.
func valueOf[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
