// Package config provides the configuration schema, loader, and component
// registry for the voxgate capture service.
package config

// LogLevel controls log verbosity for the voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects when a captured utterance is considered done.
type Mode string

const (
	// ModeAuto finalizes after a countdown once speech ends.
	ModeAuto Mode = "auto"

	// ModeManual finalizes on an explicit stop.
	ModeManual Mode = "manual"

	// ModePTT is press-and-hold: releasing the key stops capture.
	ModePTT Mode = "ptt"
)

// IsValid reports whether m is a recognised capture mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeAuto, ModeManual, ModePTT:
		return true
	}
	return false
}

// Config is the root configuration structure for voxgate.
// It is typically loaded from a YAML or TOML file using [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Capture   CaptureConfig   `yaml:"capture" toml:"capture"`
	VAD       VADConfig       `yaml:"vad" toml:"vad"`
	Source    SourceConfig    `yaml:"source" toml:"source"`
	Sinks     []SinkEntry     `yaml:"sinks" toml:"sinks"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// ServerConfig holds network and logging settings for the voxgate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// CaptureConfig tunes the capture pipeline. All durations are milliseconds.
type CaptureConfig struct {
	// Mode is auto, manual, or ptt.
	Mode Mode `yaml:"mode" toml:"mode"`

	// SampleRate is the pipeline sample rate in Hz. Sources delivering other
	// rates are resampled.
	SampleRate int `yaml:"sample_rate" toml:"sample_rate"`

	// FrameMs is the VAD frame length.
	FrameMs int `yaml:"frame_ms" toml:"frame_ms"`

	// VADThreshold is the speech probability that starts an utterance. An
	// explicit 0 is rejected.
	VADThreshold *float64 `yaml:"vad_threshold" toml:"vad_threshold"`

	// VADNegativeThreshold is the probability below which frames count
	// towards ending an utterance. Defaults to VADThreshold - 0.15.
	VADNegativeThreshold *float64 `yaml:"vad_negative_threshold" toml:"vad_negative_threshold"`

	// MinSpeechMs is the shortest utterance reported as speech.
	MinSpeechMs int `yaml:"min_speech_ms" toml:"min_speech_ms"`

	// RedemptionMs is how long the detector waits in silence before closing
	// an utterance.
	RedemptionMs int `yaml:"redemption_ms" toml:"redemption_ms"`

	// SilenceThreshold is the RMS level at or below which a frame is silent
	// during segmentation.
	SilenceThreshold float64 `yaml:"silence_threshold" toml:"silence_threshold"`

	// MinSilenceMs is the shortest pause committed as a silence segment. An
	// explicit 0 commits every silent frame.
	MinSilenceMs *int `yaml:"min_silence_ms" toml:"min_silence_ms"`

	// MaxSilenceMs caps interior pauses. Absent means 2000; an explicit 0
	// disables splicing.
	MaxSilenceMs *int `yaml:"max_silence_ms" toml:"max_silence_ms"`

	// PreRollMs and PostRollMs are the margins kept around trimmed speech.
	// An explicit 0 keeps no margin.
	PreRollMs  *int `yaml:"pre_roll_ms" toml:"pre_roll_ms"`
	PostRollMs *int `yaml:"post_roll_ms" toml:"post_roll_ms"`

	// PreRollBufferMs caps the audio retained before speech onset. Defaults
	// to PreRollMs.
	PreRollBufferMs int `yaml:"pre_roll_buffer_ms" toml:"pre_roll_buffer_ms"`

	// AutoSendDelayMs is the auto-mode countdown after speech ends. It must
	// be positive in auto mode.
	AutoSendDelayMs *int `yaml:"auto_send_delay_ms" toml:"auto_send_delay_ms"`
}

// VADConfig selects the voice activity detection engine.
type VADConfig struct {
	// Name selects the registered engine ("webrtc" or "energy").
	Name string `yaml:"name" toml:"name"`

	// Fallback names an engine that creates sessions while Name keeps
	// failing. Empty disables the fallback.
	Fallback string `yaml:"fallback" toml:"fallback"`

	// Aggressiveness tunes non-speech filtering in [0, 3].
	Aggressiveness int `yaml:"aggressiveness" toml:"aggressiveness"`

	// Options holds engine-specific values (e.g., "floor" and "ceiling" for
	// the energy engine).
	Options map[string]any `yaml:"options" toml:"options"`
}

// SourceConfig selects the audio input.
type SourceConfig struct {
	// Name selects the registered source ("portaudio" or "wavfile").
	Name string `yaml:"name" toml:"name"`

	// Device is the input device name for portaudio. Empty uses the default.
	Device string `yaml:"device" toml:"device"`

	// FramesPerBuffer is the portaudio read size.
	FramesPerBuffer int `yaml:"frames_per_buffer" toml:"frames_per_buffer"`

	// Path is the file replayed by the wavfile source.
	Path string `yaml:"path" toml:"path"`

	// Realtime paces wavfile replay at playback speed.
	Realtime bool `yaml:"realtime" toml:"realtime"`
}

// SinkEntry configures one destination for finished utterances.
type SinkEntry struct {
	// Name selects the registered sink ("file" or "log").
	Name string `yaml:"name" toml:"name"`

	// Dir is the output directory of the file sink.
	Dir string `yaml:"dir" toml:"dir"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the OpenTelemetry service name.
	ServiceName string `yaml:"service_name" toml:"service_name"`

	// DisableMetrics turns off the Prometheus exporter and /metrics.
	DisableMetrics bool `yaml:"disable_metrics" toml:"disable_metrics"`
}
