package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Changes under RestartRequired cannot be applied to a running server.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptureChanged is true if any capture tuning value changed. Open
	// sessions apply the change at their next start.
	CaptureChanged bool

	// VADChanged is true if the VAD engine selection or its options changed.
	VADChanged bool

	// SourceChanged is true if the audio input selection changed.
	SourceChanged bool

	// SinksChanged is true if the sink list changed.
	SinksChanged bool

	// RestartRequired lists changed keys that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether no change was detected.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CaptureChanged && !d.VADChanged &&
		!d.SourceChanged && !d.SinksChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	d.CaptureChanged = !captureEqual(old.Capture, new.Capture)
	d.VADChanged = old.VAD.Name != new.VAD.Name ||
		old.VAD.Fallback != new.VAD.Fallback ||
		old.VAD.Aggressiveness != new.VAD.Aggressiveness ||
		!maps.EqualFunc(old.VAD.Options, new.VAD.Options, func(a, b any) bool { return reflect.DeepEqual(a, b) })
	d.SourceChanged = old.Source != new.Source
	d.SinksChanged = !slices.Equal(old.Sinks, new.Sinks)

	return d
}

// captureEqual compares capture configs by value, following pointers.
func captureEqual(a, b CaptureConfig) bool {
	return reflect.DeepEqual(a, b)
}
