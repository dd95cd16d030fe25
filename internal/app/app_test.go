package app_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/sink"
	sinkmock "github.com/MrWong99/voxgate/internal/sink/mock"
	"github.com/MrWong99/voxgate/pkg/audio"
	audiomock "github.com/MrWong99/voxgate/pkg/audio/mock"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxgate/pkg/provider/vad/mock"
)

func testProviders() (*app.Providers, *sinkmock.Sink) {
	out := &sinkmock.Sink{}
	return &app.Providers{
		VAD:    &vadmock.Engine{},
		Source: &audiomock.Source{DevicesResult: []audio.Device{{Name: "mic", MaxInputChannels: 1}}},
		Sinks:  []sink.Sink{out},
	}, out
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	if _, err := app.New(config.Default(), &app.Providers{}, nil); err == nil {
		t.Error("New accepted providers without VAD and source")
	}
}

func TestNew_RejectsUnusableCapture(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Capture.Mode = "walkie"
	providers, _ := testProviders()
	if _, err := app.New(cfg, providers, nil); err == nil {
		t.Error("New accepted an invalid capture mode")
	}
}

func TestCaptureConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	got := app.CaptureConfig(cfg)
	if got.Mode != capture.ModeAuto || got.SampleRate != 16000 || got.FrameDuration != 20*time.Millisecond {
		t.Errorf("basics = %s/%d/%s", got.Mode, got.SampleRate, got.FrameDuration)
	}
	if got.Detector.MinSpeechFrames != 10 || got.Detector.RedemptionFrames != 15 {
		t.Errorf("frames = %d/%d, want 10/15", got.Detector.MinSpeechFrames, got.Detector.RedemptionFrames)
	}
	if d := got.Detector.NegativeThreshold - 0.35; d > 1e-9 || d < -1e-9 {
		t.Errorf("negative threshold = %g, want 0.35", got.Detector.NegativeThreshold)
	}
	if got.Pipeline.Splice.MaxSilence != 2*time.Second {
		t.Errorf("max silence = %s, want 2s", got.Pipeline.Splice.MaxSilence)
	}
	if got.Pipeline.Trim.PostRoll != 200*time.Millisecond || got.PreRollBuffer != 300*time.Millisecond {
		t.Errorf("post roll = %s, pre-roll buffer = %s", got.Pipeline.Trim.PostRoll, got.PreRollBuffer)
	}
	if got.AutoSendDelay != 1500*time.Millisecond {
		t.Errorf("auto send delay = %s, want 1.5s", got.AutoSendDelay)
	}

	zero := 0
	cfg.Capture.MaxSilenceMs = &zero
	if got := app.CaptureConfig(cfg); got.Pipeline.Splice.MaxSilence != 0 {
		t.Errorf("explicit zero max silence = %s, want splicing disabled", got.Pipeline.Splice.MaxSilence)
	}
	cfg.Capture.PreRollMs = &zero
	cfg.Capture.PostRollMs = &zero
	if got := app.CaptureConfig(cfg).Pipeline.Trim; got.PreRoll != 0 || got.PostRoll != 0 {
		t.Errorf("explicit zero margins = %s/%s, want none", got.PreRoll, got.PostRoll)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	var built []string
	reg := config.NewRegistry()
	reg.RegisterVAD("energy", func(c config.VADConfig) (vad.Engine, error) {
		built = append(built, c.Name)
		return &vadmock.Engine{}, nil
	})

	level := new(slog.LevelVar)
	providers, _ := testProviders()
	old := config.Default()
	a, err := app.New(old, providers, nil, app.WithRegistry(reg), app.WithLogLevel(level))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitReady(t, a.Manager())

	if _, err := a.Manager().Open("desk"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	next := config.Default()
	next.Server.LogLevel = config.LogDebug
	next.Capture.Mode = config.ModeManual
	next.VAD.Name = "energy"
	a.ApplyConfig(old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %s, want debug", level.Level())
	}
	if len(built) != 1 || built[0] != "energy" {
		t.Errorf("vad engines built = %v, want [energy]", built)
	}
	if infos := a.Manager().Sessions(); len(infos) != 1 || infos[0].Mode != capture.ModeManual {
		t.Errorf("sessions = %+v, want desk in manual mode", infos)
	}
	if a.Config() != next {
		t.Error("Config() does not return the applied config")
	}
}

func waitReady(t *testing.T, sm *app.SessionManager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sm.Check(context.Background()) != nil {
		if time.Now().After(deadline) {
			t.Fatal("session manager never became ready")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestApp_Checkers(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Sinks = []config.SinkEntry{
		{Name: "file", Dir: t.TempDir()},
		{Name: "file", Dir: filepath.Join(t.TempDir(), "missing")},
		{Name: "log"},
	}
	providers, _ := testProviders()
	a, err := app.New(cfg, providers, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results := map[string]error{}
	for _, c := range a.Checkers() {
		results[c.Name] = c.Check(context.Background())
	}
	if len(results) != 5 {
		t.Fatalf("checkers = %v, want sessions, audio_source, two sink dirs and one sink circuit", results)
	}
	if err := results["sink_circuit:sinks[0]"]; err != nil {
		t.Errorf("sink circuit check = %v, want nil", err)
	}
	if !errors.Is(results["sessions"], app.ErrNotRunning) {
		t.Errorf("sessions check = %v, want ErrNotRunning before Run", results["sessions"])
	}
	if results["audio_source"] != nil {
		t.Errorf("audio_source check = %v, want nil", results["audio_source"])
	}
	if err := results["sink:"+cfg.Sinks[0].Dir]; err != nil {
		t.Errorf("writable sink dir check = %v", err)
	}
	if err := results["sink:"+cfg.Sinks[1].Dir]; err == nil {
		t.Error("missing sink dir reported healthy")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()
	providers, out := testProviders()
	a, err := app.New(config.Default(), providers, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
	if out.CloseCalls() != 1 {
		t.Errorf("sink closes = %d, want 1", out.CloseCalls())
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := app.SlogLevel(tc.in); got != tc.want {
			t.Errorf("SlogLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
