package app_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxgate/pkg/provider/vad/mock"
)

func TestBuildVAD(t *testing.T) {
	t.Parallel()

	errRate := errors.New("unsupported sample rate")
	primary := &vadmock.Engine{NewSessionErr: errRate}
	fallback := &vadmock.Engine{}
	reg := config.NewRegistry()
	reg.RegisterVAD("webrtc", func(config.VADConfig) (vad.Engine, error) { return primary, nil })
	reg.RegisterVAD("energy", func(c config.VADConfig) (vad.Engine, error) {
		if c.Fallback != "" {
			t.Errorf("fallback engine built with fallback %q", c.Fallback)
		}
		return fallback, nil
	})

	t.Run("primary only", func(t *testing.T) {
		e, err := app.BuildVAD(reg, config.VADConfig{Name: "webrtc"})
		if err != nil {
			t.Fatalf("BuildVAD: %v", err)
		}
		if e != vad.Engine(primary) {
			t.Error("engine without a fallback should be returned unwrapped")
		}
	})

	t.Run("with fallback", func(t *testing.T) {
		e, err := app.BuildVAD(reg, config.VADConfig{Name: "webrtc", Fallback: "energy"})
		if err != nil {
			t.Fatalf("BuildVAD: %v", err)
		}
		if _, ok := e.(*resilience.VADFallback); !ok {
			t.Fatalf("engine = %T, want *resilience.VADFallback", e)
		}
		if _, err := e.NewSession(vad.Config{SampleRate: 22050, FrameSizeMs: 20}); err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if len(fallback.Calls()) != 1 {
			t.Errorf("fallback calls = %d, want 1", len(fallback.Calls()))
		}
	})

	t.Run("unknown fallback", func(t *testing.T) {
		if _, err := app.BuildVAD(reg, config.VADConfig{Name: "webrtc", Fallback: "silero"}); err == nil {
			t.Error("unknown fallback engine was accepted")
		}
	})
}
