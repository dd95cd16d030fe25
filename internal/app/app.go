// Package app wires the voxgate subsystems into a running application.
//
// The App struct owns the full lifecycle: New validates the config and builds
// the session manager, Run hosts capture sessions until its context is
// cancelled, ApplyConfig applies hot-reloaded config, and Shutdown releases
// the sinks.
//
// Components come in through [Providers], built by main.go from the config
// registry. Tests inject mocks the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// Providers holds the components sessions are built from. Populated by
// main.go via the config registry.
type Providers struct {
	VAD    vad.Engine
	Source audio.Source
	Sinks  []sink.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	manager   *SessionManager
	registry  *config.Registry
	level     *slog.LevelVar
	guards    []*resilience.SinkGuard
	sink      sink.Sink

	mu  sync.Mutex
	cfg *config.Config

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry lets ApplyConfig rebuild the VAD engine and audio source when
// their config changes.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogLevel lets ApplyConfig change the level of the process logger.
func WithLogLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.level = l }
}

// New creates an App from cfg and providers. cfg must have defaults applied.
// captureOpts are passed to every capture session.
func New(cfg *config.Config, providers *Providers, captureOpts []capture.Option, opts ...Option) (*App, error) {
	if providers == nil || providers.VAD == nil || providers.Source == nil {
		return nil, errors.New("app: a VAD engine and an audio source are required")
	}
	a := &App{
		providers: providers,
		cfg:       cfg,
	}
	guarded := make([]sink.Sink, len(providers.Sinks))
	for i, s := range providers.Sinks {
		g := resilience.GuardSink(s, resilience.BreakerConfig{Name: fmt.Sprintf("sinks[%d]", i)})
		a.guards = append(a.guards, g)
		guarded[i] = g
	}
	a.sink = sink.Multi(guarded)
	for _, o := range opts {
		o(a)
	}

	cc := CaptureConfig(cfg)
	if err := cc.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.manager = NewSessionManager(SessionManagerConfig{
		Capture: cc,
		Source:  providers.Source,
		VAD:     providers.VAD,
		Sink:    a.sink,
		Options: captureOpts,
	})
	return a, nil
}

// Manager returns the session manager.
func (a *App) Manager() *SessionManager { return a.manager }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Run hosts capture sessions and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running",
		"mode", a.Config().Capture.Mode,
		"vad", a.Config().VAD.Name,
		"source", a.Config().Source.Name,
		"sinks", len(a.providers.Sinks),
	)
	return a.manager.Run(ctx)
}

// Checkers returns the readiness checks for the running app: the session
// manager, the audio device when the source can list devices, every file
// sink directory and every sink circuit breaker.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{{Name: "sessions", Check: a.manager.Check}}
	if lister, ok := a.providers.Source.(audio.DeviceLister); ok {
		checks = append(checks, health.Checker{
			Name: "audio_source",
			Check: func(context.Context) error {
				devs, err := lister.Devices()
				if err != nil {
					return err
				}
				if len(devs) == 0 {
					return errors.New("no input devices")
				}
				return nil
			},
		})
	}
	for _, s := range a.Config().Sinks {
		if s.Name == "file" {
			checks = append(checks, health.DirWritable("sink:"+s.Dir, s.Dir))
		}
	}
	for _, g := range a.guards {
		checks = append(checks, health.Checker{Name: "sink_circuit:" + g.Name(), Check: g.Check})
	}
	return checks
}

// ApplyConfig applies a reloaded config. It is the callback handed to
// [config.NewWatcher]. Changes that need a restart are logged and ignored.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}
	ctx := context.Background()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	// Aggressiveness reaches sessions through the capture config; the
	// engine itself is rebuilt only when its selection or options change.
	if old.VAD.Name != next.VAD.Name || old.VAD.Fallback != next.VAD.Fallback ||
		!reflect.DeepEqual(old.VAD.Options, next.VAD.Options) {
		a.swapVAD(ctx, next.VAD)
	}
	if d.SourceChanged {
		a.swapSource(ctx, next.Source)
	}
	if d.SinksChanged {
		d.RestartRequired = append(d.RestartRequired, "sinks")
	}

	if d.CaptureChanged || d.VADChanged {
		if err := a.manager.Reconfigure(ctx, CaptureConfig(next)); err != nil {
			slog.Error("failed to apply capture config", "err", err)
			return
		}
		slog.Info("capture config reloaded", "mode", next.Capture.Mode)
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()
}

func (a *App) swapVAD(ctx context.Context, cfg config.VADConfig) {
	if a.registry == nil {
		slog.Warn("vad engine changed but no registry is available; restart required")
		return
	}
	e, err := BuildVAD(a.registry, cfg)
	if err != nil {
		slog.Error("failed to rebuild vad engine", "name", cfg.Name, "err", err)
		return
	}
	n, err := a.manager.SetVAD(ctx, e)
	if err != nil {
		slog.Error("failed to hand vad engine to open sessions", "err", err)
	}
	slog.Info("vad engine replaced; open sessions switch at their next start",
		"name", cfg.Name,
		"fallback", cfg.Fallback,
		"sessions", n,
	)
}

func (a *App) swapSource(ctx context.Context, cfg config.SourceConfig) {
	if a.registry == nil {
		slog.Warn("audio source changed but no registry is available; restart required")
		return
	}
	src, err := a.registry.CreateSource(cfg)
	if err != nil {
		slog.Error("failed to rebuild audio source", "name", cfg.Name, "err", err)
		return
	}
	n, err := a.manager.SetSource(ctx, src)
	if err != nil {
		slog.Error("failed to hand audio source to open sessions", "err", err)
	}
	slog.Info("audio source replaced; open sessions switch at their next start",
		"name", cfg.Name,
		"device", cfg.Device,
		"sessions", n,
	)
}

// Shutdown closes the sinks. Call it after Run has returned so that no
// session is still delivering. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sinks", len(a.providers.Sinks))
		done := make(chan error, 1)
		go func() { done <- a.sink.Close() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded")
			err = ctx.Err()
			return
		}
		slog.Info("shutdown complete")
	})
	return err
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
