package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.design/x/hotkey"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/config"
)

// stopTimeout bounds the final Stop that flushes captured speech on exit.
const stopTimeout = 10 * time.Second

type captureFlags struct {
	session string
	mode    string
	device  string
	file    string
	outDir  string
}

func newCaptureCmd(opts *rootOptions) *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture utterances interactively in one session",
		Long: `Runs a single capture session in the terminal.

  auto    starts listening immediately; Ctrl+C ends
  manual  Enter starts and stops an utterance
  ptt     hold Ctrl+Shift+Space to talk

Finished utterances go to the configured sinks, or to --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapture(cmd.Context(), opts, f, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&f.session, "session", "cli", "session id")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "", "override capture.mode (auto, manual, ptt)")
	cmd.Flags().StringVar(&f.device, "device", "", "override source.device")
	cmd.Flags().StringVar(&f.file, "file", "", "replay a WAV file instead of using the microphone")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "write utterances to this directory instead of the configured sinks")
	return cmd
}

// apply folds the command-line overrides into cfg and revalidates it.
func (f captureFlags) apply(cfg *config.Config) error {
	if f.mode != "" {
		cfg.Capture.Mode = config.Mode(f.mode)
	}
	if f.device != "" {
		cfg.Source.Name = "portaudio"
		cfg.Source.Device = f.device
	}
	if f.file != "" {
		cfg.Source.Name = "wavfile"
		cfg.Source.Path = f.file
		cfg.Source.Realtime = true
	}
	if f.outDir != "" {
		cfg.Sinks = []config.SinkEntry{{Name: "file", Dir: f.outDir}, {Name: "log"}}
	}
	return config.Validate(cfg)
}

func runCapture(ctx context.Context, opts *rootOptions, f captureFlags, stdin io.Reader) error {
	cfg, _, err := opts.loadConfig(false)
	if err != nil {
		return err
	}
	if err := f.apply(cfg); err != nil {
		return err
	}

	reg := config.NewRegistry()
	registerBuiltins(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	application, err := app.New(cfg, providers, nil)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	// The session outlives ctx so that a final Stop can flush it.
	runCtx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- application.Run(runCtx) }()
	defer func() {
		cancelRun()
		<-runDone
	}()

	sess, err := openWhenReady(ctx, application.Manager(), f.session)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := sess.Stop(sctx); err != nil && !errors.Is(err, capture.ErrClosed) {
			slog.Warn("final stop failed", "err", err)
		}
	}()

	c := &controller{sess: sess, mode: capture.Mode(cfg.Capture.Mode), replay: cfg.Source.Name == "wavfile"}
	switch c.mode {
	case capture.ModeAuto:
		if err := sess.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "listening; press Ctrl+C to quit")
	case capture.ModeManual:
		c.toggles = readLines(ctx, stdin)
		fmt.Fprintln(os.Stderr, "press Enter to start and stop an utterance; Ctrl+C to quit")
	case capture.ModePTT:
		hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace)
		if err := hk.Register(); err != nil {
			return fmt.Errorf("register push-to-talk hotkey: %w (try --mode manual)", err)
		}
		defer func() { _ = hk.Unregister() }()
		c.down, c.up = hk.Keydown(), hk.Keyup()
		fmt.Fprintln(os.Stderr, "hold Ctrl+Shift+Space to talk; Ctrl+C to quit")
	}
	return c.loop(ctx)
}

// openWhenReady opens the session once the manager accepts sessions.
func openWhenReady(ctx context.Context, sm *app.SessionManager, id string) (*capture.Session, error) {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		s, err := sm.Open(id)
		if !errors.Is(err, app.ErrNotRunning) {
			return s, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}

// controller drives one session from terminal input.
type controller struct {
	sess   *capture.Session
	mode   capture.Mode
	replay bool

	toggles <-chan struct{}
	down    <-chan hotkey.Event
	up      <-chan hotkey.Event
}

func (c *controller) loop(ctx context.Context) error {
	updates, unsubscribe := c.sess.Subscribe()
	defer unsubscribe()

	last := capture.Idle
	for {
		select {
		case <-ctx.Done():
			return nil

		case _, ok := <-c.toggles:
			if !ok {
				c.toggles = nil
				continue
			}
			if c.sess.Snapshot().IsRecording {
				c.stop(ctx)
			} else {
				c.start(ctx)
			}

		case <-c.down:
			c.start(ctx)

		case <-c.up:
			c.stop(ctx)

		case snap, ok := <-updates:
			if !ok {
				return errors.New("capture session ended")
			}
			if snap.State != last {
				slog.Info("state", "from", last, "to", snap.State)
				last = snap.State
			}
			if c.mode == capture.ModeAuto && snap.State == capture.Idle && snap.LastError != nil {
				if c.replay && errors.Is(snap.LastError, capture.ErrDeviceLost) {
					slog.Info("replay finished")
					return nil
				}
				return snap.LastError
			}
		}
	}
}

func (c *controller) start(ctx context.Context) {
	err := c.sess.Start(ctx)
	switch {
	case err == nil, errors.Is(err, capture.ErrActive):
	default:
		slog.Error("start failed", "err", err)
	}
}

func (c *controller) stop(ctx context.Context) {
	if err := c.sess.Stop(ctx); err != nil {
		slog.Error("stop failed", "err", err)
	}
}

// readLines signals once per line read from r and closes the channel at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
