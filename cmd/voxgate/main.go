// Command voxgate captures microphone speech, trims its silence, and hands
// each finished utterance to the configured sinks as a WAV payload.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultConfigPath is read when --config is not given. Commands other than
// serve fall back to built-in defaults when it does not exist.
const defaultConfigPath = "voxgate.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string

	// level is the process log level; the config watcher adjusts it at
	// runtime.
	level *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{level: new(slog.LevelVar)}
	cmd := &cobra.Command{
		Use:   "voxgate",
		Short: "Speech capture gateway",
		Long: `voxgate listens to a microphone, detects speech, trims and splices the
silence around it, and delivers every utterance as a 16-bit mono WAV file.

Capture modes:
  auto    speech ends, a countdown runs, the utterance is sent
  manual  everything between start and stop is one utterance
  ptt     hold the hotkey to talk, release it to send`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(newLogger(opts.level))
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML config file (default "+defaultConfigPath+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newCaptureCmd(opts),
		newProcessCmd(opts),
		newDevicesCmd(opts),
	)
	return cmd
}

// loadConfig reads the config named by --config. Without the flag the
// default path is tried; when required is false a missing default file
// yields the built-in defaults.
func (o *rootOptions) loadConfig(required bool) (*config.Config, string, error) {
	path := o.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit && !required:
		slog.Debug("no config file, using defaults", "path", path)
		cfg, path = config.Default(), ""
	case errors.Is(err, os.ErrNotExist):
		return nil, "", fmt.Errorf("config file %q not found; see configs/example.yaml", path)
	default:
		return nil, "", err
	}

	if o.logLevel != "" {
		lvl := config.LogLevel(o.logLevel)
		if !lvl.IsValid() {
			return nil, "", fmt.Errorf("invalid --log-level %q", o.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	o.level.Set(app.SlogLevel(cfg.Server.LogLevel))
	return cfg, path, nil
}

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
