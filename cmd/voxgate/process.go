package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/internal/utterance"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/wavfile"
)

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "process <file.wav>...",
		Short: "Trim and splice the silence of recorded WAV files",
		Long: `Runs the finalize pipeline over whole WAV files: segmentation, silence
trimming, silence splicing, and encoding. Each input yields <id>.wav and
<id>.json in the output directory; the metadata is also printed to stdout.
Inputs are downmixed and resampled to capture.sample_rate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), opts, outDir, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}

func runProcess(ctx context.Context, opts *rootOptions, outDir string, paths []string, stdout io.Writer) error {
	cfg, _, err := opts.loadConfig(false)
	if err != nil {
		return err
	}
	pipeline := app.CaptureConfig(cfg).Pipeline
	rate := cfg.Capture.SampleRate

	out, err := sink.NewFile(outDir)
	if err != nil {
		return err
	}
	defer out.Close()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	for _, path := range paths {
		buf, err := wavfile.ReadAll(ctx, path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		if buf.SampleRate != rate {
			buf = audio.Buffer{Samples: audio.Resample(buf.Samples, buf.SampleRate, rate), SampleRate: rate}
		}

		res := utterance.Process(buf, pipeline)
		if res.Empty() {
			slog.Warn("no speech found", "file", path, "duration", res.OriginalDuration)
			continue
		}
		if err := out.Deliver(ctx, sessionName(path), res); err != nil {
			return err
		}
		if err := enc.Encode(res.Metadata()); err != nil {
			return err
		}
		slog.Info("processed",
			"file", path,
			"id", res.ID,
			"original", res.OriginalDuration,
			"trimmed", res.TrimmedDuration,
			"removed", res.TrimmedSilence,
		)
	}
	return nil
}

// sessionName labels an offline run by its input file name.
func sessionName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
