package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
)

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltins(reg)
			src, err := reg.CreateSource(cfg.Source)
			if err != nil {
				return err
			}
			lister, ok := src.(audio.DeviceLister)
			if !ok {
				return fmt.Errorf("source %q cannot list devices", cfg.Source.Name)
			}
			devs, err := lister.Devices()
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), devs)
		},
	}
}

func printDevices(w io.Writer, devs []audio.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEFAULT\tNAME\tCHANNELS\tRATE")
	for _, d := range devs {
		mark := ""
		if d.IsDefault {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f\n", mark, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return tw.Flush()
}
