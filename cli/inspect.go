package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maastricht-university/edmo-pose/pose"
)

func newProfilesCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the performance profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCOMPLEXITY\tCAPTURE FPS\tDISPATCH FPS")
			for _, name := range cfg.Profiles.Names() {
				p := cfg.Profiles[name]
				mark := ""
				if name == cfg.PerformanceMode {
					mark = " *"
				}
				fmt.Fprintf(tw, "%s%s\t%d\t%g\t%g\n", name, mark, p.Complexity, p.CaptureRate, p.DispatchRate)
			}
			return tw.Flush()
		},
	}
}

func newAnglesCmd() *cobra.Command {
	var flip bool
	cmd := &cobra.Command{
		Use:   "angles <frame.json>",
		Short: "Print the arm angles and engine payload for a saved pose frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var frame pose.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				return fmt.Errorf("decode frame %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if a, ok := pose.ComputeArmAngles(frame.Landmarks); ok {
				fmt.Fprintf(out, "left elbow      %6.1f\n", a.LeftElbow)
				fmt.Fprintf(out, "right elbow     %6.1f\n", a.RightElbow)
				fmt.Fprintf(out, "left shoulder   %6.1f\n", a.LeftShoulder)
				fmt.Fprintf(out, "right shoulder  %6.1f\n", a.RightShoulder)
			} else {
				fmt.Fprintf(out, "no arm angles: %d image landmarks\n", len(frame.Landmarks))
			}

			p, ok := pose.BuildPayload(frame, flip)
			if !ok {
				return fmt.Errorf("frame has no world landmarks")
			}
			payload, err := pose.JSON.Marshal(p)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(payload))
			return nil
		},
	}
	cmd.Flags().BoolVar(&flip, "flip", true, "negate world x and y as the engine expects")
	return cmd
}

func newConfigCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}
