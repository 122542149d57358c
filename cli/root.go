// Package cli holds the edmo-pose command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/maastricht-university/edmo-pose/config"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree. Subcommands load configuration
// lazily so that `--help` works without a config file.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "edmo-pose",
		Short:         "Pace pose landmarks from a camera into the EDMO engine bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "config file (default config/$CONFIG_ENV/config.yaml)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override pipeline.log_level")

	root.AddCommand(
		newRunCmd(f),
		newProfilesCmd(f),
		newAnglesCmd(),
		newConfigCmd(f),
	)
	return root
}

func (f *rootFlags) load() (*config.Root, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Pipeline.LogLvl = f.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
