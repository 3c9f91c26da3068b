// Command cadence serves and runs presentation analyses.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/cadence/internal/config"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "cadence",
		Short:         "Presentation analysis engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file (default config/$CONFIG_ENV/config.yaml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level")

	cmd.AddCommand(newServeCmd(flags), newAnalyzeCmd(flags), newConfigCmd(flags))
	return cmd
}

// load reads the configuration and builds the logger shared by subcommands.
func (f *rootFlags) load() (config.Root, *logrus.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Root{}, nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	log, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return config.Root{}, nil, err
	}
	return cfg, log, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cadence:", err)
		os.Exit(1)
	}
}
