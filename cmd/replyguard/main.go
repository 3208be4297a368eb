package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"replyguard/internal/config"
)

// Set via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "replyguard",
		Short:         "Per-user reply cooldown for chatbot fallback messages",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml or json); defaults to $"+config.EnvConfigPath)
	root.AddCommand(newServeCmd(), newCheckHoursCmd())
	return root
}

// loadConfig returns a file-backed manager when a path is known, otherwise the defaults.
func loadConfig() (*config.Manager, error) {
	path := config.ResolvePath(cfgFile)
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	m, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return m, nil
}
