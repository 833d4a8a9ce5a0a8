// Command hrd runs a human-response robot error detection session and its
// companion tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-hrd/internal/config"
	hlog "github.com/teslashibe/go-hrd/internal/log"
)

var version = "0.1.0"

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "hrd",
		Short: "Human-response robot error detector",
		Long: `hrd fuses facial action units from two cameras, speech commands and a
remote error classifier into one decision loop that pauses, queries,
recovers and resumes a robot.

Collaborators (cameras, recognizer, classifier, robot) connect over
websocket topics at /ws/<topic>.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			hlog.Init(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config/$CONFIG_ENV/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(runCmd(), robotSimCmd(), sayCmd(), configCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hrd " + version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
