package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-hrd/pkg/app"
)

func runCmd() *cobra.Command {
	var activeDetection bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interaction session",
		Long: `Run serves the collaborator topics and the operator API, and runs the
session until SIGINT, SIGTERM or POST /api/stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("active-detection") {
				cfg.Session.ActiveDetection = activeDetection
			}

			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := a.Init(ctx); err != nil {
				return err
			}
			defer a.Shutdown()

			mode := "verbal only"
			if cfg.Session.ActiveDetection {
				mode = "active detection"
			}
			color.New(color.FgGreen, color.Bold).Printf("hrd %s listening on %s (%s)\n", version, cfg.Server.Addr, mode)
			return a.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&activeDetection, "active-detection", false, "raise queries on classifier verdicts")
	return cmd
}
