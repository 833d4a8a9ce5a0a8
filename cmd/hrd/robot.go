package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-hrd/pkg/bridge"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/robot"
	"github.com/teslashibe/go-hrd/pkg/session"
	"github.com/teslashibe/go-hrd/pkg/stream"
)

// echoAcks prints every acknowledgement before sending it.
type echoAcks struct {
	robot.AckSender
	mu sync.Mutex
}

func (e *echoAcks) SendAck(done bool, origin time.Time) error {
	e.mu.Lock()
	color.New(color.FgMagenta).Printf("  isDone=%v (origin %d)\n", done, origin.UnixMicro())
	e.mu.Unlock()
	return e.AckSender.SendAck(done, origin)
}

func robotSimCmd() *cobra.Command {
	var (
		url    string
		motion time.Duration
	)

	cmd := &cobra.Command{
		Use:   "robot-sim",
		Short: "Simulate the robot controller",
		Long: `robot-sim subscribes to commands, plays each one on a simulated arm and
acknowledges completion on isDone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = "http://localhost" + cfg.Server.Addr
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			commands, err := bridge.Dial(ctx, url, protocol.TopicCommands)
			if err != nil {
				return err
			}
			defer commands.Close()
			done, err := bridge.Dial(ctx, url, protocol.TopicDone)
			if err != nil {
				return err
			}
			defer done.Close()

			fmt.Printf("robot-sim connected to %s (motion %s)\n", url, motion)
			ctrl := robot.NewController(robot.NewSimArm(motion), &echoAcks{AckSender: robot.AcksTo(done)})

			echo := color.New(color.FgYellow, color.Bold)
			cmds := stream.Map(ctx, robot.Commands(ctx, commands.Messages(ctx)), func(s stream.Sample[session.Command]) session.Command {
				echo.Printf("> %s\n", s.Value)
				return s.Value
			})
			ctrl.Run(ctx, cmds)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "bridge URL (default http://localhost<server.addr>)")
	cmd.Flags().DurationVar(&motion, "motion", robot.DefaultMotion, "duration of one simulated motion")
	return cmd
}
