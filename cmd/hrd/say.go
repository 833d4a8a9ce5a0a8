package main

import (
	"context"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-hrd/pkg/bridge"
	"github.com/teslashibe/go-hrd/pkg/protocol"
	"github.com/teslashibe/go-hrd/pkg/speech"
)

func sayCmd() *cobra.Command {
	var (
		url        string
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Send a final utterance as if recognized from speech",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = "http://localhost" + cfg.Server.Addr
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			peer, err := bridge.Dial(ctx, url, protocol.TopicUtterances)
			if err != nil {
				return err
			}
			defer peer.Close()

			u := speech.Utterance{Text: strings.Join(args, " "), Confidence: confidence, Final: true}
			if err := peer.SendPayload(u, time.Now()); err != nil {
				return err
			}
			color.New(color.FgCyan).Println(u.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "bridge URL (default http://localhost<server.addr>)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.95, "recognizer confidence")
	return cmd
}
