package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"segchain/internal/config"
	"segchain/internal/record"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayGreptime  string
	replayNode      string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded safety log",
	Long:  "replay feeds safety rows from a JSONL recording back into GreptimeDB or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		cfg := &config.Config{}
		cfg.Record.Greptime.Endpoint = replayGreptime
		config.Normalize(cfg)
		writer, _, cleanup, err := newRecorder(cfg, replayPrintOnly, false)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		p := record.Player{Speed: replaySpeed, Node: replayNode}
		n, err := p.PlayFile(ctx, replayInput, writer)
		fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d rows from %s\n", n, replayInput)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to safety log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 for no delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print rows to STDOUT instead of writing to GreptimeDB")
	replayCmd.Flags().StringVar(&replayGreptime, "greptime", "", "GreptimeDB endpoint (host[:port])")
	replayCmd.Flags().StringVar(&replayNode, "node", "", "Replay only rows of this node")
	replayCmd.MarkFlagRequired("input")
}
