package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"segchain/internal/admin"
	"segchain/internal/driver"
	"segchain/internal/logging"
)

var (
	simListen    string
	simHeartbeat string
	simTick      time.Duration
	simAdmin     string
	simSeed      int64
)

var driveSimCmd = &cobra.Command{
	Use:   "drive-sim",
	Short: "Run a simulated motor driver",
	Long:  "drive-sim answers configure and drive requests and publishes heartbeats; chaos mode is toggled over the admin endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.New(logLevel)
		sim := driver.NewSim(driver.SimConfig{
			Listen:    simListen,
			Heartbeat: simHeartbeat,
			Tick:      simTick,
			Seed:      simSeed,
		}, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sim.Run(ctx) })
		if simAdmin != "" {
			srv := admin.NewServer(admin.Options{
				Node:   "drive-sim",
				Status: func() any { return sim.Stats() },
				Chaos:  sim,
				Logger: logger,
			})
			g.Go(func() error { return srv.Run(ctx, simAdmin) })
		}
		err := g.Wait()
		logger.Info("drive-sim stopped")
		return err
	},
}

func init() {
	driveSimCmd.Flags().StringVar(&simListen, "listen", ":5555", "Request listen address")
	driveSimCmd.Flags().StringVar(&simHeartbeat, "heartbeat", "127.0.0.1:5556", "UDP destination for heartbeats")
	driveSimCmd.Flags().DurationVar(&simTick, "tick", 20*time.Millisecond, "Heartbeat and physics period")
	driveSimCmd.Flags().StringVar(&simAdmin, "admin", ":8081", "Admin listen address (empty disables)")
	driveSimCmd.Flags().Int64Var(&simSeed, "seed", 0, "Chaos random seed (0 = time based)")
}
