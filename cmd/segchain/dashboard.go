package main

import (
	"github.com/spf13/cobra"

	"segchain/internal/config"
	"segchain/internal/dashboard"
)

var (
	dashOut    string
	dashConfig string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for recorded safety data",
	Long:  "dashboard writes Grafana dashboard JSON over the GreptimeDB tables; GREPTIMEDB_DATASOURCE_UID names the datasource.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := dashboard.DefaultParams()
		if dashConfig != "" {
			cfg, err := config.Load(dashConfig, "")
			if err != nil {
				return err
			}
			p.Thresholds = cfg.Relay.Thresholds
		}
		return dashboard.Render(dashOut, p)
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashOut, "out", "build", "Output directory")
	dashboardCmd.Flags().StringVar(&dashConfig, "config", "", "Segment config to take relay thresholds from")
	rootCmd.AddCommand(dashboardCmd)
}
