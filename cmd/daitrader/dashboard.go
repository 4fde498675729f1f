package main

import (
	"github.com/spf13/cobra"

	"github.com/alejandrodnm/daitrader/config"
	"github.com/alejandrodnm/daitrader/internal/adapters/dashboard"
	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/observ"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the read-only funds API from the shared store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		svc := funds.NewService(store, store, fundsOptions(cfg), cfg.StreamingEnabled())
		srv := dashboard.NewServer(dashboardConfig(cfg), svc, observ.NewMetrics())
		return srv.Run(cmd.Context())
	},
}

// dashboardConfig reporta disabled mientras no haya integración con el venue.
func dashboardConfig(c *config.Config) dashboard.Config {
	return dashboard.Config{
		Addr:    c.Dashboard.Addr,
		Mode:    c.Mode(),
		Enabled: venueConfigured(c),
	}
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
