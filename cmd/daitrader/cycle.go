package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/daitrader/internal/adapters/notify"
	"github.com/alejandrodnm/daitrader/internal/adapters/tokenfile"
	"github.com/alejandrodnm/daitrader/internal/application/cycle"
	"github.com/alejandrodnm/daitrader/internal/application/safety"
	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/observ"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one trading cycle over the pending intents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		mode := cfg.Mode()
		var orders ports.OrderExecutor
		if mode == domain.ModeLive {
			orders = newClient(cfg, tokenfile.New(cfg.Auth.TokenFile))
		}

		x := cycle.New(safety.New(), store, store, store, orders, observ.NewMetrics(), cycle.Config{
			Mode:       mode,
			Cap:        cfg.Trading.TradeCap,
			MaxIntents: cfg.Trading.MaxIntentsPerCycle,
		})
		res, err := x.Run(cmd.Context())
		if err != nil {
			slog.Error("cycle failed", "err", err, "trades_executed", res.State.TradesExecuted)
			return err
		}

		notify.NewConsole().PrintDecisions(res.State, res.Decisions)
		slog.Info("cycle finished",
			"cycle_id", res.State.CycleID,
			"mode", mode,
			"decisions", len(res.Decisions),
			"placed", res.Placed,
			"failed", res.Failed,
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}
