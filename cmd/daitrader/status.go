package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/daitrader/internal/adapters/dashboard"
	"github.com/alejandrodnm/daitrader/internal/adapters/notify"
	"github.com/alejandrodnm/daitrader/internal/application/funds"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the reconciled funds view and the supervised units",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		svc := funds.NewService(store, store, fundsOptions(cfg), cfg.StreamingEnabled())
		res, readErr := svc.Current(ctx)

		if statusJSON {
			doc := dashboard.BuildDocument(res, readErr, cfg.Mode(), venueConfigured(cfg), time.Now())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		if readErr != nil {
			return readErr
		}

		units, err := store.ListUnits(ctx)
		if err != nil {
			return err
		}
		return notify.NewConsoleWriter(cmd.OutOrStdout()).NotifyStatus(ctx, &res.View, res.Snapshot, units)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the dashboard funds document instead of tables")
	rootCmd.AddCommand(statusCmd)
}
