package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alejandrodnm/daitrader/internal/adapters/notify"
	"github.com/alejandrodnm/daitrader/internal/domain"
)

var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "Queue and list trade intents for the next cycle",
}

var intentFlags struct {
	symbol string
	side   string
	qty    float64
	limit  float64
	amount float64
	reason string
	n      int
}

var intentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a trade intent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		side, ok := domain.ParseSide(intentFlags.side)
		if !ok {
			return fmt.Errorf("--side must be buy or sell, got %q", intentFlags.side)
		}
		symbol := strings.ToUpper(strings.TrimSpace(intentFlags.symbol))
		if symbol == "" {
			return errors.New("--symbol is required")
		}
		if intentFlags.qty <= 0 && intentFlags.amount <= 0 {
			return errors.New("one of --qty or --amount must be positive")
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		in := domain.TradeIntent{
			ID:         uuid.NewString(),
			Symbol:     symbol,
			Side:       side,
			Quantity:   intentFlags.qty,
			LimitPrice: intentFlags.limit,
			AmountUSD:  intentFlags.amount,
			Reason:     intentFlags.reason,
			CreatedAt:  time.Now().UTC(),
			Status:     domain.IntentPending,
		}
		if err := store.EnqueueIntent(cmd.Context(), in); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s %s\n", in.ID, in.Side, in.Symbol)
		return nil
	},
}

var intentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent intents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		intents, err := store.ListIntents(cmd.Context(), intentFlags.n)
		if err != nil {
			return err
		}
		notify.NewConsoleWriter(cmd.OutOrStdout()).PrintIntents(intents)
		return nil
	},
}

func init() {
	f := intentAddCmd.Flags()
	f.StringVar(&intentFlags.symbol, "symbol", "", "ticker symbol")
	f.StringVar(&intentFlags.side, "side", "buy", "buy|sell")
	f.Float64Var(&intentFlags.qty, "qty", 0, "share quantity")
	f.Float64Var(&intentFlags.limit, "limit", 0, "limit price (0 = market)")
	f.Float64Var(&intentFlags.amount, "amount", 0, "dollar amount, used when qty is not set")
	f.StringVar(&intentFlags.reason, "reason", "", "free-text rationale stored with the intent")
	_ = intentAddCmd.MarkFlagRequired("symbol")

	intentListCmd.Flags().IntVarP(&intentFlags.n, "limit", "n", 50, "number of intents to show")

	intentCmd.AddCommand(intentAddCmd, intentListCmd)
	rootCmd.AddCommand(intentCmd)
}
