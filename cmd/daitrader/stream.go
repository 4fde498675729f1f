package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/daitrader/internal/adapters/tokenfile"
	"github.com/alejandrodnm/daitrader/internal/application/streaming"
	"github.com/alejandrodnm/daitrader/internal/observ"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the streaming helper: activity stream, snapshot polling and shadow ledger",
	RunE:  runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// el helper solo lee el token; el supervisor es quien lo renueva
	client := newClient(cfg, tokenfile.New(cfg.Auth.TokenFile))
	metrics := observ.NewMetrics()

	helper := streaming.New(store, client, activitySource(cfg, client), metrics, streaming.Config{
		PollInterval: cfg.PollInterval(),
		Window:       cfg.Stream.DedupeWindow,
		Funds:        fundsOptions(cfg),
	})

	if cfg.Stream.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Stream.MetricsAddr, metrics)
	}

	slog.Info("stream helper starting",
		"transport", cfg.Stream.Transport,
		"streaming", cfg.StreamingEnabled(),
		"poll_interval", cfg.PollInterval(),
	)
	if err := helper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("stream helper stopped with error", "err", err)
		return err
	}
	slog.Info("stream helper stopped")
	return nil
}

func serveMetrics(ctx context.Context, addr string, metrics *observ.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "err", err)
	}
}
