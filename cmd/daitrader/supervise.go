package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/application/supervisor"
	"github.com/alejandrodnm/daitrader/internal/observ"
)

// keepEvery es la frecuencia del keepalive del token. El access token dura
// 30 minutos; el manager lo renueva cuando le quedan menos de 5.
const keepEvery = 5 * time.Minute

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Validate credentials and run the stream, dashboard and cycle units",
	RunE:  runSupervise,
}

func init() {
	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := os.MkdirAll(cfg.Supervisor.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.Supervisor.LogDir, "supervisor.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open supervisor log: %w", err)
	}
	defer logFile.Close()
	setupLogger(cfg.Log, io.MultiWriter(os.Stdout, logFile))

	slog.Info("daitrader supervisor starting",
		"mode", cfg.Mode(),
		"trade_cap", cfg.Trading.TradeCap,
		"cadence", cfg.Cadence(),
		"streaming", cfg.StreamingEnabled(),
		"stop_file", cfg.Supervisor.StopFile,
	)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keeperErr := make(chan error, 1)
	if venueConfigured(cfg) {
		mgr, _ := newCredentials(cfg)
		// ningún hijo arranca sin un token válido
		if _, err := mgr.EnsureFresh(ctx); err != nil {
			slog.Error("credentials not usable, aborting startup", "err", err)
			return err
		}
		slog.Info("credentials ready")
		go func() {
			if err := mgr.Keep(ctx, keepEvery); err != nil {
				slog.Error("credentials invalidated during session, stopping", "err", err)
				keeperErr <- err
				cancel()
			}
		}()
	} else {
		slog.Warn("venue credentials not configured, running without stream unit")
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	units := buildUnits(binary)
	sup := supervisor.New(supervisor.Config{
		GracePeriod: cfg.GracePeriod(),
		Cadence:     cfg.Cadence(),
		StopFile:    cfg.Supervisor.StopFile,
	}, store, observ.NewMetrics())

	runErr := sup.Run(ctx, units)
	select {
	case err := <-keeperErr:
		return err
	default:
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("supervisor stopped with error", "err", runErr)
		return runErr
	}
	slog.Info("daitrader supervisor stopped")
	return nil
}

func buildUnits(binary string) []supervisor.Unit {
	logPath := func(name string) string {
		return filepath.Join(cfg.Supervisor.LogDir, name+".log")
	}
	unit := func(name string, long bool, policy supervisor.Policy) supervisor.Unit {
		return supervisor.Unit{
			Name:        name,
			LongRunning: long,
			Policy:      policy,
			LogSink:     logPath(name),
			Launch:      supervisor.ExecLauncher(binary, childArgs(name), logPath(name), nil),
		}
	}

	var units []supervisor.Unit
	if venueConfigured(cfg) {
		// sin stream el dashboard sigue con el último snapshot persistido
		units = append(units, unit(funds.StreamUnit, true, supervisor.PolicyDegrade))
	}
	units = append(units,
		unit("dashboard", true, supervisor.PolicyFatal),
		unit("cycle", false, supervisor.PolicyDegrade),
	)
	return units
}
