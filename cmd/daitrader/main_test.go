package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/daitrader/config"
	"github.com/alejandrodnm/daitrader/internal/adapters/dashboard"
	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/application/supervisor"
)

func resetFlags(t *testing.T) {
	t.Helper()
	prevPath, prevVerbose, prevFormat, prevCfg := configPath, verbose, logFormat, cfg
	t.Cleanup(func() {
		configPath, verbose, logFormat, cfg = prevPath, prevVerbose, prevFormat, prevCfg
	})
	configPath, verbose, logFormat = "", false, ""
}

func TestChildArgs_ForwardsGlobalFlags(t *testing.T) {
	resetFlags(t)
	assert.Equal(t, []string{"stream"}, childArgs("stream"))

	configPath, verbose, logFormat = "conf/prod.yaml", true, "json"
	assert.Equal(t,
		[]string{"cycle", "--config", "conf/prod.yaml", "--verbose", "--format", "json"},
		childArgs("cycle"))
}

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	setupLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	slog.Info("hidden")
	slog.Warn("shown", "unit", "stream")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "stream", rec["unit"])
}

func TestBuildUnits_StreamOnlyWithVenue(t *testing.T) {
	resetFlags(t)
	cfg = &config.Config{Supervisor: config.SupervisorConfig{LogDir: "logs"}}

	units := buildUnits("/usr/local/bin/daitrader")
	require.Len(t, units, 2)
	assert.Equal(t, "dashboard", units[0].Name)
	assert.Equal(t, supervisor.PolicyFatal, units[0].Policy)
	assert.True(t, units[0].LongRunning)
	assert.Equal(t, "cycle", units[1].Name)
	assert.False(t, units[1].LongRunning)

	cfg.Auth = config.AuthConfig{ClientID: "id", ClientSecret: "secret"}
	units = buildUnits("/usr/local/bin/daitrader")
	require.Len(t, units, 3)
	assert.Equal(t, "stream", units[0].Name)
	assert.Equal(t, supervisor.PolicyDegrade, units[0].Policy)
	assert.Equal(t, "logs/stream.log", units[0].LogSink)
}

func TestCommands_Registered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"supervise", "stream", "dashboard", "cycle", "auth", "intent", "status"} {
		assert.True(t, names[want], want)
	}
}

func TestDashboardConfig_DisabledWithoutVenue(t *testing.T) {
	c := &config.Config{
		Trading:   config.TradingConfig{Mode: "live"},
		Dashboard: config.DashboardConfig{Addr: "127.0.0.1:5001"},
	}
	dc := dashboardConfig(c)
	assert.False(t, dc.Enabled)
	assert.Equal(t, "127.0.0.1:5001", dc.Addr)

	doc := dashboard.BuildDocument(funds.Result{}, nil, dc.Mode, dc.Enabled, time.Now())
	assert.Equal(t, dashboard.StatusDisabled, doc.Status)

	c.Auth = config.AuthConfig{ClientID: "id", ClientSecret: "secret"}
	assert.True(t, dashboardConfig(c).Enabled)
}
