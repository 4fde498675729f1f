package dashboard_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/daitrader/internal/adapters/dashboard"
	"github.com/alejandrodnm/daitrader/internal/adapters/storage"
	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/domain"
)

type fakeReader struct {
	res funds.Result
	err error
}

func (f *fakeReader) Current(context.Context) (funds.Result, error) { return f.res, f.err }

func sampleResult() funds.Result {
	asOf := time.Date(2026, 5, 11, 14, 0, 0, 0, time.UTC)
	snap := &domain.BrokerSnapshot{
		AsOf:                  asOf,
		AccountHash:           "HASH",
		AccountNumber:         "1234",
		AccountType:           "CASH",
		CashBalance:           domain.Float(500),
		BuyingPower:           domain.Float(900),
		DayTradingBuyingPower: domain.Float(0),
		Positions: []domain.Position{
			{Symbol: "AAPL", Shares: 10, AveragePrice: 100, CurrentPrice: 90, MarketValue: 900},
		},
	}
	view := funds.Reconcile(snap, nil, funds.Options{PollInterval: 30 * time.Second, Now: func() time.Time { return asOf }})
	return funds.Result{View: view, Snapshot: snap}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestFunds_Success(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{Mode: domain.ModeLive, Enabled: true}, &fakeReader{res: sampleResult()}, nil)

	rec, body := get(t, srv.Handler(), "/api/funds")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, true, body["live_trading_enabled"])
	assert.Equal(t, false, body["readonly_mode"])
	assert.Equal(t, 1400.0, body["total_portfolio_value"])
	assert.Equal(t, 500.0, body["cash_balance"])
	assert.Equal(t, 900.0, body["funds_available_effective"], "no ledger: buying power wins over settled cash")

	comps := body["funds_available_components"].(map[string]any)
	assert.Nil(t, comps["explicit"])
	assert.Nil(t, comps["derived_cash"])
	assert.Equal(t, 500.0, comps["settled_cash"])

	info := body["account_info"].(map[string]any)
	assert.Equal(t, "1234", info["account_number"])
	assert.Equal(t, 900.0, info["buying_power"])

	positions := body["positions"].([]any)
	require.Len(t, positions, 1)
	pos := positions[0].(map[string]any)
	assert.Equal(t, 1000.0, pos["total_value"])
	assert.Equal(t, -100.0, pos["gain_loss"])
	assert.Equal(t, -10.0, pos["gain_loss_percentage"])
	assert.NotContains(t, body, "warning")
}

func TestFunds_Disabled(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{Mode: domain.ModeSimulation}, &fakeReader{}, nil)
	_, body := get(t, srv.Handler(), "/api/funds")
	assert.Equal(t, "disabled", body["status"])
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, true, body["readonly_mode"])
}

func TestFunds_ErrorOnlyWithoutAnySource(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{Enabled: true}, &fakeReader{err: errors.New("database is locked")}, nil)
	_, body := get(t, srv.Handler(), "/api/funds")
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "database is locked", body["message"])

	srv = dashboard.NewServer(dashboard.Config{Enabled: true}, &fakeReader{}, nil)
	_, body = get(t, srv.Handler(), "/api/funds")
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "no broker snapshot")
}

func TestFunds_HelperDownWarning(t *testing.T) {
	res := sampleResult()
	res.HelperDown = true
	res.View.Stale = true
	srv := dashboard.NewServer(dashboard.Config{Enabled: true}, &fakeReader{res: res}, nil)

	_, body := get(t, srv.Handler(), "/api/funds")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["stale"])
	assert.Contains(t, body["warning"], "streaming helper is down")
	assert.Contains(t, body["warning"], "stale")
}

func TestFunds_ReadOnlyWarning(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{Enabled: true, Mode: domain.ModeLiveReadOnly}, &fakeReader{res: sampleResult()}, nil)

	_, body := get(t, srv.Handler(), "/api/funds")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["readonly_mode"])
	assert.Equal(t, dashboard.ReadOnlyWarning, body["warning"])
}

func TestReadiness(t *testing.T) {
	reader := &fakeReader{}
	srv := dashboard.NewServer(dashboard.Config{Enabled: true}, reader, nil)

	rec, _ := get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	reader.res = sampleResult()
	rec, _ = get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{Enabled: true}, &fakeReader{res: sampleResult()}, nil)
	get(t, srv.Handler(), "/api/funds")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "daitrader_funds_effective_usd 900")
	assert.Contains(t, rec.Body.String(), `daitrader_api_requests_total{route="/api/funds",status="success"} 1`)
}

// The dashboard keeps serving from the store after the stream unit died.
func TestFunds_StoreBackedAfterStreamExit(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, db.SaveSnapshot(ctx, domain.BrokerSnapshot{AsOf: old, CashBalance: domain.Float(500)}))
	exited := time.Now().UTC()
	require.NoError(t, db.SaveUnit(ctx, domain.ProcessHandle{
		Name: funds.StreamUnit, PID: 7, Status: domain.UnitFailed, ExitCode: 1, ExitedAt: &exited, StartedAt: old,
	}))

	svc := funds.NewService(db, db, funds.Options{PollInterval: 30 * time.Second}, true)
	srv := dashboard.NewServer(dashboard.Config{Enabled: true, Mode: domain.ModeLiveReadOnly}, svc, nil)

	_, body := get(t, srv.Handler(), "/api/funds")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["stale"])
	assert.Equal(t, 500.0, body["funds_available_effective"])
	assert.Equal(t, true, body["readonly_mode"])
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := dashboard.NewServer(dashboard.Config{Addr: "127.0.0.1:0"}, &fakeReader{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
