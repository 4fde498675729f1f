// Package dashboard serves the reconciled funds read API, health probes and
// Prometheus metrics. It reads only the shared store, never the venue.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/observ"
)

const (
	shutdownTimeout = 5 * time.Second
	readTimeout     = 3 * time.Second
)

// FundsReader is implemented by funds.Service.
type FundsReader interface {
	Current(ctx context.Context) (funds.Result, error)
}

// Config of the server.
type Config struct {
	Addr    string
	Mode    domain.TradingMode
	Enabled bool
}

// Server is the dashboard HTTP server.
type Server struct {
	httpServer *http.Server
	reader     FundsReader
	cfg        Config
	metrics    *observ.Metrics
	health     *observ.HealthChecker
	now        func() time.Time
}

// NewServer creates the server bound to cfg.Addr.
func NewServer(cfg Config, reader FundsReader, metrics *observ.Metrics) *Server {
	if metrics == nil {
		metrics = observ.NewMetrics()
	}
	s := &Server{
		reader:  reader,
		cfg:     cfg,
		metrics: metrics,
		health:  observ.NewHealthChecker(),
		now:     time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/funds", s.handleFunds)
	mux.HandleFunc("GET /healthz", s.health.LivenessHandler)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes (tests).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("dashboard.Run: %w", err)
	}
	slog.Info("dashboard listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard.Run: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("dashboard.Run: shutdown: %w", err)
	}
	slog.Info("dashboard stopped")
	return nil
}

// GET /api/funds: reconciled funds view.
func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request) {
	var (
		res funds.Result
		err error
	)
	if s.cfg.Enabled {
		ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
		defer cancel()
		res, err = s.reader.Current(ctx)
		if err != nil {
			slog.Warn("funds read failed", "err", err)
		}
	}

	doc := BuildDocument(res, err, s.cfg.Mode, s.cfg.Enabled, s.now())
	if doc.Status == StatusSuccess {
		s.health.SetReady(true)
		s.metrics.EffectiveFunds.Set(doc.FundsAvailableEffective)
		s.metrics.FundsStale.Set(boolGauge(doc.Stale))
		s.metrics.SnapshotAge.Set(s.now().Sub(res.View.AsOf).Seconds())
	}

	// the document always goes out with 200; the state is in "status"
	s.metrics.APIRequests.WithLabelValues("/api/funds", doc.Status).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		slog.Warn("encode funds document", "err", err)
	}
}

// GET /readyz: ready once a snapshot is available.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsReady() && s.cfg.Enabled {
		ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
		defer cancel()
		if res, err := s.reader.Current(ctx); err == nil && res.Snapshot != nil {
			s.health.SetReady(true)
		}
	}
	s.metrics.APIRequests.WithLabelValues("/readyz", strconv.FormatBool(s.health.IsReady())).Inc()
	s.health.ReadinessHandler(w, r)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
