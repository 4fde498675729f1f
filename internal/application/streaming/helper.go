// Package streaming is the streaming helper: it polls broker snapshots, ingests
// account activity into the shadow ledger and persists both to the shared store
// the dashboard and the cycle executor read from.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/application/ledger"
	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/observ"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

const (
	defaultPollInterval = 30 * time.Second
	minReconnect        = time.Second
	maxReconnect        = time.Minute
)

// Config of the helper.
type Config struct {
	PollInterval time.Duration
	Window       int // ids remembered for duplicate suppression
	Funds        funds.Options
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Helper owns the in-process Book. It is the only writer of events and
// snapshots to the store; the cycle executor only adds its own placements.
type Helper struct {
	store   ports.LedgerStore
	snaps   ports.SnapshotProvider
	source  ports.ActivitySource
	metrics *observ.Metrics
	cfg     Config

	mu   sync.Mutex // serialises store sync with ingestion
	book *funds.Book
}

// New creates a helper. source nil runs in poll-only mode.
func New(store ports.LedgerStore, snaps ports.SnapshotProvider, source ports.ActivitySource, metrics *observ.Metrics, cfg Config) *Helper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = ledger.DefaultWindow
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = minReconnect
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = maxReconnect
	}
	if cfg.Funds.PollInterval <= 0 {
		cfg.Funds.PollInterval = cfg.PollInterval
	}
	if metrics == nil {
		metrics = observ.NewMetrics()
	}
	return &Helper{store: store, snaps: snaps, source: source, metrics: metrics, cfg: cfg}
}

// Run loads the persisted state, then polls and streams until ctx ends.
func (h *Helper) Run(ctx context.Context) error {
	if err := h.load(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if h.source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.streamLoop(ctx)
		}()
	} else {
		slog.Info("streaming disabled, running in poll-only mode", "poll_interval", h.cfg.PollInterval)
	}

	h.pollLoop(ctx)
	wg.Wait()
	slog.Info("streaming helper stopped", "ledger_events", h.book.Ledger().Len(), "duplicates", h.book.Ledger().Duplicates())
	return nil
}

// View returns the current reconciled view of the in-process book.
func (h *Helper) View() domain.ReconciledFundsView {
	return h.book.View()
}

func (h *Helper) horizon() time.Time {
	return funds.StartOfDay(h.now(), h.cfg.Funds.Location).AddDate(0, 0, -1)
}

func (h *Helper) now() time.Time {
	if h.cfg.Funds.Now != nil {
		return h.cfg.Funds.Now()
	}
	return time.Now()
}

// load rebuilds the ledger from the store and warms the duplicate window with
// the newest stored ids.
func (h *Helper) load(ctx context.Context) error {
	snap, events, err := h.store.LoadCoherent(ctx, h.horizon())
	if err != nil {
		return fmt.Errorf("streaming.load: %w", err)
	}
	ids, err := h.store.RecentEventIDs(ctx, h.cfg.Window)
	if err != nil {
		return fmt.Errorf("streaming.load: %w", err)
	}

	l := ledger.FromEvents(h.cfg.Window, events)
	l.Warm(ids)
	h.book = funds.NewBook(snap, l, h.cfg.Funds)

	attrs := []any{"events", len(events), "warm_ids", len(ids)}
	if snap != nil {
		attrs = append(attrs, "snapshot_as_of", snap.AsOf.Format(time.RFC3339))
	}
	slog.Info("ledger loaded", attrs...)
	return nil
}

// sync pulls events other writers stored (the executor's placements).
func (h *Helper) sync(ctx context.Context) {
	_, events, err := h.store.LoadCoherent(ctx, h.horizon())
	if err != nil {
		slog.Warn("ledger sync failed", "err", err)
		return
	}
	added := 0
	for _, ev := range events {
		if h.book.Append(ev) {
			added++
		}
	}
	if added > 0 {
		slog.Debug("ledger synced from store", "added", added)
	}
}

func (h *Helper) pollLoop(ctx context.Context) {
	h.poll(ctx)

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.poll(ctx)
		}
	}
}

// poll fetches one snapshot, stores it and applies it to the book.
func (h *Helper) poll(ctx context.Context) {
	h.mu.Lock()
	h.sync(ctx)
	h.mu.Unlock()

	snap, err := h.snaps.FetchSnapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.metrics.SnapshotErrors.Inc()
			slog.Warn("snapshot poll failed", "err", err)
		}
		return
	}

	if err := h.store.SaveSnapshot(ctx, snap); err != nil {
		if errors.Is(err, domain.ErrStaleSnapshot) {
			h.metrics.SnapshotsStale.Inc()
			slog.Warn("discarding out-of-order snapshot", "as_of", snap.AsOf.Format(time.RFC3339))
			return
		}
		slog.Error("could not store snapshot", "err", err)
		return
	}
	if err := h.book.ApplySnapshot(snap); err != nil {
		h.metrics.SnapshotsStale.Inc()
		slog.Warn("discarding out-of-order snapshot", "as_of", snap.AsOf.Format(time.RFC3339), "err", err)
		return
	}
	h.metrics.SnapshotsApplied.Inc()

	// nothing after the current snapshot is compacted
	before := h.horizon()
	if snap.AsOf.Before(before) {
		before = snap.AsOf
	}
	if dropped := h.book.Ledger().Compact(before); dropped > 0 {
		slog.Debug("ledger compacted", "dropped", dropped)
	}
	h.observe()
}

func (h *Helper) observe() {
	view := h.book.View()
	h.metrics.EffectiveFunds.Set(view.Effective)
	h.metrics.LedgerEvents.Set(float64(h.book.Ledger().Len()))
	if view.Stale {
		h.metrics.FundsStale.Set(1)
	} else {
		h.metrics.FundsStale.Set(0)
	}
	if !view.AsOf.IsZero() {
		h.metrics.SnapshotAge.Set(h.now().Sub(view.AsOf).Seconds())
	}
	slog.Debug("funds view",
		"effective", view.Effective,
		"source", view.EffectiveSource,
		"unsettled", view.UnsettledCash,
		"reserve", view.OrderReserve,
		"stale", view.Stale)
}

// Ingest is the sink handed to the activity source. The event is stored
// before it is applied in memory; a store failure is returned so the source
// redelivers it.
func (h *Helper) Ingest(ctx context.Context, ev domain.LedgerEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.book.Ledger()
	if l.Seen(ev.EventID) {
		h.metrics.EventsDuplicate.WithLabelValues("memory").Inc()
		return nil
	}
	if ev.Kind != domain.EventOrderPlaced && l.OutstandingReserve(ev.OrderID).IsZero() {
		// the placement may come from the executor, not the stream
		h.sync(ctx)
	}
	ev = l.SettleReserve(ev)

	stored, err := h.store.AppendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("streaming.Ingest: %w", err)
	}
	if !stored {
		h.metrics.EventsDuplicate.WithLabelValues("store").Inc()
	}
	if h.book.Append(ev) {
		h.metrics.EventsIngested.WithLabelValues(string(ev.Kind)).Inc()
		slog.Info("ledger event",
			"event_id", ev.EventID,
			"kind", ev.Kind,
			"order_id", ev.OrderID,
			"symbol", ev.Symbol,
			"cash_delta", ev.CashDelta.String(),
			"reserve_delta", ev.ReserveDelta.String())
	}
	h.metrics.LedgerEvents.Set(float64(l.Len()))
	return nil
}

// streamLoop keeps the activity source running, reconnecting with backoff.
func (h *Helper) streamLoop(ctx context.Context) {
	wait := h.cfg.ReconnectMin
	for {
		started := time.Now()
		h.metrics.StreamConnected.Set(1)
		err := h.source.Run(ctx, h.Ingest)
		h.metrics.StreamConnected.Set(0)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > h.cfg.ReconnectMax {
			wait = h.cfg.ReconnectMin
		}
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrAuthRejected) {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "activity stream ended, reconnecting", "err", err, "wait", wait)
		h.metrics.StreamReconnects.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > h.cfg.ReconnectMax {
			wait = h.cfg.ReconnectMax
		}
	}
}
