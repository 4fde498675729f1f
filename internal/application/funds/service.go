package funds

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/daitrader/internal/application/ledger"
	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

// StreamUnit is the supervised unit that maintains the ledger.
const StreamUnit = "stream"

// Result is one read of the reconciled state from the shared store.
type Result struct {
	View       domain.ReconciledFundsView
	Snapshot   *domain.BrokerSnapshot
	HelperDown bool // the streaming helper exited; the view is stale until it returns
}

// Service rebuilds the view from the shared store on every read. It never
// touches the venue, so reads stay fast when the venue is slow.
type Service struct {
	store         ports.LedgerStore
	units         ports.UnitStatusStore
	opts          Options
	ledgerEnabled bool
	window        int
}

// NewService creates a read-side reconciler. units may be nil. With
// ledgerEnabled false the ledger is ignored and derived_cash is missing.
func NewService(store ports.LedgerStore, units ports.UnitStatusStore, opts Options, ledgerEnabled bool) *Service {
	return &Service{store: store, units: units, opts: opts, ledgerEnabled: ledgerEnabled, window: ledger.DefaultWindow}
}

// Current returns the reconciled view of the latest snapshot and its events.
func (s *Service) Current(ctx context.Context) (Result, error) {
	horizon := StartOfDay(s.opts.now(), s.opts.Location).AddDate(0, 0, -1)
	snap, events, err := s.store.LoadCoherent(ctx, horizon)
	if err != nil {
		return Result{}, fmt.Errorf("funds.Current: %w", err)
	}

	var l *ledger.Ledger
	if s.ledgerEnabled {
		l = ledger.FromEvents(s.window, events)
	}
	res := Result{View: Reconcile(snap, l, s.opts), Snapshot: snap}

	if s.units != nil {
		h, ok, err := s.units.GetUnit(ctx, StreamUnit)
		if err != nil {
			return Result{}, fmt.Errorf("funds.Current: %w", err)
		}
		if ok && h.Status.Down() {
			res.HelperDown = true
			res.View.Stale = true
		}
	}
	return res, nil
}
