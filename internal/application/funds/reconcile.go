// Package funds merges the latest broker snapshot with the shadow ledger into
// the reconciled funds view.
package funds

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/daitrader/internal/application/ledger"
	"github.com/alejandrodnm/daitrader/internal/domain"
)

// DefaultStalenessMultiplier times the poll interval is how old a snapshot may
// get before the view is flagged stale.
const DefaultStalenessMultiplier = 3

// Options configure Reconcile.
type Options struct {
	PollInterval        time.Duration
	StalenessMultiplier int
	Location            *time.Location // defines the day for same_day_net
	Now                 func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) staleAfter() time.Duration {
	mult := o.StalenessMultiplier
	if mult <= 0 {
		mult = DefaultStalenessMultiplier
	}
	return time.Duration(mult) * o.PollInterval
}

// StartOfDay returns midnight of now's day in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Reconcile derives the funds view from a snapshot and the ledger. l may be nil
// when no streaming data exists; derived_cash is then missing and the chain
// falls through to what the snapshot alone reports. A nil snap yields an
// all-missing, stale view with effective 0.
func Reconcile(snap *domain.BrokerSnapshot, l *ledger.Ledger, opts Options) domain.ReconciledFundsView {
	now := opts.now()
	if snap == nil {
		return domain.ReconciledFundsView{EffectiveSource: SourceNone, Stale: true}
	}

	var (
		unsettled = decimal.Zero
		reserve   = decimal.Zero
		sameDay   = decimal.Zero
	)
	if l == nil {
		for _, est := range openHolds(snap) {
			reserve = reserve.Add(est)
		}
	} else {
		unsettled = l.FoldSince(snap.AsOf).Unsettled
		reserve = l.ReserveAt(snap.AsOf, openHolds(snap))
		sameDay = l.FoldSince(StartOfDay(now, opts.Location)).Unsettled
	}

	in := Inputs{
		Explicit:    snap.FundsForTrading,
		BuyingPower: snap.BuyingPower,
		SettledCash: snap.CashBalance,
	}
	if l != nil && snap.CashBalance != nil {
		derived := decimal.NewFromFloat(*snap.CashBalance).Add(unsettled).Sub(reserve)
		in.DerivedCash = domain.Float(money(derived))
	}
	effective, source := Resolve(in)

	return domain.ReconciledFundsView{
		FundsComponents: domain.FundsComponents{
			Effective:       effective,
			Explicit:        in.Explicit,
			DerivedCash:     in.DerivedCash,
			SettledCash:     in.SettledCash,
			UnsettledCash:   money(unsettled),
			OrderReserve:    money(reserve),
			OpenOrdersCount: snap.OpenOrdersCount,
			SameDayNet:      money(sameDay),
		},
		EffectiveSource: source,
		AsOf:            snap.AsOf,
		Stale:           now.Sub(snap.AsOf) > opts.staleAfter(),
	}
}

// openHolds indexes the snapshot's open orders by id.
func openHolds(snap *domain.BrokerSnapshot) map[string]decimal.Decimal {
	open := make(map[string]decimal.Decimal, len(snap.OpenOrders))
	for _, o := range snap.OpenOrders {
		open[o.OrderID] = decimal.NewFromFloat(o.Reserve)
	}
	return open
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
