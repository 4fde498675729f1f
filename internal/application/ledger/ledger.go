// Package ledger implements the shadow ledger: an append-only log of
// funds-affecting order events, deduplicated by event id, folded into cash and
// reserve deltas relative to a broker snapshot.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// DefaultWindow is how many recent event ids are remembered for duplicate
// suppression. The store's unique key absorbs anything older.
const DefaultWindow = 10000

// Deltas are the summed ledger deltas since an epoch.
type Deltas struct {
	Cash    decimal.Decimal
	Reserve decimal.Decimal
}

// Fold splits the deltas since an epoch by event kind.
type Fold struct {
	Unsettled decimal.Decimal // cash from fills
	Reserve   decimal.Decimal // placed holds net of fill releases and cancels
	Placed    int
	Filled    int
	Canceled  int
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu         sync.RWMutex
	events     []domain.LedgerEvent
	seen       *seenSet
	horizon    time.Time
	duplicates int64
}

// New returns an empty ledger remembering up to window event ids.
func New(window int) *Ledger {
	return &Ledger{seen: newSeenSet(window)}
}

// FromEvents rebuilds a ledger from persisted events.
func FromEvents(window int, events []domain.LedgerEvent) *Ledger {
	l := New(window)
	for _, ev := range events {
		l.Append(ev)
	}
	return l
}

// Append accepts ev unless its id was already seen or it predates the
// compaction horizon. Duplicates are not errors; the bool reports acceptance.
func (l *Ledger) Append(ev domain.LedgerEvent) bool {
	if ev.Validate() != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen.contains(ev.EventID) {
		l.duplicates++
		return false
	}
	if !l.horizon.IsZero() && ev.OccurredAt.Before(l.horizon) {
		// Older than anything kept: assumed already reflected in the snapshot.
		l.duplicates++
		return false
	}
	l.seen.add(ev.EventID)
	l.events = append(l.events, ev)
	return true
}

// Warm marks ids as seen without adding events, so a restarted process does
// not re-apply activity it already stored.
func (l *Ledger) Warm(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// ids come newest first; add oldest first so the newest stay in the window
	for i := len(ids) - 1; i >= 0; i-- {
		l.seen.add(ids[i])
	}
}

// Seen reports whether id was already accepted or warmed.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen.index[id]
	return ok
}

// DeltasSince sums every accepted event with occurred_at >= epoch.
func (l *Ledger) DeltasSince(epoch time.Time) Deltas {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d := Deltas{Cash: decimal.Zero, Reserve: decimal.Zero}
	for _, ev := range l.events {
		if ev.OccurredAt.Before(epoch) {
			continue
		}
		d.Cash = d.Cash.Add(ev.CashDelta)
		d.Reserve = d.Reserve.Add(ev.ReserveDelta)
	}
	return d
}

// FoldSince is DeltasSince split by kind.
func (l *Ledger) FoldSince(epoch time.Time) Fold {
	l.mu.RLock()
	defer l.mu.RUnlock()

	f := Fold{Unsettled: decimal.Zero, Reserve: decimal.Zero}
	for _, ev := range l.events {
		if ev.OccurredAt.Before(epoch) {
			continue
		}
		switch ev.Kind {
		case domain.EventOrderFilled:
			f.Filled++
			f.Unsettled = f.Unsettled.Add(ev.CashDelta)
		case domain.EventOrderPlaced:
			f.Placed++
		case domain.EventOrderCanceled:
			f.Canceled++
		}
		f.Reserve = f.Reserve.Add(ev.ReserveDelta)
	}
	return f
}

// ReserveAt returns what open orders still hold as of a snapshot taken at
// asOf. open lists the orders the venue reported working at asOf with their
// estimated holds. Holds are summed per order and each is clamped at zero:
//   - a canceled order holds nothing;
//   - an order the ledger saw placed counts its own running total;
//   - an order placed before asOf that the venue no longer lists was closed;
//   - an order only the venue knows starts from its estimate and takes the
//     releases recorded since asOf.
func (l *Ledger) ReserveAt(asOf time.Time, open map[string]decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	type hold struct {
		placed       bool
		placedBefore bool
		canceled     bool
		total        decimal.Decimal
		since        decimal.Decimal
	}
	holds := make(map[string]*hold)
	for _, ev := range l.events {
		key := ev.OrderID
		if key == "" {
			key = ev.EventID
		}
		h, ok := holds[key]
		if !ok {
			h = &hold{total: decimal.Zero, since: decimal.Zero}
			holds[key] = h
		}
		h.total = h.total.Add(ev.ReserveDelta)
		before := ev.OccurredAt.Before(asOf)
		if !before {
			h.since = h.since.Add(ev.ReserveDelta)
		}
		switch ev.Kind {
		case domain.EventOrderPlaced:
			h.placed = true
			h.placedBefore = h.placedBefore || before
		case domain.EventOrderCanceled:
			h.canceled = true
		}
	}

	sum := decimal.Zero
	for key, h := range holds {
		var v decimal.Decimal
		est, listed := open[key]
		switch {
		case h.canceled:
			continue
		case h.placed && (listed || !h.placedBefore):
			v = h.total
		case listed:
			v = est.Add(h.since)
		default:
			continue
		}
		if v.IsPositive() {
			sum = sum.Add(v)
		}
	}
	for key, est := range open {
		if _, ok := holds[key]; !ok && est.IsPositive() {
			sum = sum.Add(est)
		}
	}
	return sum
}

// OutstandingReserve is what is still held for orderID across all kept events.
func (l *Ledger) OutstandingReserve(orderID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.outstanding(orderID)
}

func (l *Ledger) placed(orderID string) bool {
	for _, ev := range l.events {
		if ev.OrderID == orderID && ev.Kind == domain.EventOrderPlaced {
			return true
		}
	}
	return false
}

func (l *Ledger) outstanding(orderID string) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range l.events {
		if ev.OrderID == orderID {
			total = total.Add(ev.ReserveDelta)
		}
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// SettleReserve sizes the reserve release of a fill or cancel against what is
// still held for its order: a cancel releases the remainder, a fill releases at
// most the remainder. Placed events are returned unchanged, and so are fills
// of orders whose placement the ledger never saw: their hold comes from the
// snapshot estimate, see ReserveAt.
func (l *Ledger) SettleReserve(ev domain.LedgerEvent) domain.LedgerEvent {
	if ev.Kind == domain.EventOrderPlaced || ev.OrderID == "" {
		return ev
	}
	l.mu.RLock()
	known := l.placed(ev.OrderID)
	held := l.outstanding(ev.OrderID)
	l.mu.RUnlock()

	if !known && ev.Kind == domain.EventOrderFilled {
		return ev
	}

	switch ev.Kind {
	case domain.EventOrderCanceled:
		ev.ReserveDelta = held.Neg()
	case domain.EventOrderFilled:
		release := ev.ReserveDelta.Neg()
		if release.GreaterThan(held) {
			release = held
		}
		ev.ReserveDelta = release.Neg()
	}
	return ev
}

// Compact drops events older than before and rejects later appends that old.
// Ids stay in the seen window until evicted.
func (l *Ledger) Compact(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	for _, ev := range l.events {
		if !ev.OccurredAt.Before(before) {
			kept = append(kept, ev)
		}
	}
	dropped := len(l.events) - len(kept)
	clear(l.events[len(kept):])
	l.events = kept
	if before.After(l.horizon) {
		l.horizon = before
	}
	return dropped
}

// Len returns how many events are kept.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Duplicates returns how many appends were discarded.
func (l *Ledger) Duplicates() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.duplicates
}
