package ledger_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/daitrader/internal/application/ledger"
	"github.com/alejandrodnm/daitrader/internal/domain"
)

var t0 = time.Date(2026, 4, 14, 14, 0, 0, 0, time.UTC)

func ev(id string, at time.Time, kind domain.EventKind, order, cash, reserve string) domain.LedgerEvent {
	return domain.LedgerEvent{
		EventID:      id,
		OccurredAt:   at,
		Kind:         kind,
		OrderID:      order,
		CashDelta:    decimal.RequireFromString(cash),
		ReserveDelta: decimal.RequireFromString(reserve),
	}
}

func TestLedger_AppendIsIdempotent(t *testing.T) {
	l := ledger.New(100)
	fill := ev("fill:1:a", t0.Add(time.Minute), domain.EventOrderFilled, "1", "1200", "0")

	require.True(t, l.Append(fill))
	once := l.DeltasSince(t0)

	assert.False(t, l.Append(fill))
	twice := l.DeltasSince(t0)

	assert.True(t, once.Cash.Equal(twice.Cash))
	assert.True(t, once.Reserve.Equal(twice.Reserve))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, int64(1), l.Duplicates())
}

func TestLedger_DeltasSinceRespectsEpoch(t *testing.T) {
	l := ledger.New(100)
	l.Append(ev("before", t0.Add(-time.Second), domain.EventOrderFilled, "1", "999", "0"))
	l.Append(ev("at", t0, domain.EventOrderFilled, "2", "100", "0"))
	l.Append(ev("after", t0.Add(time.Second), domain.EventOrderPlaced, "3", "0", "50"))

	d := l.DeltasSince(t0)
	assert.True(t, d.Cash.Equal(decimal.NewFromInt(100)), "event at epoch is included")
	assert.True(t, d.Reserve.Equal(decimal.NewFromInt(50)))
}

func TestLedger_FoldSplitsByKind(t *testing.T) {
	l := ledger.New(100)
	l.Append(ev("placed:1", t0.Add(1*time.Second), domain.EventOrderPlaced, "1", "0", "300"))
	l.Append(ev("placed:2", t0.Add(2*time.Second), domain.EventOrderPlaced, "2", "0", "200"))
	l.Append(ev("fill:1:x", t0.Add(3*time.Second), domain.EventOrderFilled, "1", "-300", "-300"))
	l.Append(ev("cancel:2", t0.Add(4*time.Second), domain.EventOrderCanceled, "2", "0", "-200"))
	l.Append(ev("fill:9:x", t0.Add(5*time.Second), domain.EventOrderFilled, "9", "1200", "0"))

	f := l.FoldSince(t0)
	assert.True(t, f.Unsettled.Equal(decimal.NewFromInt(900)))
	assert.True(t, f.Reserve.IsZero(), "fill and cancel release their holds")
	assert.Equal(t, 2, f.Placed)
	assert.Equal(t, 2, f.Filled)
	assert.Equal(t, 1, f.Canceled)
}

func TestLedger_SettleReserve(t *testing.T) {
	l := ledger.New(100)
	l.Append(ev("placed:1", t0, domain.EventOrderPlaced, "1", "0", "300"))

	partial := l.SettleReserve(ev("fill:1:a", t0.Add(time.Second), domain.EventOrderFilled, "1", "-100", "-100"))
	assert.True(t, partial.ReserveDelta.Equal(decimal.NewFromInt(-100)))
	l.Append(partial)
	assert.True(t, l.OutstandingReserve("1").Equal(decimal.NewFromInt(200)))

	over := l.SettleReserve(ev("fill:1:b", t0.Add(2*time.Second), domain.EventOrderFilled, "1", "-500", "-500"))
	assert.True(t, over.ReserveDelta.Equal(decimal.NewFromInt(-200)), "never releases more than held")

	cancel := l.SettleReserve(ev("cancel:1", t0.Add(3*time.Second), domain.EventOrderCanceled, "1", "0", "0"))
	assert.True(t, cancel.ReserveDelta.Equal(decimal.NewFromInt(-200)))
	l.Append(cancel)
	assert.True(t, l.OutstandingReserve("1").IsZero())

	unknown := l.SettleReserve(ev("cancel:7", t0, domain.EventOrderCanceled, "7", "0", "0"))
	assert.True(t, unknown.ReserveDelta.IsZero())
}

func TestLedger_SettleReserveUnknownPlacementPassesFill(t *testing.T) {
	l := ledger.New(100)
	fill := l.SettleReserve(ev("fill:5:a", t0, domain.EventOrderFilled, "5", "-80", "-80"))
	assert.True(t, fill.ReserveDelta.Equal(decimal.NewFromInt(-80)))
}

func TestLedger_ReserveAtAcrossSnapshot(t *testing.T) {
	asOf := t0
	l := ledger.New(100)

	// A placed before the snapshot and filled after it
	l.Append(ev("placed:A", asOf.Add(-time.Minute), domain.EventOrderPlaced, "A", "0", "100"))
	// B placed after the snapshot, still open
	l.Append(ev("placed:B", asOf.Add(time.Second), domain.EventOrderPlaced, "B", "0", "200"))
	l.Append(l.SettleReserve(ev("fill:A:1", asOf.Add(2*time.Second), domain.EventOrderFilled, "A", "-100", "-100")))

	got := l.ReserveAt(asOf, nil)
	assert.True(t, got.Equal(decimal.NewFromInt(200)), "got %s", got)

	// listing A as open at the snapshot changes nothing: it is already filled
	got = l.ReserveAt(asOf, map[string]decimal.Decimal{"A": decimal.NewFromInt(100)})
	assert.True(t, got.Equal(decimal.NewFromInt(200)), "got %s", got)
}

func TestLedger_ReserveAtUsesSnapshotEstimates(t *testing.T) {
	asOf := t0
	l := ledger.New(100)
	// C placed before the snapshot and not listed: closed at the venue
	l.Append(ev("placed:C", asOf.Add(-time.Hour), domain.EventOrderPlaced, "C", "0", "300"))
	// V only known to the venue, partly filled after the snapshot
	l.Append(l.SettleReserve(ev("fill:V:1", asOf.Add(time.Second), domain.EventOrderFilled, "V", "-40", "-40")))
	// W only known to the venue, canceled after the snapshot
	l.Append(l.SettleReserve(ev("cancel:W", asOf.Add(time.Second), domain.EventOrderCanceled, "W", "0", "0")))

	open := map[string]decimal.Decimal{
		"V": decimal.NewFromInt(100),
		"W": decimal.NewFromInt(70),
		"X": decimal.NewFromInt(25), // no events at all
	}
	got := l.ReserveAt(asOf, open)
	assert.True(t, got.Equal(decimal.NewFromInt(85)), "V 60 + X 25, got %s", got)
}

func TestLedger_WarmSuppressesStoredIDs(t *testing.T) {
	l := ledger.New(100)
	l.Warm([]string{"fill:1:a", "fill:1:b"})

	assert.True(t, l.Seen("fill:1:a"))
	assert.False(t, l.Append(ev("fill:1:a", t0, domain.EventOrderFilled, "1", "5", "0")))
	assert.True(t, l.Append(ev("fill:1:c", t0, domain.EventOrderFilled, "1", "5", "0")))
}

func TestLedger_WindowIsBounded(t *testing.T) {
	l := ledger.New(2)
	l.Append(ev("a", t0, domain.EventOrderPlaced, "1", "0", "0"))
	l.Append(ev("b", t0, domain.EventOrderPlaced, "2", "0", "0"))
	l.Append(ev("c", t0, domain.EventOrderPlaced, "3", "0", "0"))

	assert.False(t, l.Seen("a"), "oldest id evicted")
	assert.True(t, l.Seen("c"))
}

func TestLedger_CompactSetsHorizon(t *testing.T) {
	l := ledger.New(100)
	l.Append(ev("old", t0.Add(-time.Hour), domain.EventOrderFilled, "1", "10", "0"))
	l.Append(ev("new", t0.Add(time.Minute), domain.EventOrderFilled, "2", "20", "0"))

	assert.Equal(t, 1, l.Compact(t0))
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Append(ev("late", t0.Add(-time.Minute), domain.EventOrderFilled, "3", "1", "0")))
	assert.True(t, l.DeltasSince(time.Time{}).Cash.Equal(decimal.NewFromInt(20)))
}

func TestLedger_FromEvents(t *testing.T) {
	events := []domain.LedgerEvent{
		ev("a", t0, domain.EventOrderFilled, "1", "1", "0"),
		ev("a", t0, domain.EventOrderFilled, "1", "1", "0"),
		ev("b", t0, domain.EventOrderFilled, "2", "2", "0"),
	}
	l := ledger.FromEvents(10, events)
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.DeltasSince(t0).Cash.Equal(decimal.NewFromInt(3)))
}

func TestLedger_ConcurrentRedelivery(t *testing.T) {
	l := ledger.New(ledger.DefaultWindow)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Append(ev(fmt.Sprintf("fill:%d:x", i), t0, domain.EventOrderFilled, "o", "1", "0"))
				_ = l.DeltasSince(t0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, l.Len())
	assert.True(t, l.DeltasSince(t0).Cash.Equal(decimal.NewFromInt(100)))
}
