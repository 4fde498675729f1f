package cycle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/daitrader/internal/adapters/storage"
	"github.com/alejandrodnm/daitrader/internal/application/cycle"
	"github.com/alejandrodnm/daitrader/internal/application/safety"
	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/observ"
)

type fakeOrders struct {
	mu      sync.Mutex
	calls   []domain.TradeIntent
	err     error
	onPlace func()
}

func (f *fakeOrders) PlaceOrder(_ context.Context, in domain.TradeIntent) (domain.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.onPlace != nil {
		f.onPlace()
	}
	if f.err != nil {
		return domain.PlacedOrder{}, f.err
	}
	return domain.PlacedOrder{
		OrderID:     fmt.Sprintf("%d", 1000+len(f.calls)),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func newDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func enqueueBuys(t *testing.T, db *storage.SQLiteStorage, n int) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		require.NoError(t, db.EnqueueIntent(context.Background(), domain.TradeIntent{
			ID:         fmt.Sprintf("buy-%d", i),
			Symbol:     "AAPL",
			Side:       domain.SideBuy,
			Quantity:   2,
			LimitPrice: 150,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func newExecutor(db *storage.SQLiteStorage, orders *fakeOrders, mode domain.TradingMode, limit int) (*cycle.Executor, *observ.Metrics) {
	m := observ.NewMetrics()
	var ex *cycle.Executor
	if orders == nil {
		ex = cycle.New(safety.New(), db, db, db, nil, m, cycle.Config{Mode: mode, Cap: limit})
	} else {
		ex = cycle.New(safety.New(), db, db, db, orders, m, cycle.Config{Mode: mode, Cap: limit})
	}
	return ex, m
}

func TestRun_CapOneThreeBuys(t *testing.T) {
	db := newDB(t)
	enqueueBuys(t, db, 3)
	orders := &fakeOrders{}
	ex, _ := newExecutor(db, orders, domain.ModeLive, 1)
	ctx := context.Background()

	res, err := ex.Run(ctx)
	require.NoError(t, err)

	require.Len(t, res.Decisions, 3)
	assert.Equal(t, domain.VerdictPermitted, res.Decisions[0].Verdict)
	assert.Equal(t, domain.VerdictRefusedCap, res.Decisions[1].Verdict)
	assert.Equal(t, domain.VerdictRefusedCap, res.Decisions[2].Verdict)
	assert.Len(t, orders.calls, 1)
	assert.Equal(t, 1, res.Placed)
	assert.Equal(t, 1, res.State.TradesExecuted)
	assert.Equal(t, domain.PhaseCompleted, res.State.Phase)

	cycles, err := db.RecentCycles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, 1, cycles[0].TradesExecuted)
	assert.Equal(t, domain.PhaseCompleted, cycles[0].Phase)

	stored, err := db.Decisions(ctx, res.State.CycleID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "1001", stored[0].OrderID)

	pending, err := db.PendingIntents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "refused intents are consumed too")

	snap, events, err := db.LoadCoherent(ctx, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, snap)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PlacedEventID("1001"), events[0].EventID)
	assert.Equal(t, "300", events[0].ReserveDelta.String())
}

func TestRun_ReadOnlyNeverPlaces(t *testing.T) {
	db := newDB(t)
	enqueueBuys(t, db, 1)
	orders := &fakeOrders{}
	ex, _ := newExecutor(db, orders, domain.ModeLiveReadOnly, 1)

	res, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, domain.VerdictRefusedReadOnly, res.Decisions[0].Verdict)
	assert.Equal(t, 0, res.State.TradesExecuted)
	assert.Empty(t, orders.calls)
}

func TestRun_SimulationWithoutExecutor(t *testing.T) {
	db := newDB(t)
	enqueueBuys(t, db, 2)
	ex, _ := newExecutor(db, nil, domain.ModeSimulation, 1)

	res, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Decisions, 2)
	for _, d := range res.Decisions {
		assert.Equal(t, domain.VerdictSimulated, d.Verdict)
		assert.False(t, d.Executing)
	}
	assert.Equal(t, 0, res.State.TradesExecuted)
}

func TestRun_LiveRequiresExecutor(t *testing.T) {
	ex, _ := newExecutor(newDB(t), nil, domain.ModeLive, 1)
	_, err := ex.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_OrderErrorStillCounts(t *testing.T) {
	db := newDB(t)
	enqueueBuys(t, db, 2)
	orders := &fakeOrders{err: errors.New("venue said no")}
	ex, _ := newExecutor(db, orders, domain.ModeLive, 1)
	ctx := context.Background()

	res, err := ex.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.State.TradesExecuted, "the attempt consumed the slot")
	assert.Equal(t, domain.VerdictRefusedCap, res.Decisions[1].Verdict)

	stored, err := db.Decisions(ctx, res.State.CycleID)
	require.NoError(t, err)
	assert.Equal(t, "venue said no", stored[0].Error)

	_, events, err := db.LoadCoherent(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRun_CancelledMidCycleKeepsCommittedCount(t *testing.T) {
	db := newDB(t)
	enqueueBuys(t, db, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orders := &fakeOrders{onPlace: cancel}
	ex, _ := newExecutor(db, orders, domain.ModeLive, 3)

	res, err := ex.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.PhaseAborted, res.State.Phase)
	assert.Equal(t, 1, res.State.TradesExecuted)

	cycles, err := db.RecentCycles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, domain.PhaseAborted, cycles[0].Phase)
	assert.Equal(t, 1, cycles[0].TradesExecuted)

	pending, err := db.PendingIntents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRun_NoIntents(t *testing.T) {
	ex, _ := newExecutor(newDB(t), &fakeOrders{}, domain.ModeLive, 1)
	res, err := ex.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Decisions)
	assert.Equal(t, domain.PhaseCompleted, res.State.Phase)
}
