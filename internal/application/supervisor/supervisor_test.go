package supervisor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/daitrader/internal/adapters/storage"
	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/application/supervisor"
	"github.com/alejandrodnm/daitrader/internal/domain"
)

var nextPID atomic.Int32

type fakeProc struct {
	pid        int
	exit       chan int
	once       sync.Once
	ignoreStop bool
	stops      atomic.Int32
	kills      atomic.Int32
}

func newProc() *fakeProc {
	return &fakeProc{pid: int(nextPID.Add(1)) + 100, exit: make(chan int, 1)}
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Wait() (int, error) { return <-p.exit, nil }

func (p *fakeProc) finish(code int) {
	p.once.Do(func() { p.exit <- code })
}

func (p *fakeProc) Stop() error {
	p.stops.Add(1)
	if !p.ignoreStop {
		p.finish(0)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.kills.Add(1)
	p.finish(-1)
	return nil
}

func launcherOf(p *fakeProc) func(context.Context) (supervisor.Process, error) {
	return func(context.Context) (supervisor.Process, error) { return p, nil }
}

func newDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type runResult struct{ err error }

func start(t *testing.T, s *supervisor.Supervisor, units []supervisor.Unit) (context.CancelFunc, <-chan runResult) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() { done <- runResult{err: s.Run(ctx, units)} }()
	t.Cleanup(cancel)
	return cancel, done
}

func wait(t *testing.T, done <-chan runResult) error {
	t.Helper()
	select {
	case r := <-done:
		return r.err
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func unitStatus(t *testing.T, db *storage.SQLiteStorage, name string) domain.UnitStatus {
	h, ok, err := db.GetUnit(context.Background(), name)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return h.Status
}

func TestSupervisor_StreamExitDegradesOnly(t *testing.T) {
	db := newDB(t)
	now := time.Now().UTC()
	require.NoError(t, db.SaveSnapshot(context.Background(),
		domain.BrokerSnapshot{AsOf: now, CashBalance: domain.Float(500)}))

	stream, dash := newProc(), newProc()
	s := supervisor.New(supervisor.Config{GracePeriod: time.Second}, db, nil)
	cancel, done := start(t, s, []supervisor.Unit{
		{Name: funds.StreamUnit, LongRunning: true, Policy: supervisor.PolicyDegrade, Launch: launcherOf(stream)},
		{Name: "dashboard", LongRunning: true, Policy: supervisor.PolicyFatal, Launch: launcherOf(dash)},
	})

	require.Eventually(t, func() bool { return unitStatus(t, db, "dashboard") == domain.UnitRunning }, 2*time.Second, 5*time.Millisecond)

	stream.finish(1)
	require.Eventually(t, func() bool { return unitStatus(t, db, funds.StreamUnit) == domain.UnitFailed }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(0), dash.stops.Load(), "dashboard keeps serving")
	assert.Equal(t, domain.UnitRunning, unitStatus(t, db, "dashboard"))

	res, err := funds.NewService(db, db, funds.Options{PollInterval: time.Hour}, true).Current(context.Background())
	require.NoError(t, err)
	assert.True(t, res.HelperDown)
	assert.True(t, res.View.Stale)
	assert.Equal(t, 500.0, res.View.Effective, "the view still renders")

	cancel()
	require.NoError(t, wait(t, done))
	assert.Equal(t, int32(1), dash.stops.Load())
	assert.Equal(t, domain.UnitExited, unitStatus(t, db, "dashboard"))
}

func TestSupervisor_DashboardExitIsFatal(t *testing.T) {
	stream, dash := newProc(), newProc()
	s := supervisor.New(supervisor.Config{GracePeriod: time.Second}, nil, nil)
	_, done := start(t, s, []supervisor.Unit{
		{Name: "stream", LongRunning: true, Policy: supervisor.PolicyDegrade, Launch: launcherOf(stream)},
		{Name: "dashboard", LongRunning: true, Policy: supervisor.PolicyFatal, Launch: launcherOf(dash)},
	})

	time.Sleep(20 * time.Millisecond)
	dash.finish(2)

	err := wait(t, done)
	assert.ErrorIs(t, err, domain.ErrUnitFailed)
	assert.Equal(t, int32(1), stream.stops.Load())
}

func TestSupervisor_KillsAfterGracePeriod(t *testing.T) {
	stubborn := newProc()
	stubborn.ignoreStop = true
	s := supervisor.New(supervisor.Config{GracePeriod: 30 * time.Millisecond}, nil, nil)
	cancel, done := start(t, s, []supervisor.Unit{
		{Name: "dashboard", LongRunning: true, Policy: supervisor.PolicyFatal, Launch: launcherOf(stubborn)},
	})

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, wait(t, done))
	assert.Equal(t, int32(1), stubborn.stops.Load())
	assert.Equal(t, int32(1), stubborn.kills.Load())
}

func TestSupervisor_FatalLaunchFailure(t *testing.T) {
	stream := newProc()
	s := supervisor.New(supervisor.Config{}, nil, nil)
	err := s.Run(context.Background(), []supervisor.Unit{
		{Name: "stream", LongRunning: true, Launch: launcherOf(stream)},
		{Name: "dashboard", LongRunning: true, Policy: supervisor.PolicyFatal,
			Launch: func(context.Context) (supervisor.Process, error) { return nil, errors.New("port in use") }},
	})
	assert.ErrorIs(t, err, domain.ErrUnitFailed)
	assert.Equal(t, int32(1), stream.stops.Load())
}

func TestSupervisor_OneShotCadence(t *testing.T) {
	db := newDB(t)
	var (
		mu    sync.Mutex
		procs []*fakeProc
	)
	launch := func(context.Context) (supervisor.Process, error) {
		mu.Lock()
		defer mu.Unlock()
		p := newProc()
		procs = append(procs, p)
		return p, nil
	}
	launched := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(procs)
	}

	s := supervisor.New(supervisor.Config{Cadence: 15 * time.Millisecond, GracePeriod: time.Second}, db, nil)
	cancel, done := start(t, s, []supervisor.Unit{
		{Name: "cycle", Launch: launch},
	})

	require.Eventually(t, func() bool { return launched() == 1 }, time.Second, time.Millisecond)
	// the first run outlives several ticks and is not launched twice
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, launched())

	mu.Lock()
	procs[0].finish(3)
	mu.Unlock()
	require.Eventually(t, func() bool { return launched() >= 2 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))

	h, ok, err := db.GetUnit(context.Background(), "cycle")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, domain.UnitRunning, h.Status)
	assert.NotNil(t, h.ExitedAt)
}

func TestSupervisor_OneShotExitCodeRecorded(t *testing.T) {
	db := newDB(t)
	p := newProc()
	p.finish(3)
	s := supervisor.New(supervisor.Config{Cadence: time.Hour}, db, nil)
	cancel, done := start(t, s, []supervisor.Unit{{Name: "cycle", Launch: launcherOf(p)}})

	require.Eventually(t, func() bool { return unitStatus(t, db, "cycle") == domain.UnitFailed }, 2*time.Second, 5*time.Millisecond)
	h, _, err := db.GetUnit(context.Background(), "cycle")
	require.NoError(t, err)
	assert.Equal(t, 3, h.ExitCode)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestSupervisor_StopFile(t *testing.T) {
	stopFile := filepath.Join(t.TempDir(), "STOP_TRADER")
	dash := newProc()
	s := supervisor.New(supervisor.Config{StopFile: stopFile, StopCheck: 5 * time.Millisecond}, nil, nil)
	_, done := start(t, s, []supervisor.Unit{
		{Name: "dashboard", LongRunning: true, Policy: supervisor.PolicyFatal, Launch: launcherOf(dash)},
	})

	require.NoError(t, os.WriteFile(stopFile, nil, 0o644))
	require.NoError(t, wait(t, done))
	assert.Equal(t, int32(1), dash.stops.Load())
	_, err := os.Stat(stopFile)
	assert.True(t, os.IsNotExist(err), "stop file is consumed")
}
