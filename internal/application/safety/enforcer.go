// Package safety gates order execution on the trading mode and a hard
// per-cycle trade cap.
package safety

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// Enforcer owns the CycleState of the running cycle.
// Idle -> Active -> {Completed, Aborted}.
type Enforcer struct {
	mu    sync.Mutex
	state domain.CycleState
	now   func() time.Time
}

// New returns an idle enforcer.
func New() *Enforcer {
	return &Enforcer{
		state: domain.CycleState{Phase: domain.PhaseIdle},
		now:   time.Now,
	}
}

// WithClock replaces the clock (tests).
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// Begin opens a cycle capturing mode and cap. A cap below 1 is treated as 1.
// Returns domain.ErrCycleActive if a cycle is already open.
func (e *Enforcer) Begin(mode domain.TradingMode, limit int) (domain.CycleState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == domain.PhaseActive {
		return e.state, domain.ErrCycleActive
	}
	if limit < 1 {
		limit = 1
	}
	now := e.now().UTC()
	e.state = domain.CycleState{
		CycleID:   ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		StartedAt: now,
		Cap:       limit,
		Mode:      mode,
		Phase:     domain.PhaseActive,
	}
	return e.state, nil
}

// Evaluate decides one proposal. Checks run in order: no active cycle,
// simulation, read-only, cap. The cap check and the increment happen under
// one lock so concurrent proposals can never both pass the last slot.
func (e *Enforcer) Evaluate(intent domain.TradeIntent) domain.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := domain.Decision{
		CycleID:   e.state.CycleID,
		IntentID:  intent.ID,
		DecidedAt: e.now().UTC(),
	}

	switch {
	case e.state.Phase != domain.PhaseActive:
		d.Verdict = domain.VerdictRefusedInactive
	case e.state.Mode == domain.ModeSimulation:
		d.Verdict = domain.VerdictSimulated
	case e.state.Mode == domain.ModeLiveReadOnly:
		d.Verdict = domain.VerdictRefusedReadOnly
	case e.state.Mode != domain.ModeLive:
		// unknown modes never trade
		d.Verdict = domain.VerdictSimulated
	case e.state.TradesExecuted >= e.state.Cap:
		d.Verdict = domain.VerdictRefusedCap
	default:
		e.state.TradesExecuted++
		d.Verdict = domain.VerdictPermitted
		d.Executing = true
	}
	d.TradesExecuted = e.state.TradesExecuted
	return d
}

// Complete closes the active cycle normally.
func (e *Enforcer) Complete() domain.CycleState {
	return e.finish(domain.PhaseCompleted)
}

// Abort closes the active cycle early. trades_executed keeps its last value.
func (e *Enforcer) Abort() domain.CycleState {
	return e.finish(domain.PhaseAborted)
}

func (e *Enforcer) finish(phase domain.CyclePhase) domain.CycleState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == domain.PhaseActive {
		now := e.now().UTC()
		e.state.FinishedAt = &now
		e.state.Phase = phase
	}
	return e.state
}

// State returns a copy of the current cycle state.
func (e *Enforcer) State() domain.CycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
