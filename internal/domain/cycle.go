package domain

import (
	"strings"
	"time"
)

// TradingMode gates whether orders reach the venue.
type TradingMode string

const (
	ModeSimulation   TradingMode = "simulation"
	ModeLiveReadOnly TradingMode = "live_readonly"
	ModeLive         TradingMode = "live"
)

// ParseTradingMode normalises a configured mode. Unknown values fall back to
// simulation so a typo never enables live trading.
func ParseTradingMode(raw string) TradingMode {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "live", "real_world", "realworld", "real":
		return ModeLive
	case "live_readonly", "readonly", "live_view", "read_only":
		return ModeLiveReadOnly
	default:
		return ModeSimulation
	}
}

// CyclePhase is the enforcer's state machine position.
type CyclePhase string

const (
	PhaseIdle      CyclePhase = "idle"
	PhaseActive    CyclePhase = "active"
	PhaseCompleted CyclePhase = "completed"
	PhaseAborted   CyclePhase = "aborted"
)

// CycleState belongs to the safety enforcer for the duration of one cycle.
// TradesExecuted only ever increments.
type CycleState struct {
	CycleID        string
	StartedAt      time.Time
	FinishedAt     *time.Time
	TradesExecuted int
	Cap            int
	Mode           TradingMode
	Phase          CyclePhase
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	}
	return "", false
}

// TradeIntent is a buy/sell proposal produced by the decision collaborator.
type TradeIntent struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   float64
	LimitPrice float64 // 0 = market order
	AmountUSD  float64
	Reason     string
	CreatedAt  time.Time
	Status     IntentStatus
}

// IntentStatus tracks whether a cycle has already decided on an intent.
type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentConsumed IntentStatus = "consumed"
)

// Notional returns the dollar amount of the intent.
func (i TradeIntent) Notional() float64 {
	if i.AmountUSD > 0 {
		return i.AmountUSD
	}
	return i.Quantity * i.LimitPrice
}

// Verdict is the enforcer's answer for one proposal. Refusals are ordinary
// results, not errors.
type Verdict string

const (
	VerdictPermitted       Verdict = "permitted"
	VerdictSimulated       Verdict = "simulated"
	VerdictRefusedReadOnly Verdict = "refused_read_only"
	VerdictRefusedCap      Verdict = "refused_cap_exceeded"
	VerdictRefusedInactive Verdict = "refused_inactive"
)

// Refused reports whether the verdict blocks the proposal.
func (v Verdict) Refused() bool {
	return strings.HasPrefix(string(v), "refused_")
}

// Decision records what happened to one proposal within a cycle.
type Decision struct {
	CycleID        string
	IntentID       string
	Verdict        Verdict
	Executing      bool
	TradesExecuted int
	OrderID        string
	Error          string
	DecidedAt      time.Time
}

// PlacedOrder is the venue's acknowledgement of a submitted order.
type PlacedOrder struct {
	OrderID     string
	SubmittedAt time.Time
}
