package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// LedgerStore is the durable shared store between the streaming helper (writer)
// and the dashboard and cycle executor (readers).
type LedgerStore interface {
	// AppendEvent returns false when the event_id was already stored.
	AppendEvent(ctx context.Context, ev domain.LedgerEvent) (bool, error)

	// SaveSnapshot returns domain.ErrStaleSnapshot when snap is older than the
	// newest stored snapshot; the stored one is kept.
	SaveSnapshot(ctx context.Context, snap domain.BrokerSnapshot) error

	// LatestSnapshot returns domain.ErrNoSnapshot when nothing was stored yet.
	LatestSnapshot(ctx context.Context) (domain.BrokerSnapshot, error)

	// LoadCoherent reads the latest snapshot and every event since horizon, or
	// since the snapshot's as_of when that is earlier, in a single read
	// transaction. snap is nil when no snapshot exists.
	LoadCoherent(ctx context.Context, horizon time.Time) (*domain.BrokerSnapshot, []domain.LedgerEvent, error)

	// RecentEventIDs returns up to limit of the most recently stored ids.
	RecentEventIDs(ctx context.Context, limit int) ([]string, error)

	Close() error
}

// UnitStatusStore records supervised unit handles so other processes can see
// whether the streaming helper is alive.
type UnitStatusStore interface {
	SaveUnit(ctx context.Context, h domain.ProcessHandle) error
	GetUnit(ctx context.Context, name string) (domain.ProcessHandle, bool, error)
	ListUnits(ctx context.Context) ([]domain.ProcessHandle, error)
}

// CycleStore keeps the audit trail of trading cycles.
type CycleStore interface {
	StartCycle(ctx context.Context, st domain.CycleState) error
	// RecordDecision persists the decision and, in the same transaction, the
	// cycle's trades_executed counter and the intent's consumption.
	RecordDecision(ctx context.Context, d domain.Decision) error
	// AttachOrder stores the venue outcome of an already recorded decision.
	AttachOrder(ctx context.Context, cycleID, intentID, orderID, errMsg string) error
	FinishCycle(ctx context.Context, st domain.CycleState) error
}

// IntentStore is the queue the decision collaborator writes trade intents into.
type IntentStore interface {
	EnqueueIntent(ctx context.Context, in domain.TradeIntent) error
	PendingIntents(ctx context.Context, limit int) ([]domain.TradeIntent, error)
}
