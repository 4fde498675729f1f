package ports

import (
	"context"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// SnapshotProvider polls the venue for a full account snapshot.
type SnapshotProvider interface {
	FetchSnapshot(ctx context.Context) (domain.BrokerSnapshot, error)
}

// EventSink receives one ledger event. A returned error means the event was not
// durably recorded and the source should redeliver it.
type EventSink func(ctx context.Context, ev domain.LedgerEvent) error

// ActivitySource streams funds-affecting order events. Delivery is at-least-once;
// Run blocks until ctx ends or the transport fails.
type ActivitySource interface {
	Run(ctx context.Context, sink EventSink) error
}
