package funds

import (
	"fmt"
	"sync"

	"github.com/alejandrodnm/daitrader/internal/application/ledger"
	"github.com/alejandrodnm/daitrader/internal/domain"
)

// Book holds the latest snapshot and the ledger as one coherent pair. Views are
// computed under the read lock so a snapshot is never paired with deltas
// folded against a different one.
type Book struct {
	mu     sync.RWMutex
	snap   *domain.BrokerSnapshot
	ledger *ledger.Ledger
	opts   Options
}

// NewBook wraps l. snap may be nil until the first poll.
func NewBook(snap *domain.BrokerSnapshot, l *ledger.Ledger, opts Options) *Book {
	return &Book{snap: snap, ledger: l, opts: opts}
}

// ApplySnapshot replaces the snapshot wholesale. An older snapshot than the
// current one is discarded with domain.ErrStaleSnapshot.
func (b *Book) ApplySnapshot(snap domain.BrokerSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snap != nil && snap.AsOf.Before(b.snap.AsOf) {
		return fmt.Errorf("funds.ApplySnapshot: %w", domain.ErrStaleSnapshot)
	}
	b.snap = &snap
	return nil
}

// Append records ev in the ledger under the write lock.
func (b *Book) Append(ev domain.LedgerEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Append(ev)
}

// Ledger exposes the underlying ledger for reserve sizing and compaction.
func (b *Book) Ledger() *ledger.Ledger { return b.ledger }

// Snapshot returns a copy of the current snapshot, nil before the first poll.
func (b *Book) Snapshot() *domain.BrokerSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.snap == nil {
		return nil
	}
	s := *b.snap
	return &s
}

// View reconciles the current pair.
func (b *Book) View() domain.ReconciledFundsView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Reconcile(b.snap, b.ledger, b.opts)
}
