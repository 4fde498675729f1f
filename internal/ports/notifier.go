package ports

import (
	"context"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// Notifier presents the reconciled state to the operator.
type Notifier interface {
	// NotifyStatus shows the funds view and the state of the processes.
	NotifyStatus(ctx context.Context, view *domain.ReconciledFundsView, snap *domain.BrokerSnapshot, units []domain.ProcessHandle) error
}
