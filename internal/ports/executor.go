package ports

import (
	"context"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// OrderExecutor submits real orders to the venue.
type OrderExecutor interface {
	// PlaceOrder submits the intent once. It is never retried by the adapter.
	PlaceOrder(ctx context.Context, intent domain.TradeIntent) (domain.PlacedOrder, error)
}
