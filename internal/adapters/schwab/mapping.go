package schwab

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// openOrderStatuses cuentan para open_orders_count.
var openOrderStatuses = map[string]bool{
	"WORKING":               true,
	"QUEUED":                true,
	"PENDING_ACTIVATION":    true,
	"PENDING_CANCEL":        true,
	"PENDING_REPLACE":       true,
	"ACCEPTED":              true,
	"AWAITING_PARENT_ORDER": true,
}

// mapAccount convierte la cuenta raw en un BrokerSnapshot.
func mapAccount(acc securitiesAccount, hash string, orders []order, asOf time.Time) domain.BrokerSnapshot {
	b := acc.CurrentBalances
	snap := domain.BrokerSnapshot{
		AsOf:                  asOf,
		AccountHash:           hash,
		AccountNumber:         acc.AccountNumber,
		AccountType:           acc.Type,
		CashBalance:           firstPresent(b.CashBalance, b.TotalCash),
		BuyingPower:           firstPresent(b.BuyingPower, b.AvailableFunds),
		DayTradingBuyingPower: b.DayTradingBuyingPower,
		FundsForTrading:       b.CashAvailableForTrading,
	}
	snap.OpenOrdersCount, snap.OpenOrders = openOrderHolds(orders)

	snap.Positions = make([]domain.Position, 0, len(acc.Positions))
	for _, p := range acc.Positions {
		shares := p.LongQuantity - p.ShortQuantity
		if shares == 0 {
			continue
		}
		snap.Positions = append(snap.Positions, domain.Position{
			Symbol:       p.Instrument.Symbol,
			Shares:       shares,
			AveragePrice: p.AveragePrice,
			CurrentPrice: p.MarketValue / shares,
			MarketValue:  p.MarketValue,
		})
	}
	return snap
}

func firstPresent(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// openOrderHolds cuenta las órdenes abiertas y estima cuánto efectivo retiene
// cada una: precio por cantidad de sus patas BUY. Sin precio no hay estimación.
func openOrderHolds(orders []order) (int, []domain.OpenOrder) {
	n := 0
	var open []domain.OpenOrder
	for _, o := range orders {
		if !openOrderStatuses[strings.ToUpper(o.Status)] {
			continue
		}
		n++
		open = append(open, domain.OpenOrder{OrderID: o.OrderID.String(), Reserve: estimateReserve(o)})
	}
	return n, open
}

func estimateReserve(o order) float64 {
	hint := o.Price
	if hint <= 0 {
		hint = o.EnteredPrice
	}
	total := decimal.Zero
	for _, leg := range o.OrderLegCollection {
		if leg.Quantity <= 0 || !strings.HasPrefix(strings.ToUpper(leg.Instruction), "BUY") {
			continue
		}
		price := leg.Price
		if price <= 0 {
			price = hint
		}
		if price <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(leg.Quantity)))
	}
	return total.Round(2).InexactFloat64()
}

// activityKind clasifica el tipo de mensaje del streamer.
func activityKind(messageType string) (domain.EventKind, bool) {
	t := strings.ToUpper(messageType)
	switch {
	case strings.Contains(t, "EXECUTION"), t == "TRADE", strings.Contains(t, "FILL"):
		return domain.EventOrderFilled, true
	case strings.Contains(t, "CANCEL"), strings.Contains(t, "UROUT"):
		return domain.EventOrderCanceled, true
	case strings.Contains(t, "ACCEPTED"), strings.Contains(t, "CREATED"):
		return domain.EventOrderPlaced, true
	}
	return "", false
}

// MapActivity convierte un evento de cuenta en un LedgerEvent. Devuelve false
// para mensajes que no afectan fondos.
//
// Signos: una venta ejecutada suma (importe - fees) a cash, una compra resta
// (importe + fees) y libera hasta su importe de reserva. Una orden de compra
// aceptada reserva qty * price. El cancel sale con reserva cero: el ledger la
// completa con lo que quede reservado para esa orden.
func MapActivity(messageType string, a Activity, received time.Time) (domain.LedgerEvent, bool) {
	if a.ActivityType != "" {
		messageType = a.ActivityType
	}
	kind, ok := activityKind(messageType)
	if !ok {
		return domain.LedgerEvent{}, false
	}
	orderID := a.OrderID.String()
	if orderID == "" {
		return domain.LedgerEvent{}, false
	}

	occurred := received.UTC()
	if a.Timestamp > 0 {
		occurred = time.UnixMilli(a.Timestamp).UTC()
	}

	side := strings.ToUpper(a.Instruction)
	if side == "" {
		side = strings.ToUpper(a.OrderAction)
	}
	buy := strings.HasPrefix(side, "BUY")
	sell := strings.HasPrefix(side, "SELL")

	price := a.FillPrice
	if price == 0 {
		price = a.Price
	}
	amount := decimal.NewFromFloat(a.Quantity).Mul(decimal.NewFromFloat(price)).Abs()
	fees := decimal.NewFromFloat(a.Fees).Abs()

	ev := domain.LedgerEvent{
		OccurredAt:   occurred,
		Kind:         kind,
		CashDelta:    decimal.Zero,
		ReserveDelta: decimal.Zero,
		OrderID:      orderID,
		Symbol:       strings.ToUpper(a.Symbol),
	}

	switch kind {
	case domain.EventOrderPlaced:
		ev.EventID = domain.PlacedEventID(orderID)
		if buy {
			ev.ReserveDelta = amount
		}
	case domain.EventOrderFilled:
		execID := a.ExecutionID
		if execID == "" {
			execID = occurred.Format("20060102T150405.000")
		}
		ev.EventID = domain.FillEventID(orderID, execID)
		switch {
		case sell:
			ev.CashDelta = amount.Sub(fees)
		case buy:
			ev.CashDelta = amount.Add(fees).Neg()
			ev.ReserveDelta = amount.Neg()
		default:
			return domain.LedgerEvent{}, false
		}
	case domain.EventOrderCanceled:
		ev.EventID = domain.CancelEventID(orderID)
	}
	return ev, true
}
