package domain

import "time"

// Position is one holding reported by the venue.
type Position struct {
	Symbol       string  `json:"symbol"`
	Shares       float64 `json:"shares"`
	AveragePrice float64 `json:"average_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
}

// TotalValue is the cost basis of the position.
func (p Position) TotalValue() float64 {
	return p.Shares * p.AveragePrice
}

// GainLoss is market value minus cost basis.
func (p Position) GainLoss() float64 {
	return p.MarketValue - p.TotalValue()
}

// GainLossPct returns the gain/loss as a percentage of cost basis.
func (p Position) GainLossPct() float64 {
	cost := p.TotalValue()
	if cost == 0 {
		return 0
	}
	return p.GainLoss() / cost * 100
}

// BrokerSnapshot is one polled view of the account. Immutable once received and
// superseded wholesale by the next poll. Optional figures are nil when the venue
// did not report them.
type BrokerSnapshot struct {
	AsOf                  time.Time   `json:"as_of"`
	AccountHash           string      `json:"account_hash,omitempty"`
	AccountNumber         string      `json:"account_number,omitempty"`
	AccountType           string      `json:"account_type,omitempty"`
	CashBalance           *float64    `json:"cash_balance"`
	BuyingPower           *float64    `json:"buying_power"`
	DayTradingBuyingPower *float64    `json:"day_trading_buying_power"`
	FundsForTrading       *float64    `json:"funds_for_trading"` // explicit venue figure
	Positions             []Position  `json:"positions"`
	OpenOrdersCount       int         `json:"open_orders_count"`
	OpenOrders            []OpenOrder `json:"open_orders,omitempty"`
}

// OpenOrder is a working order listed with the snapshot. Reserve is the
// estimated cash its buy legs hold.
type OpenOrder struct {
	OrderID string  `json:"order_id"`
	Reserve float64 `json:"reserve"`
}

// MarketValue sums the market value of every position.
func (s BrokerSnapshot) MarketValue() float64 {
	var total float64
	for _, p := range s.Positions {
		total += p.MarketValue
	}
	return total
}

// Float returns a pointer to v, for optional snapshot fields.
func Float(v float64) *float64 {
	return &v
}

// Deref returns *v or 0 when v is nil.
func Deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
