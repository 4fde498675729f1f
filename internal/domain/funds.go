package domain

import "time"

// FundsComponents is the breakdown behind the effective funds figure.
// Explicit, DerivedCash and SettledCash are nil when their source is missing.
type FundsComponents struct {
	Effective       float64  `json:"effective"`
	Explicit        *float64 `json:"explicit"`
	DerivedCash     *float64 `json:"derived_cash"`
	SettledCash     *float64 `json:"settled_cash"`
	UnsettledCash   float64  `json:"unsettled_cash"`
	OrderReserve    float64  `json:"order_reserve"`
	OpenOrdersCount int      `json:"open_orders_count"`
	SameDayNet      float64  `json:"same_day_net"`
}

// ReconciledFundsView is derived on every snapshot or ledger change and never
// persisted as source of truth.
type ReconciledFundsView struct {
	FundsComponents
	EffectiveSource string    `json:"effective_source"`
	AsOf            time.Time `json:"as_of"`
	Stale           bool      `json:"stale"`
}
