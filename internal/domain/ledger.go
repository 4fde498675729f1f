package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies a funds-affecting order event.
type EventKind string

const (
	EventOrderPlaced   EventKind = "order_placed"
	EventOrderFilled   EventKind = "order_filled"
	EventOrderCanceled EventKind = "order_canceled"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventOrderPlaced, EventOrderFilled, EventOrderCanceled:
		return true
	}
	return false
}

// LedgerEvent is an append-only entry of the shadow ledger.
// CashDelta is signed (sell proceeds positive, buy debits negative).
// ReserveDelta is positive when funds are held for an open buy and negative
// when that hold is released by a fill or a cancel.
type LedgerEvent struct {
	EventID      string          `json:"event_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Kind         EventKind       `json:"kind"`
	CashDelta    decimal.Decimal `json:"cash_delta"`
	ReserveDelta decimal.Decimal `json:"reserve_delta"`
	OrderID      string          `json:"order_id,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
}

// Validate checks the fields every consumer relies on.
func (e LedgerEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("ledger event: missing event_id")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("ledger event %s: unknown kind %q", e.EventID, e.Kind)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("ledger event %s: missing occurred_at", e.EventID)
	}
	return nil
}

// PlacedEventID is the event id used for an order acceptance, shared by the
// executor and the activity stream so both sources collapse to one event.
func PlacedEventID(orderID string) string { return "placed:" + orderID }

// FillEventID identifies one execution of an order.
func FillEventID(orderID, executionID string) string {
	return "fill:" + orderID + ":" + executionID
}

// CancelEventID identifies the cancel of an order.
func CancelEventID(orderID string) string { return "cancel:" + orderID }
