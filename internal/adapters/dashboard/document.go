package dashboard

import (
	"math"
	"strings"
	"time"

	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/domain"
)

// Read API statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusDisabled = "disabled"
)

// ReadOnlyWarning is added to every document outside live mode.
const ReadOnlyWarning = "READ-ONLY MODE: No trades will be executed"

// AccountInfo is the account block of the funds document.
type AccountInfo struct {
	BuyingPower           *float64 `json:"buying_power"`
	DayTradingBuyingPower *float64 `json:"day_trading_buying_power"`
	AccountHash           string   `json:"account_hash"`
	AccountNumber         string   `json:"account_number"`
	AccountType           string   `json:"account_type"`
}

// PositionDoc is one position row of the funds document.
type PositionDoc struct {
	Symbol       string  `json:"symbol"`
	Shares       float64 `json:"shares"`
	AveragePrice float64 `json:"average_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	TotalValue   float64 `json:"total_value"`
	GainLoss     float64 `json:"gain_loss"`
	GainLossPct  float64 `json:"gain_loss_percentage"`
}

// FundsDocument is what GET /api/funds returns. Consumers that only read a
// subset of the components apply the same fallback chain as funds.Effective.
type FundsDocument struct {
	Enabled                  bool                   `json:"enabled"`
	Status                   string                 `json:"status"`
	Message                  string                 `json:"message,omitempty"`
	TotalPortfolioValue      float64                `json:"total_portfolio_value"`
	CashBalance              *float64               `json:"cash_balance"`
	AccountInfo              AccountInfo            `json:"account_info"`
	Positions                []PositionDoc          `json:"positions"`
	FundsAvailableEffective  float64                `json:"funds_available_effective"`
	FundsAvailableComponents domain.FundsComponents `json:"funds_available_components"`
	EffectiveSource          string                 `json:"effective_source"`
	Stale                    bool                   `json:"stale"`
	ReadonlyMode             bool                   `json:"readonly_mode"`
	LiveTradingEnabled       bool                   `json:"live_trading_enabled"`
	LastUpdated              time.Time              `json:"last_updated"`
	Warning                  string                 `json:"warning,omitempty"`
}

// BuildDocument turns one read of the shared store into the API document. It
// only reports an error state when no data source is available at all.
func BuildDocument(res funds.Result, readErr error, mode domain.TradingMode, enabled bool, now time.Time) FundsDocument {
	doc := FundsDocument{
		Enabled:            enabled,
		ReadonlyMode:       mode != domain.ModeLive,
		LiveTradingEnabled: mode == domain.ModeLive,
		LastUpdated:        now.UTC(),
		Positions:          []PositionDoc{},
	}

	switch {
	case !enabled:
		doc.Status = StatusDisabled
		doc.Message = "venue integration is not configured"
		return doc
	case readErr != nil:
		doc.Status = StatusError
		doc.Message = readErr.Error()
		return doc
	case res.Snapshot == nil:
		doc.Status = StatusError
		doc.Message = "no broker snapshot available yet"
		return doc
	}

	snap := res.Snapshot
	view := res.View
	doc.Status = StatusSuccess
	doc.CashBalance = snap.CashBalance
	doc.TotalPortfolioValue = round2(domain.Deref(snap.CashBalance) + snap.MarketValue())
	doc.AccountInfo = AccountInfo{
		BuyingPower:           snap.BuyingPower,
		DayTradingBuyingPower: snap.DayTradingBuyingPower,
		AccountHash:           snap.AccountHash,
		AccountNumber:         snap.AccountNumber,
		AccountType:           snap.AccountType,
	}
	for _, p := range snap.Positions {
		doc.Positions = append(doc.Positions, PositionDoc{
			Symbol:       p.Symbol,
			Shares:       p.Shares,
			AveragePrice: p.AveragePrice,
			CurrentPrice: p.CurrentPrice,
			MarketValue:  p.MarketValue,
			TotalValue:   round2(p.TotalValue()),
			GainLoss:     round2(p.GainLoss()),
			GainLossPct:  round2(p.GainLossPct()),
		})
	}
	doc.FundsAvailableEffective = view.Effective
	doc.FundsAvailableComponents = view.FundsComponents
	doc.EffectiveSource = view.EffectiveSource
	doc.Stale = view.Stale
	doc.LastUpdated = view.AsOf.UTC()

	var warnings []string
	if mode != domain.ModeLive {
		warnings = append(warnings, ReadOnlyWarning)
	}
	if res.HelperDown {
		warnings = append(warnings, "streaming helper is down, ledger is not updating")
	}
	if view.Stale {
		warnings = append(warnings, "broker snapshot is stale, last update "+view.AsOf.UTC().Format(time.RFC3339))
	}
	doc.Warning = strings.Join(warnings, "; ")
	return doc
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
