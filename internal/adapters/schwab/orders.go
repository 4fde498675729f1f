package schwab

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// PlaceOrder implementa ports.OrderExecutor. Órdenes DAY en sesión NORMAL;
// LimitPrice 0 = MARKET. El order id viene en el header Location.
func (c *Client) PlaceOrder(ctx context.Context, in domain.TradeIntent) (domain.PlacedOrder, error) {
	hash, err := c.AccountHash(ctx)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("schwab.PlaceOrder: %w", err)
	}
	if in.Quantity <= 0 {
		return domain.PlacedOrder{}, fmt.Errorf("schwab.PlaceOrder: %s: quantity must be positive", in.Symbol)
	}

	body := orderRequest{
		OrderType:         "MARKET",
		Session:           "NORMAL",
		Duration:          "DAY",
		OrderStrategyType: "SINGLE",
		OrderLegCollection: []orderLeg{{
			Instruction: string(in.Side),
			Quantity:    in.Quantity,
			Instrument:  instrument{Symbol: strings.ToUpper(in.Symbol), AssetType: "EQUITY"},
		}},
	}
	if in.LimitPrice > 0 {
		body.OrderType = "LIMIT"
		body.Price = strconv.FormatFloat(in.LimitPrice, 'f', 2, 64)
	}

	resp, err := c.postJSON(ctx, "/accounts/"+url.PathEscape(hash)+"/orders", body)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("schwab.PlaceOrder: %s %s: %w", in.Side, in.Symbol, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	var orderID string
	if loc := resp.Header.Get("Location"); loc != "" {
		orderID = path.Base(loc)
	}
	return domain.PlacedOrder{OrderID: orderID, SubmittedAt: c.now().UTC()}, nil
}
