package schwab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// AccountHash devuelve el hash configurado o, si no hay, el de la primera cuenta.
func (c *Client) AccountHash(ctx context.Context) (string, error) {
	if c.cfg.AccountHash != "" {
		return c.cfg.AccountHash, nil
	}
	var accounts []accountNumber
	if err := c.get(ctx, "/accounts/accountNumbers", &accounts); err != nil {
		return "", fmt.Errorf("schwab.AccountHash: %w", err)
	}
	if len(accounts) == 0 {
		return "", errors.New("schwab.AccountHash: no accounts linked to this login")
	}
	c.cfg.AccountHash = accounts[0].HashValue
	return c.cfg.AccountHash, nil
}

// FetchSnapshot implementa ports.SnapshotProvider.
// Balances y posiciones salen de una request; las órdenes abiertas de otra.
func (c *Client) FetchSnapshot(ctx context.Context) (domain.BrokerSnapshot, error) {
	hash, err := c.AccountHash(ctx)
	if err != nil {
		return domain.BrokerSnapshot{}, fmt.Errorf("schwab.FetchSnapshot: %w", err)
	}

	var acc accountResponse
	if err := c.get(ctx, "/accounts/"+url.PathEscape(hash)+"?fields=positions", &acc); err != nil {
		return domain.BrokerSnapshot{}, fmt.Errorf("schwab.FetchSnapshot: account: %w", err)
	}
	asOf := c.now().UTC()

	orders, err := c.openOrders(ctx, hash, asOf)
	if err != nil {
		return domain.BrokerSnapshot{}, fmt.Errorf("schwab.FetchSnapshot: orders: %w", err)
	}

	return mapAccount(acc.SecuritiesAccount, hash, orders, asOf), nil
}

// openOrders lista las órdenes de las últimas 24h; el filtrado por estado se hace al mapear.
func (c *Client) openOrders(ctx context.Context, hash string, now time.Time) ([]order, error) {
	q := url.Values{
		"fromEnteredTime": {now.Add(-24 * time.Hour).Format("2006-01-02T15:04:05.000Z")},
		"toEnteredTime":   {now.Format("2006-01-02T15:04:05.000Z")},
	}
	var orders []order
	if err := c.get(ctx, "/accounts/"+url.PathEscape(hash)+"/orders?"+q.Encode(), &orders); err != nil {
		return nil, err
	}
	return orders, nil
}
