package storage

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// EnqueueIntent agrega un intent pendiente. Un id repetido se ignora.
func (s *SQLiteStorage) EnqueueIntent(ctx context.Context, in domain.TradeIntent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trade_intents
			(id, symbol, side, quantity, limit_price, amount_usd, reason, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Symbol, string(in.Side), in.Quantity, in.LimitPrice, in.AmountUSD, in.Reason, toNanos(in.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.EnqueueIntent: %s: %w", in.ID, err)
	}
	return nil
}

// PendingIntents devuelve los intents no consumidos, los más viejos primero.
func (s *SQLiteStorage) PendingIntents(ctx context.Context, limit int) ([]domain.TradeIntent, error) {
	return s.queryIntents(ctx, `WHERE status = 'pending' ORDER BY created_at_ns, id LIMIT ?`, limit)
}

// ListIntents devuelve los últimos intents en cualquier estado.
func (s *SQLiteStorage) ListIntents(ctx context.Context, limit int) ([]domain.TradeIntent, error) {
	return s.queryIntents(ctx, `ORDER BY created_at_ns DESC, id LIMIT ?`, limit)
}

func (s *SQLiteStorage) queryIntents(ctx context.Context, tail string, args ...any) ([]domain.TradeIntent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, limit_price, amount_usd, reason, created_at_ns, status
		FROM trade_intents `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryIntents: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeIntent
	for rows.Next() {
		var (
			in      domain.TradeIntent
			side    string
			created int64
			status  string
		)
		if err := rows.Scan(&in.ID, &in.Symbol, &side, &in.Quantity, &in.LimitPrice, &in.AmountUSD, &in.Reason, &created, &status); err != nil {
			return nil, fmt.Errorf("storage.queryIntents: scan: %w", err)
		}
		in.Side = domain.Side(side)
		in.CreatedAt = fromNanos(created)
		in.Status = domain.IntentStatus(status)
		out = append(out, in)
	}
	return out, rows.Err()
}
