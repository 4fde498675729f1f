package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// AppendEvent implementa ports.LedgerStore. Devuelve false si el event_id ya existía.
func (s *SQLiteStorage) AppendEvent(ctx context.Context, ev domain.LedgerEvent) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, fmt.Errorf("storage.AppendEvent: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_events
			(event_id, occurred_at_ns, kind, cash_delta, reserve_delta, order_id, symbol, recorded_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.OccurredAt.UnixNano(), string(ev.Kind),
		ev.CashDelta.String(), ev.ReserveDelta.String(),
		ev.OrderID, ev.Symbol, s.now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("storage.AppendEvent: %s: %w", ev.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.AppendEvent: rows affected: %w", err)
	}
	return n == 1, nil
}

// SaveSnapshot implementa ports.LedgerStore.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap domain.BrokerSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: marshal: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: begin: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(as_of_ns) FROM broker_snapshots`).Scan(&latest); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: latest: %w", err)
	}
	asOf := snap.AsOf.UnixNano()
	if latest.Valid && asOf < latest.Int64 {
		return fmt.Errorf("storage.SaveSnapshot: as_of %s < %s: %w",
			snap.AsOf.UTC().Format(time.RFC3339Nano), fromNanos(latest.Int64).Format(time.RFC3339Nano), domain.ErrStaleSnapshot)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO broker_snapshots (as_of_ns, payload) VALUES (?, ?)`, asOf, string(payload)); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM broker_snapshots WHERE as_of_ns NOT IN (
			SELECT as_of_ns FROM broker_snapshots ORDER BY as_of_ns DESC LIMIT ?
		)`, maxSnapshots); err != nil {
		return fmt.Errorf("storage.SaveSnapshot: prune: %w", err)
	}
	return tx.Commit()
}

// LatestSnapshot implementa ports.LedgerStore.
func (s *SQLiteStorage) LatestSnapshot(ctx context.Context) (domain.BrokerSnapshot, error) {
	snap, err := latestSnapshot(ctx, s.db)
	if err != nil {
		return domain.BrokerSnapshot{}, fmt.Errorf("storage.LatestSnapshot: %w", err)
	}
	if snap == nil {
		return domain.BrokerSnapshot{}, fmt.Errorf("storage.LatestSnapshot: %w", domain.ErrNoSnapshot)
	}
	return *snap, nil
}

// LoadCoherent lee snapshot y eventos en una sola transacción de lectura: el
// par que devuelve siempre es consistente aunque el helper esté escribiendo.
// Si el snapshot es anterior a horizon, los eventos se leen desde su as_of.
func (s *SQLiteStorage) LoadCoherent(ctx context.Context, horizon time.Time) (*domain.BrokerSnapshot, []domain.LedgerEvent, error) {
	// Transacción diferida: en WAL la primera lectura fija el snapshot de la DB.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("storage.LoadCoherent: begin: %w", err)
	}
	defer tx.Rollback()

	snap, err := latestSnapshot(ctx, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("storage.LoadCoherent: %w", err)
	}

	from := horizon
	if snap != nil && snap.AsOf.Before(from) {
		from = snap.AsOf
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, occurred_at_ns, kind, cash_delta, reserve_delta, order_id, symbol
		FROM ledger_events
		WHERE occurred_at_ns >= ?
		ORDER BY occurred_at_ns, seq`, toNanos(from))
	if err != nil {
		return nil, nil, fmt.Errorf("storage.LoadCoherent: query events: %w", err)
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("storage.LoadCoherent: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("storage.LoadCoherent: %w", err)
	}
	return snap, events, nil
}

// RecentEventIDs devuelve los ids más recientes, del más nuevo al más viejo.
func (s *SQLiteStorage) RecentEventIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id FROM ledger_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentEventIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage.RecentEventIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestSnapshot(ctx context.Context, q queryer) (*domain.BrokerSnapshot, error) {
	var payload string
	err := q.QueryRowContext(ctx,
		`SELECT payload FROM broker_snapshots ORDER BY as_of_ns DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	var snap domain.BrokerSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func scanEvent(rows *sql.Rows) (domain.LedgerEvent, error) {
	var (
		ev            domain.LedgerEvent
		occurred      int64
		kind          string
		cash, reserve string
	)
	if err := rows.Scan(&ev.EventID, &occurred, &kind, &cash, &reserve, &ev.OrderID, &ev.Symbol); err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	ev.OccurredAt = fromNanos(occurred)
	ev.Kind = domain.EventKind(kind)

	var err error
	if ev.CashDelta, err = decimal.NewFromString(cash); err != nil {
		return ev, fmt.Errorf("event %s: cash_delta: %w", ev.EventID, err)
	}
	if ev.ReserveDelta, err = decimal.NewFromString(reserve); err != nil {
		return ev, fmt.Errorf("event %s: reserve_delta: %w", ev.EventID, err)
	}
	return ev, nil
}
