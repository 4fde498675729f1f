package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// StartCycle registra un ciclo recién abierto.
func (s *SQLiteStorage) StartCycle(ctx context.Context, st domain.CycleState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (cycle_id, started_at_ns, trades_executed, cap, mode, phase)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.CycleID, toNanos(st.StartedAt), st.TradesExecuted, st.Cap, string(st.Mode), string(st.Phase),
	)
	if err != nil {
		return fmt.Errorf("storage.StartCycle: %s: %w", st.CycleID, err)
	}
	return nil
}

// RecordDecision guarda la decisión, el contador del ciclo y el consumo del
// intent en la misma transacción: si el executor muere después del commit, el
// contador persistido es el último incremento confirmado.
func (s *SQLiteStorage) RecordDecision(ctx context.Context, d domain.Decision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordDecision: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decisions (cycle_id, intent_id, verdict, executing, trades_executed, order_id, error, decided_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CycleID, d.IntentID, string(d.Verdict), boolToInt(d.Executing), d.TradesExecuted,
		d.OrderID, d.Error, toNanos(d.DecidedAt),
	); err != nil {
		return fmt.Errorf("storage.RecordDecision: insert: %w", err)
	}

	// trades_executed solo crece.
	if _, err := tx.ExecContext(ctx, `
		UPDATE cycles SET trades_executed = MAX(trades_executed, ?) WHERE cycle_id = ?`,
		d.TradesExecuted, d.CycleID,
	); err != nil {
		return fmt.Errorf("storage.RecordDecision: update cycle: %w", err)
	}

	if d.IntentID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE trade_intents SET status = 'consumed', cycle_id = ?
			WHERE id = ? AND status = 'pending'`,
			d.CycleID, d.IntentID,
		); err != nil {
			return fmt.Errorf("storage.RecordDecision: consume intent: %w", err)
		}
	}
	return tx.Commit()
}

// AttachOrder completa una decisión ya confirmada con el resultado del venue.
func (s *SQLiteStorage) AttachOrder(ctx context.Context, cycleID, intentID, orderID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET order_id = ?, error = ?
		WHERE cycle_id = ? AND intent_id = ?`,
		orderID, errMsg, cycleID, intentID,
	)
	if err != nil {
		return fmt.Errorf("storage.AttachOrder: %s/%s: %w", cycleID, intentID, err)
	}
	return nil
}

// FinishCycle cierra el ciclo con su fase final.
func (s *SQLiteStorage) FinishCycle(ctx context.Context, st domain.CycleState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cycles
		SET finished_at_ns = ?, trades_executed = MAX(trades_executed, ?), phase = ?
		WHERE cycle_id = ?`,
		nullNanos(st.FinishedAt), st.TradesExecuted, string(st.Phase), st.CycleID,
	)
	if err != nil {
		return fmt.Errorf("storage.FinishCycle: %s: %w", st.CycleID, err)
	}
	return nil
}

// RecentCycles devuelve los últimos n ciclos, del más nuevo al más viejo.
func (s *SQLiteStorage) RecentCycles(ctx context.Context, n int) ([]domain.CycleState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id, started_at_ns, finished_at_ns, trades_executed, cap, mode, phase
		FROM cycles ORDER BY started_at_ns DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentCycles: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleState
	for rows.Next() {
		var (
			st          domain.CycleState
			started     int64
			finished    sql.NullInt64
			mode, phase string
		)
		if err := rows.Scan(&st.CycleID, &started, &finished, &st.TradesExecuted, &st.Cap, &mode, &phase); err != nil {
			return nil, fmt.Errorf("storage.RecentCycles: scan: %w", err)
		}
		st.StartedAt = fromNanos(started)
		st.FinishedAt = fromNullNanos(finished)
		st.Mode = domain.TradingMode(mode)
		st.Phase = domain.CyclePhase(phase)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Decisions devuelve las decisiones de un ciclo en orden.
func (s *SQLiteStorage) Decisions(ctx context.Context, cycleID string) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id, intent_id, verdict, executing, trades_executed, order_id, error, decided_at_ns
		FROM decisions WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("storage.Decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		var (
			d         domain.Decision
			verdict   string
			executing int
			decided   int64
		)
		if err := rows.Scan(&d.CycleID, &d.IntentID, &verdict, &executing, &d.TradesExecuted, &d.OrderID, &d.Error, &decided); err != nil {
			return nil, fmt.Errorf("storage.Decisions: scan: %w", err)
		}
		d.Verdict = domain.Verdict(verdict)
		d.Executing = executing == 1
		d.DecidedAt = fromNanos(decided)
		out = append(out, d)
	}
	return out, rows.Err()
}
