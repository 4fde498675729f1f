package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// SaveUnit hace upsert del handle de un proceso supervisado.
func (s *SQLiteStorage) SaveUnit(ctx context.Context, h domain.ProcessHandle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (name, pid, started_at_ns, log_sink, status, exit_code, exited_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			pid = excluded.pid,
			started_at_ns = excluded.started_at_ns,
			log_sink = excluded.log_sink,
			status = excluded.status,
			exit_code = excluded.exit_code,
			exited_at_ns = excluded.exited_at_ns`,
		h.Name, h.PID, toNanos(h.StartedAt), h.LogSink, string(h.Status), h.ExitCode, nullNanos(h.ExitedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveUnit: %s: %w", h.Name, err)
	}
	return nil
}

// GetUnit devuelve el handle de name; ok es false si nunca se registró.
func (s *SQLiteStorage) GetUnit(ctx context.Context, name string) (domain.ProcessHandle, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, pid, started_at_ns, log_sink, status, exit_code, exited_at_ns
		FROM units WHERE name = ?`, name)
	h, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProcessHandle{}, false, nil
	}
	if err != nil {
		return domain.ProcessHandle{}, false, fmt.Errorf("storage.GetUnit: %s: %w", name, err)
	}
	return h, true, nil
}

// ListUnits devuelve todos los handles ordenados por nombre.
func (s *SQLiteStorage) ListUnits(ctx context.Context) ([]domain.ProcessHandle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, pid, started_at_ns, log_sink, status, exit_code, exited_at_ns
		FROM units ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListUnits: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessHandle
	for rows.Next() {
		h, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListUnits: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(r rowScanner) (domain.ProcessHandle, error) {
	var (
		h        domain.ProcessHandle
		started  int64
		status   string
		exitedAt sql.NullInt64
	)
	if err := r.Scan(&h.Name, &h.PID, &started, &h.LogSink, &status, &h.ExitCode, &exitedAt); err != nil {
		return h, err
	}
	h.StartedAt = fromNanos(started)
	h.Status = domain.UnitStatus(status)
	h.ExitedAt = fromNullNanos(exitedAt)
	return h, nil
}
