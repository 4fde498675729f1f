package storage

// sqlite.go: store compartido entre procesos.
//
// Estrategia:
//   - `ledger_events`: append-only, event_id único. INSERT OR IGNORE absorbe
//     reentregas del stream aunque el helper se haya reiniciado.
//   - `broker_snapshots`: un payload JSON por poll; nunca se acepta uno más viejo
//     que el último guardado. Se conservan los últimos maxSnapshots.
//   - `units`, `cycles`, `decisions`, `trade_intents`: estado y auditoría.
//   - Tiempos en INTEGER (unix nanos) para ordenar sin parsear.
//   - WAL + busy_timeout: los lectores nunca bloquean al escritor.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id       TEXT    NOT NULL UNIQUE,
    occurred_at_ns INTEGER NOT NULL,
    kind           TEXT    NOT NULL,
    cash_delta     TEXT    NOT NULL DEFAULT '0',
    reserve_delta  TEXT    NOT NULL DEFAULT '0',
    order_id       TEXT    NOT NULL DEFAULT '',
    symbol         TEXT    NOT NULL DEFAULT '',
    recorded_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS broker_snapshots (
    as_of_ns INTEGER PRIMARY KEY,
    payload  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS units (
    name          TEXT PRIMARY KEY,
    pid           INTEGER NOT NULL DEFAULT 0,
    started_at_ns INTEGER NOT NULL DEFAULT 0,
    log_sink      TEXT    NOT NULL DEFAULT '',
    status        TEXT    NOT NULL,
    exit_code     INTEGER NOT NULL DEFAULT 0,
    exited_at_ns  INTEGER
);

CREATE TABLE IF NOT EXISTS cycles (
    cycle_id        TEXT PRIMARY KEY,
    started_at_ns   INTEGER NOT NULL,
    finished_at_ns  INTEGER,
    trades_executed INTEGER NOT NULL DEFAULT 0,
    cap             INTEGER NOT NULL,
    mode            TEXT    NOT NULL,
    phase           TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id        TEXT    NOT NULL,
    intent_id       TEXT    NOT NULL,
    verdict         TEXT    NOT NULL,
    executing       INTEGER NOT NULL DEFAULT 0,
    trades_executed INTEGER NOT NULL DEFAULT 0,
    order_id        TEXT    NOT NULL DEFAULT '',
    error           TEXT    NOT NULL DEFAULT '',
    decided_at_ns   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_intents (
    id            TEXT PRIMARY KEY,
    symbol        TEXT    NOT NULL,
    side          TEXT    NOT NULL,
    quantity      REAL    NOT NULL DEFAULT 0,
    limit_price   REAL    NOT NULL DEFAULT 0,
    amount_usd    REAL    NOT NULL DEFAULT 0,
    reason        TEXT    NOT NULL DEFAULT '',
    created_at_ns INTEGER NOT NULL,
    status        TEXT    NOT NULL DEFAULT 'pending',
    cycle_id      TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_occurred ON ledger_events(occurred_at_ns);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle ON decisions(cycle_id);
CREATE INDEX IF NOT EXISTS idx_intents_status  ON trade_intents(status, created_at_ns);
`

const (
	retentionEvents = 7 * 24 * time.Hour // eventos: una semana cubre T+1 de sobra
	retentionCycles = 30 * 24 * time.Hour
	maxSnapshots    = 100
)

// SQLiteStorage implementa los ports de storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// dsn agrega los pragmas para acceso multi-proceso a rutas de archivo.
func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close cierra la conexión a la base de datos limpiamente.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := s.now().UTC()
	s.db.ExecContext(ctx, `DELETE FROM ledger_events WHERE occurred_at_ns < ?`, now.Add(-retentionEvents).UnixNano())
	s.db.ExecContext(ctx, `DELETE FROM decisions WHERE decided_at_ns < ?`, now.Add(-retentionCycles).UnixNano())
	s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at_ns < ?`, now.Add(-retentionCycles).UnixNano())
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
