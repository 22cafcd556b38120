package repository

import (
	"context"
	"database/sql"
	"fmt"

	"hey-fireball/internal/ledger"
	"hey-fireball/internal/model"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS ledger_records (
		user_id            TEXT PRIMARY KEY,
		pos_used_today     INTEGER NOT NULL DEFAULT 0,
		pos_used_total     INTEGER NOT NULL DEFAULT 0,
		pos_received_today INTEGER NOT NULL DEFAULT 0,
		pos_received_total INTEGER NOT NULL DEFAULT 0,
		neg_used_today     INTEGER NOT NULL DEFAULT 0,
		neg_used_total     INTEGER NOT NULL DEFAULT 0,
		neg_received_today INTEGER NOT NULL DEFAULT 0,
		neg_received_total INTEGER NOT NULL DEFAULT 0,
		last_rollover_day  TEXT NOT NULL,
		pm_enabled         INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS daily_snapshots (
		user_id            TEXT NOT NULL,
		day                TEXT NOT NULL,
		pos_used_today     INTEGER NOT NULL,
		pos_used_total     INTEGER NOT NULL,
		pos_received_today INTEGER NOT NULL,
		pos_received_total INTEGER NOT NULL,
		neg_used_today     INTEGER NOT NULL,
		neg_used_total     INTEGER NOT NULL,
		neg_received_today INTEGER NOT NULL,
		neg_received_total INTEGER NOT NULL,
		PRIMARY KEY (user_id, day)
	);
`

// SQLiteBackend stores ledger records in an embedded SQLite database.
// The handle must be limited to one open connection; every operation is a
// transaction on it, which serialises all writers.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a backend over db. The backend owns db.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Migrate creates the ledger tables if they do not exist.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) update(ctx context.Context, userID, today string, fn func(rec *model.LedgerRecord) bool) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertQuery = `
		INSERT INTO ledger_records (user_id, last_rollover_day)
		VALUES (?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, insertQuery, userID, today); err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	const selectQuery = `SELECT ` + recordColumns + ` FROM ledger_records WHERE user_id = ?`
	rec, err := scanRecord(tx.QueryRowContext(ctx, selectQuery, userID))
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}

	dirty := false
	if snapshot := ledger.RollOver(rec, today); snapshot != nil {
		const snapshotQuery = `
			INSERT INTO daily_snapshots (` + snapshotColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, day) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, snapshotQuery, snapshotValues(snapshot)...); err != nil {
			return fmt.Errorf("failed to archive snapshot: %w", err)
		}
		dirty = true
	}

	if fn(rec) {
		dirty = true
	}

	if dirty {
		const updateQuery = `
			UPDATE ledger_records SET
				pos_used_today = ?, pos_used_total = ?, pos_received_today = ?, pos_received_total = ?,
				neg_used_today = ?, neg_used_total = ?, neg_received_today = ?, neg_received_total = ?,
				last_rollover_day = ?, pm_enabled = ?
			WHERE user_id = ?
		`
		args := append(recordValues(rec), userID)
		if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load implements ledger.Backend.
func (b *SQLiteBackend) Load(ctx context.Context, userID, today string) (*model.LedgerRecord, error) {
	var out model.LedgerRecord
	err := b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		out = *rec
		return false
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TryDebit implements ledger.Backend.
func (b *SQLiteBackend) TryDebit(ctx context.Context, userID string, kind model.PointKind, amount, limit int64, today string) (bool, error) {
	var ok bool
	err := b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		ok = ledger.Debit(rec, kind, amount, limit)
		return ok
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Credit implements ledger.Backend.
func (b *SQLiteBackend) Credit(ctx context.Context, userID string, kind model.PointKind, amount int64, today string) error {
	return b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		ledger.Credit(rec, kind, amount)
		return true
	})
}

// SetPreference implements ledger.Backend.
func (b *SQLiteBackend) SetPreference(ctx context.Context, userID string, enabled bool, today string) error {
	return b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		rec.PMEnabled = enabled
		return true
	})
}

// Totals implements ledger.Backend. Users are listed in insertion order.
func (b *SQLiteBackend) Totals(ctx context.Context, kind model.PointKind) ([]model.Score, error) {
	column, err := receivedTotalColumn(kind)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `SELECT user_id, `+column+` FROM ledger_records ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	var scores []model.Score
	for rows.Next() {
		var s model.Score
		if err := rows.Scan(&s.UserID, &s.Total); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// History implements ledger.Backend.
func (b *SQLiteBackend) History(ctx context.Context, userID string) ([]model.DailySnapshot, error) {
	const query = `SELECT ` + snapshotColumns + ` FROM daily_snapshots WHERE user_id = ? ORDER BY day`

	rows, err := b.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var snapshots []model.DailySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// Ping reports whether the database is reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close implements ledger.Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
