package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hey-fireball/internal/ledger"
	"hey-fireball/internal/model"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS ledger_records (
		user_id            TEXT PRIMARY KEY,
		seq                BIGSERIAL NOT NULL,
		pos_used_today     BIGINT NOT NULL DEFAULT 0,
		pos_used_total     BIGINT NOT NULL DEFAULT 0,
		pos_received_today BIGINT NOT NULL DEFAULT 0,
		pos_received_total BIGINT NOT NULL DEFAULT 0,
		neg_used_today     BIGINT NOT NULL DEFAULT 0,
		neg_used_total     BIGINT NOT NULL DEFAULT 0,
		neg_received_today BIGINT NOT NULL DEFAULT 0,
		neg_received_total BIGINT NOT NULL DEFAULT 0,
		last_rollover_day  TEXT NOT NULL,
		pm_enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS daily_snapshots (
		user_id            TEXT NOT NULL REFERENCES ledger_records(user_id),
		day                TEXT NOT NULL,
		pos_used_today     BIGINT NOT NULL,
		pos_used_total     BIGINT NOT NULL,
		pos_received_today BIGINT NOT NULL,
		pos_received_total BIGINT NOT NULL,
		neg_used_today     BIGINT NOT NULL,
		neg_used_total     BIGINT NOT NULL,
		neg_received_today BIGINT NOT NULL,
		neg_received_total BIGINT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, day)
	);
`

// PostgresBackend stores ledger records in PostgreSQL. Each operation runs
// in one transaction holding the user's row lock.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a backend over pool. The backend owns the pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return nil
}

// update locks the user's row, rolls it over and applies fn. The row is
// written back when the rollover or fn changed it.
func (b *PostgresBackend) update(ctx context.Context, userID, today string, fn func(rec *model.LedgerRecord) bool) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertQuery = `
		INSERT INTO ledger_records (user_id, last_rollover_day)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insertQuery, userID, today); err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	const selectQuery = `SELECT ` + recordColumns + ` FROM ledger_records WHERE user_id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, selectQuery, userID))
	if err != nil {
		return fmt.Errorf("failed to lock record: %w", err)
	}

	dirty := false
	if snapshot := ledger.RollOver(rec, today); snapshot != nil {
		const snapshotQuery = `
			INSERT INTO daily_snapshots (` + snapshotColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id, day) DO NOTHING
		`
		if _, err := tx.Exec(ctx, snapshotQuery, snapshotValues(snapshot)...); err != nil {
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
				pos_used_today = $2, pos_used_total = $3, pos_received_today = $4, pos_received_total = $5,
				neg_used_today = $6, neg_used_total = $7, neg_received_today = $8, neg_received_total = $9,
				last_rollover_day = $10, pm_enabled = $11, updated_at = NOW()
			WHERE user_id = $1
		`
		args := append([]any{userID}, recordValues(rec)...)
		if _, err := tx.Exec(ctx, updateQuery, args...); err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load implements ledger.Backend.
func (b *PostgresBackend) Load(ctx context.Context, userID, today string) (*model.LedgerRecord, error) {
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
func (b *PostgresBackend) TryDebit(ctx context.Context, userID string, kind model.PointKind, amount, limit int64, today string) (bool, error) {
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
func (b *PostgresBackend) Credit(ctx context.Context, userID string, kind model.PointKind, amount int64, today string) error {
	return b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		ledger.Credit(rec, kind, amount)
		return true
	})
}

// SetPreference implements ledger.Backend.
func (b *PostgresBackend) SetPreference(ctx context.Context, userID string, enabled bool, today string) error {
	return b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		rec.PMEnabled = enabled
		return true
	})
}

// Totals implements ledger.Backend. Users are listed in creation order.
func (b *PostgresBackend) Totals(ctx context.Context, kind model.PointKind) ([]model.Score, error) {
	column, err := receivedTotalColumn(kind)
	if err != nil {
		return nil, err
	}

	rows, err := b.pool.Query(ctx, `SELECT user_id, `+column+` FROM ledger_records ORDER BY seq`)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating totals: %w", err)
	}
	return scores, nil
}

// History implements ledger.Backend.
func (b *PostgresBackend) History(ctx context.Context, userID string) ([]model.DailySnapshot, error) {
	const query = `SELECT ` + snapshotColumns + ` FROM daily_snapshots WHERE user_id = $1 ORDER BY day`

	rows, err := b.pool.Query(ctx, query, userID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return snapshots, nil
}

// Ping reports whether the database is reachable.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close implements ledger.Backend.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
