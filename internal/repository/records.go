// Package repository provides the durable ledger backends: PostgreSQL,
// SQLite, Redis and Azure Tables.
package repository

import (
	"fmt"

	"hey-fireball/internal/model"
)

// recordColumns is the column order shared by every SQL backend.
const recordColumns = `user_id,
	pos_used_today, pos_used_total, pos_received_today, pos_received_total,
	neg_used_today, neg_used_total, neg_received_today, neg_received_total,
	last_rollover_day, pm_enabled`

const snapshotColumns = `user_id, day,
	pos_used_today, pos_used_total, pos_received_today, pos_received_total,
	neg_used_today, neg_used_total, neg_received_today, neg_received_total`

// rowScanner is satisfied by pgx.Row, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.LedgerRecord, error) {
	var rec model.LedgerRecord
	err := row.Scan(
		&rec.UserID,
		&rec.Positive.UsedToday, &rec.Positive.UsedTotal, &rec.Positive.ReceivedToday, &rec.Positive.ReceivedTotal,
		&rec.Negative.UsedToday, &rec.Negative.UsedTotal, &rec.Negative.ReceivedToday, &rec.Negative.ReceivedTotal,
		&rec.LastRolloverDay,
		&rec.PMEnabled,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// recordValues returns the mutable columns of rec, in recordColumns order
// without the leading user_id.
func recordValues(rec *model.LedgerRecord) []any {
	return []any{
		rec.Positive.UsedToday, rec.Positive.UsedTotal, rec.Positive.ReceivedToday, rec.Positive.ReceivedTotal,
		rec.Negative.UsedToday, rec.Negative.UsedTotal, rec.Negative.ReceivedToday, rec.Negative.ReceivedTotal,
		rec.LastRolloverDay,
		rec.PMEnabled,
	}
}

func scanSnapshot(row rowScanner) (model.DailySnapshot, error) {
	var s model.DailySnapshot
	err := row.Scan(
		&s.UserID, &s.Day,
		&s.Positive.UsedToday, &s.Positive.UsedTotal, &s.Positive.ReceivedToday, &s.Positive.ReceivedTotal,
		&s.Negative.UsedToday, &s.Negative.UsedTotal, &s.Negative.ReceivedToday, &s.Negative.ReceivedTotal,
	)
	return s, err
}

func snapshotValues(s *model.DailySnapshot) []any {
	return []any{
		s.UserID, s.Day,
		s.Positive.UsedToday, s.Positive.UsedTotal, s.Positive.ReceivedToday, s.Positive.ReceivedTotal,
		s.Negative.UsedToday, s.Negative.UsedTotal, s.Negative.ReceivedToday, s.Negative.ReceivedTotal,
	}
}

// receivedTotalColumn names the all-time received column of kind.
func receivedTotalColumn(kind model.PointKind) (string, error) {
	switch kind {
	case model.Positive:
		return "pos_received_total", nil
	case model.Negative:
		return "neg_received_total", nil
	default:
		return "", fmt.Errorf("unknown point kind %d", kind)
	}
}
