package ledger

import (
	"time"

	"hey-fireball/internal/model"
)

// DayLayout is the storage format of a server day.
const DayLayout = "2006-01-02"

// DayOf returns the server-local day of t.
func DayOf(t time.Time) string {
	return t.Local().Format(DayLayout)
}

// NewRecord returns a fresh record: zero counters, notifications enabled.
func NewRecord(userID, today string) *model.LedgerRecord {
	return &model.LedgerRecord{
		UserID:          userID,
		LastRolloverDay: today,
		PMEnabled:       true,
	}
}

// RollOver resets the "today" counters when rec was last touched before today.
// Totals are left untouched. It returns the archive of the stale day, or nil
// when rec is already current.
func RollOver(rec *model.LedgerRecord, today string) *model.DailySnapshot {
	// YYYY-MM-DD compares correctly as a string; a record from a later day
	// (clock moved backwards) is left alone.
	if rec.LastRolloverDay >= today {
		return nil
	}

	snapshot := &model.DailySnapshot{
		UserID:   rec.UserID,
		Day:      rec.LastRolloverDay,
		Positive: rec.Positive,
		Negative: rec.Negative,
	}

	for _, kind := range model.Kinds() {
		c := rec.Counters(kind)
		c.UsedToday = 0
		c.ReceivedToday = 0
	}
	rec.LastRolloverDay = today

	if snapshot.Day == "" {
		return nil
	}
	return snapshot
}

// Debit applies a capped debit to rec. It reports false and leaves rec
// unchanged when usedToday + amount would exceed limit.
func Debit(rec *model.LedgerRecord, kind model.PointKind, amount, limit int64) bool {
	c := rec.Counters(kind)
	// Compared as a difference so that huge amounts cannot wrap around.
	if c == nil || amount > limit-c.UsedToday {
		return false
	}
	c.UsedToday += amount
	c.UsedTotal += amount
	return true
}

// Credit adds amount to rec's received counters. There is no cap.
func Credit(rec *model.LedgerRecord, kind model.PointKind, amount int64) {
	c := rec.Counters(kind)
	if c == nil {
		return
	}
	c.ReceivedToday += amount
	c.ReceivedTotal += amount
}
