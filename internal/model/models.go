// Package model defines the data models for the fireball points game.
package model

import "fmt"

// PointKind identifies one of the two independent point categories.
type PointKind int

// Point kinds. Each kind has its own daily cap and its own counters.
const (
	Positive PointKind = iota // Ordinary points
	Negative                  // Penalty points
)

// Kinds returns every point kind in storage order.
func Kinds() []PointKind {
	return []PointKind{Positive, Negative}
}

// String returns the lowercase kind name used in storage keys and logs.
func (k PointKind) String() string {
	switch k {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is a known kind.
func (k PointKind) Valid() bool {
	return k == Positive || k == Negative
}

// Counters holds the give/receive counters of one point kind.
type Counters struct {
	UsedToday     int64 `db:"used_today" json:"used_today"`
	UsedTotal     int64 `db:"used_total" json:"used_total"`
	ReceivedToday int64 `db:"received_today" json:"received_today"`
	ReceivedTotal int64 `db:"received_total" json:"received_total"`
}

// LedgerRecord is the per-user ledger state.
// Records are created lazily on first reference and never deleted.
type LedgerRecord struct {
	UserID          string   `db:"user_id" json:"user_id"`
	Positive        Counters `json:"positive"`
	Negative        Counters `json:"negative"`
	LastRolloverDay string   `db:"last_rollover_day" json:"last_rollover_day"` // YYYY-MM-DD, server local
	PMEnabled       bool     `db:"pm_enabled" json:"pm_enabled"`
}

// Counters returns a pointer to the counters of the given kind.
// Unknown kinds return nil.
func (r *LedgerRecord) Counters(kind PointKind) *Counters {
	switch kind {
	case Positive:
		return &r.Positive
	case Negative:
		return &r.Negative
	default:
		return nil
	}
}

// DailySnapshot archives a user's counters for a day that has been rolled over.
type DailySnapshot struct {
	UserID   string   `db:"user_id" json:"user_id"`
	Day      string   `db:"day" json:"day"`
	Positive Counters `json:"positive"`
	Negative Counters `json:"negative"`
}

// Score is a (user, total received) pair used for leaderboards.
type Score struct {
	UserID string `db:"user_id" json:"user_id"`
	Total  int64  `db:"total" json:"total"`
}
