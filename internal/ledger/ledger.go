// Package ledger implements the per-user points ledger: daily caps, lazy day
// rollover and the backend contract every storage implementation satisfies.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hey-fireball/internal/model"
)

// Ledger errors.
var (
	// ErrInvalidAmount is returned for non-positive debit/credit amounts.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")
	// ErrUnknownKind is returned for a point kind without a configured cap.
	ErrUnknownKind = errors.New("unknown point kind")
	// ErrBackend wraps every storage failure so callers can tell an outage
	// apart from an ordinary "cap reached" answer.
	ErrBackend = errors.New("ledger backend failure")
)

// Backend is durable counter storage.
//
// Every method that touches a user record first rolls the record over when
// its day is older than today, and does so in the same atomic unit as the
// requested read or write. TryDebit must be a single conditional update with
// respect to concurrent callers for the same user, never a separate read
// followed by a write.
type Backend interface {
	// Load returns a copy of the user's record, creating it if needed.
	Load(ctx context.Context, userID, today string) (*model.LedgerRecord, error)

	// TryDebit increments usedToday and usedTotal by amount if
	// usedToday+amount <= limit, and reports whether it did.
	TryDebit(ctx context.Context, userID string, kind model.PointKind, amount, limit int64, today string) (bool, error)

	// Credit increments receivedToday and receivedTotal by amount.
	Credit(ctx context.Context, userID string, kind model.PointKind, amount int64, today string) error

	// SetPreference stores the user's notification preference.
	SetPreference(ctx context.Context, userID string, enabled bool, today string) error

	// Totals lists (user, receivedTotal) for every known user.
	Totals(ctx context.Context, kind model.PointKind) ([]model.Score, error)

	// History lists the archived daily snapshots of a user, oldest first.
	History(ctx context.Context, userID string) ([]model.DailySnapshot, error)

	// Close releases backend resources.
	Close() error
}

// Caps holds the fixed daily cap per point kind.
type Caps map[model.PointKind]int64

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock used to compute the server day.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger wraps a Backend with caps and the server-day clock.
type Ledger struct {
	backend Backend
	caps    Caps
	now     func() time.Time
}

// New creates a Ledger over the given backend.
func New(backend Backend, caps Caps, opts ...Option) *Ledger {
	l := &Ledger{
		backend: backend,
		caps:    caps,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today returns the current server day.
func (l *Ledger) Today() string {
	return DayOf(l.now())
}

// DailyCap returns the cap for kind.
func (l *Ledger) DailyCap(kind model.PointKind) (int64, error) {
	limit, ok := l.caps[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return limit, nil
}

// Remaining returns dailyCap(kind) - usedToday for the user.
func (l *Ledger) Remaining(ctx context.Context, userID string, kind model.PointKind) (int64, error) {
	limit, err := l.DailyCap(kind)
	if err != nil {
		return 0, err
	}
	rec, err := l.Record(ctx, userID)
	if err != nil {
		return 0, err
	}
	return limit - rec.Counters(kind).UsedToday, nil
}

// TryDebit atomically debits amount if it fits under today's cap.
// A false result with a nil error means the cap would be exceeded.
func (l *Ledger) TryDebit(ctx context.Context, userID string, kind model.PointKind, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	limit, err := l.DailyCap(kind)
	if err != nil {
		return false, err
	}
	if amount > limit {
		return false, nil
	}
	ok, err := l.backend.TryDebit(ctx, userID, kind, amount, limit, l.Today())
	if err != nil {
		return false, wrap("failed to debit", err)
	}
	return ok, nil
}

// Credit unconditionally adds amount to the user's received counters.
func (l *Ledger) Credit(ctx context.Context, userID string, kind model.PointKind, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err := l.backend.Credit(ctx, userID, kind, amount, l.Today()); err != nil {
		return wrap("failed to credit", err)
	}
	return nil
}

// TotalReceived returns the all-time received total of kind.
func (l *Ledger) TotalReceived(ctx context.Context, userID string, kind model.PointKind) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	rec, err := l.Record(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rec.Counters(kind).ReceivedTotal, nil
}

// AllTotals lists (user, totalReceived) for every user, in backend order.
func (l *Ledger) AllTotals(ctx context.Context, kind model.PointKind) ([]model.Score, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	scores, err := l.backend.Totals(ctx, kind)
	if err != nil {
		return nil, wrap("failed to list totals", err)
	}
	return scores, nil
}

// Preference returns whether the user wants private notifications.
func (l *Ledger) Preference(ctx context.Context, userID string) (bool, error) {
	rec, err := l.Record(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.PMEnabled, nil
}

// SetPreference stores the user's notification preference.
func (l *Ledger) SetPreference(ctx context.Context, userID string, enabled bool) error {
	if err := l.backend.SetPreference(ctx, userID, enabled, l.Today()); err != nil {
		return wrap("failed to set preference", err)
	}
	return nil
}

// Record returns a rolled-over copy of the user's record.
func (l *Ledger) Record(ctx context.Context, userID string) (*model.LedgerRecord, error) {
	rec, err := l.backend.Load(ctx, userID, l.Today())
	if err != nil {
		return nil, wrap("failed to load record", err)
	}
	return rec, nil
}

// History returns the user's archived daily snapshots.
func (l *Ledger) History(ctx context.Context, userID string) ([]model.DailySnapshot, error) {
	snapshots, err := l.backend.History(ctx, userID)
	if err != nil {
		return nil, wrap("failed to load history", err)
	}
	return snapshots, nil
}

// Close closes the underlying backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

func wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrBackend, err)
}
