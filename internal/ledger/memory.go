package ledger

import (
	"context"
	"sync"

	"hey-fireball/internal/model"
	"hey-fireball/internal/pkg/lock"
)

// MemoryBackend keeps records in process memory. Each record is guarded by
// its user's lock; the index of users has its own mutex and is only held
// while looking records up.
type MemoryBackend struct {
	userLock *lock.UserLock

	mu      sync.RWMutex
	records map[string]*model.LedgerRecord
	order   []string // first-reference order, for stable leaderboard ties
	history map[string][]model.DailySnapshot
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		userLock: lock.NewUserLock(),
		records:  make(map[string]*model.LedgerRecord),
		history:  make(map[string][]model.DailySnapshot),
	}
}

// record returns the user's record, creating it on first reference.
func (m *MemoryBackend) record(userID, today string) *model.LedgerRecord {
	m.mu.RLock()
	rec, ok := m.records[userID]
	m.mu.RUnlock()
	if ok {
		return rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[userID]; ok {
		return rec
	}
	rec = NewRecord(userID, today)
	m.records[userID] = rec
	m.order = append(m.order, userID)
	return rec
}

// update runs fn on the rolled-over record while holding the user's lock.
func (m *MemoryBackend) update(userID, today string, fn func(rec *model.LedgerRecord)) {
	_ = m.userLock.WithLock(userID, func() error {
		rec := m.record(userID, today)
		if snapshot := RollOver(rec, today); snapshot != nil {
			m.mu.Lock()
			m.history[userID] = append(m.history[userID], *snapshot)
			m.mu.Unlock()
		}
		fn(rec)
		return nil
	})
}

// Load implements Backend.
func (m *MemoryBackend) Load(ctx context.Context, userID, today string) (*model.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out model.LedgerRecord
	m.update(userID, today, func(rec *model.LedgerRecord) {
		out = *rec
	})
	return &out, nil
}

// TryDebit implements Backend.
func (m *MemoryBackend) TryDebit(ctx context.Context, userID string, kind model.PointKind, amount, limit int64, today string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	m.update(userID, today, func(rec *model.LedgerRecord) {
		ok = Debit(rec, kind, amount, limit)
	})
	return ok, nil
}

// Credit implements Backend.
func (m *MemoryBackend) Credit(ctx context.Context, userID string, kind model.PointKind, amount int64, today string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.update(userID, today, func(rec *model.LedgerRecord) {
		Credit(rec, kind, amount)
	})
	return nil
}

// SetPreference implements Backend.
func (m *MemoryBackend) SetPreference(ctx context.Context, userID string, enabled bool, today string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.update(userID, today, func(rec *model.LedgerRecord) {
		rec.PMEnabled = enabled
	})
	return nil
}

// Totals implements Backend. Each pair is read under its user's lock; the
// list as a whole is not a snapshot.
func (m *MemoryBackend) Totals(ctx context.Context, kind model.PointKind) ([]model.Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	users := make([]string, len(m.order))
	copy(users, m.order)
	m.mu.RUnlock()

	scores := make([]model.Score, 0, len(users))
	for _, userID := range users {
		m.userLock.Lock(userID)
		m.mu.RLock()
		rec := m.records[userID]
		m.mu.RUnlock()
		scores = append(scores, model.Score{UserID: userID, Total: rec.Counters(kind).ReceivedTotal})
		m.userLock.Unlock(userID)
	}
	return scores, nil
}

// History implements Backend.
func (m *MemoryBackend) History(ctx context.Context, userID string) ([]model.DailySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DailySnapshot, len(m.history[userID]))
	copy(out, m.history[userID])
	return out, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}
