// Package ledgertest holds the conformance suite every ledger backend must pass.
package ledgertest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hey-fireball/internal/ledger"
	"hey-fireball/internal/model"
)

// Default caps used by the suite.
const (
	CapPositive int64 = 5
	CapNegative int64 = 3
)

// Factory returns a ready backend. Backends may be shared between subtests;
// the suite uses distinct user IDs everywhere.
type Factory func(t *testing.T) ledger.Backend

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to noon of a fixed local day.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, time.March, 10, 12, 0, 0, 0, time.Local)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var userSeq atomic.Int64

// uniqueUser returns a user ID no other test in the process uses.
func uniqueUser(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), userSeq.Add(1))
}

func newLedger(backend ledger.Backend, clock *Clock) *ledger.Ledger {
	return ledger.New(backend, ledger.Caps{
		model.Positive: CapPositive,
		model.Negative: CapNegative,
	}, ledger.WithClock(clock.Now))
}

// Run executes the whole suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b ledger.Backend)
	}{
		{"FreshRecord", testFreshRecord},
		{"DebitWithinCap", testDebitWithinCap},
		{"DebitOverCapLeavesRecord", testDebitOverCap},
		{"HugeDebitLeavesRecord", testDebitHugeAmount},
		{"CreditHasNoCap", testCreditHasNoCap},
		{"KindsAreIndependent", testKindsIndependent},
		{"RolloverPreservesTotals", testRollover},
		{"RolloverOnWrite", testRolloverOnWrite},
		{"Preference", testPreference},
		{"Totals", testTotals},
		{"ConcurrentDebitsSingleWinner", testConcurrentDebits},
		{"ConcurrentCredits", testConcurrentCredits},
		{"CapProperty", testCapProperty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBackend(t))
		})
	}
}

func testFreshRecord(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewClock()
	l := newLedger(b, clock)
	user := uniqueUser("fresh")

	rec, err := l.Record(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, user, rec.UserID)
	assert.Equal(t, model.Counters{}, rec.Positive)
	assert.Equal(t, model.Counters{}, rec.Negative)
	assert.Equal(t, l.Today(), rec.LastRolloverDay)
	assert.True(t, rec.PMEnabled)

	remaining, err := l.Remaining(ctx, user, model.Positive)
	require.NoError(t, err)
	assert.Equal(t, CapPositive, remaining)

	history, err := l.History(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testDebitWithinCap(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())
	user := uniqueUser("debit")

	ok, err := l.TryDebit(ctx, user, model.Positive, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryDebit(ctx, user, model.Positive, 3)
	require.NoError(t, err)
	assert.True(t, ok, "debit reaching the cap exactly must succeed")

	rec, err := l.Record(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Positive.UsedToday)
	assert.Equal(t, int64(5), rec.Positive.UsedTotal)

	remaining, err := l.Remaining(ctx, user, model.Positive)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	_, err = l.TryDebit(ctx, user, model.Positive, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func testDebitOverCap(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())
	user := uniqueUser("overcap")

	ok, err := l.TryDebit(ctx, user, model.Positive, 4)
	require.NoError(t, err)
	require.True(t, ok)

	before, err := l.Record(ctx, user)
	require.NoError(t, err)

	ok, err = l.TryDebit(ctx, user, model.Positive, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := l.Record(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// testDebitHugeAmount goes to the backend directly, bypassing the ledger's
// own amount checks.
func testDebitHugeAmount(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewClock()
	today := ledger.DayOf(clock.Now())
	user := uniqueUser("huge")

	ok, err := b.TryDebit(ctx, user, model.Positive, 1, CapPositive, today)
	require.NoError(t, err)
	require.True(t, ok)

	before, err := b.Load(ctx, user, today)
	require.NoError(t, err)

	ok, err = b.TryDebit(ctx, user, model.Positive, math.MaxInt64, CapPositive, today)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := b.Load(ctx, user, today)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(1), after.Positive.UsedToday)
	assert.Equal(t, int64(1), after.Positive.UsedTotal)
}

func testCreditHasNoCap(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())
	user := uniqueUser("credit")

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Credit(ctx, user, model.Positive, 5))
	}

	total, err := l.TotalReceived(ctx, user, model.Positive)
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)

	rec, err := l.Record(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec.Positive.ReceivedToday)
	assert.Equal(t, int64(0), rec.Positive.UsedToday)
}

func testKindsIndependent(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())
	user := uniqueUser("kinds")

	ok, err := l.TryDebit(ctx, user, model.Negative, CapNegative)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.TryDebit(ctx, user, model.Negative, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.TryDebit(ctx, user, model.Positive, CapPositive)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Credit(ctx, user, model.Negative, 2))
	pos, err := l.TotalReceived(ctx, user, model.Positive)
	require.NoError(t, err)
	neg, err := l.TotalReceived(ctx, user, model.Negative)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	assert.Equal(t, int64(2), neg)
}

func testRollover(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewClock()
	l := newLedger(b, clock)
	user := uniqueUser("rollover")

	ok, err := l.TryDebit(ctx, user, model.Positive, 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Credit(ctx, user, model.Positive, 2))
	require.NoError(t, l.Credit(ctx, user, model.Negative, 1))
	firstDay := l.Today()

	clock.Advance(24 * time.Hour)

	rec, err := l.Record(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, l.Today(), rec.LastRolloverDay)
	assert.Equal(t, int64(0), rec.Positive.UsedToday)
	assert.Equal(t, int64(4), rec.Positive.UsedTotal)
	assert.Equal(t, int64(0), rec.Positive.ReceivedToday)
	assert.Equal(t, int64(2), rec.Positive.ReceivedTotal)
	assert.Equal(t, int64(0), rec.Negative.ReceivedToday)
	assert.Equal(t, int64(1), rec.Negative.ReceivedTotal)

	remaining, err := l.Remaining(ctx, user, model.Positive)
	require.NoError(t, err)
	assert.Equal(t, CapPositive, remaining)

	history, err := l.History(ctx, user)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, firstDay, history[0].Day)
	assert.Equal(t, int64(4), history[0].Positive.UsedToday)
	assert.Equal(t, int64(2), history[0].Positive.ReceivedToday)
	assert.Equal(t, int64(1), history[0].Negative.ReceivedTotal)

	// A second access on the same day does not archive again.
	_, err = l.Record(ctx, user)
	require.NoError(t, err)
	history, err = l.History(ctx, user)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testRolloverOnWrite(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewClock()
	l := newLedger(b, clock)
	user := uniqueUser("rollwrite")

	ok, err := l.TryDebit(ctx, user, model.Positive, CapPositive)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(36 * time.Hour)

	// The debit sees the reset counter in the same atomic step.
	ok, err = l.TryDebit(ctx, user, model.Positive, CapPositive)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := l.Record(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, CapPositive, rec.Positive.UsedToday)
	assert.Equal(t, 2*CapPositive, rec.Positive.UsedTotal)
}

func testPreference(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	clock := NewClock()
	l := newLedger(b, clock)
	user := uniqueUser("pref")

	enabled, err := l.Preference(ctx, user)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, l.SetPreference(ctx, user, false))
	enabled, err = l.Preference(ctx, user)
	require.NoError(t, err)
	assert.False(t, enabled)

	clock.Advance(24 * time.Hour)
	enabled, err = l.Preference(ctx, user)
	require.NoError(t, err)
	assert.False(t, enabled, "preference survives rollover")

	require.NoError(t, l.SetPreference(ctx, user, true))
	enabled, err = l.Preference(ctx, user)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func testTotals(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())
	alice, bob, carol := uniqueUser("alice"), uniqueUser("bob"), uniqueUser("carol")

	require.NoError(t, l.Credit(ctx, alice, model.Positive, 3))
	require.NoError(t, l.Credit(ctx, bob, model.Positive, 7))
	require.NoError(t, l.Credit(ctx, bob, model.Negative, 2))
	_, err := l.Record(ctx, carol)
	require.NoError(t, err)

	scores, err := l.AllTotals(ctx, model.Positive)
	require.NoError(t, err)
	got := make(map[string]int64)
	for _, s := range scores {
		got[s.UserID] = s.Total
	}
	assert.Equal(t, int64(3), got[alice])
	assert.Equal(t, int64(7), got[bob])
	assert.Contains(t, got, carol)
	assert.Equal(t, int64(0), got[carol])

	scores, err = l.AllTotals(ctx, model.Negative)
	require.NoError(t, err)
	got = make(map[string]int64)
	for _, s := range scores {
		got[s.UserID] = s.Total
	}
	assert.Equal(t, int64(2), got[bob])
}

func testConcurrentDebits(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())
	user := uniqueUser("race")
	const n = 8

	var wg sync.WaitGroup
	var successes, failures atomic.Int32
	errs := make(chan error, n)
	start := make(chan struct{})

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.TryDebit(ctx, user, model.Positive, CapPositive)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				successes.Add(1)
			} else {
				failures.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), failures.Load())

	rec, err := l.Record(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, CapPositive, rec.Positive.UsedToday)
	assert.Equal(t, CapPositive, rec.Positive.UsedTotal)
}

func testConcurrentCredits(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())
	user := uniqueUser("credits")
	const n = 10

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Credit(ctx, user, model.Positive, 1))
		}()
	}
	wg.Wait()

	total, err := l.TotalReceived(ctx, user, model.Positive)
	require.NoError(t, err)
	assert.Equal(t, int64(n), total)
}

// testCapProperty checks that for any sequence of debits within one day the
// sum of successful amounts never exceeds the cap and matches usedToday.
func testCapProperty(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	l := newLedger(b, NewClock())

	rapid.Check(t, func(rt *rapid.T) {
		user := uniqueUser("prop")
		kind := rapid.SampledFrom(model.Kinds()).Draw(rt, "kind")
		amounts := rapid.SliceOfN(rapid.Int64Range(1, 6), 1, 12).Draw(rt, "amounts")

		limit, err := l.DailyCap(kind)
		if err != nil {
			rt.Fatalf("cap: %v", err)
		}

		var granted int64
		for _, amount := range amounts {
			ok, err := l.TryDebit(ctx, user, kind, amount)
			if err != nil {
				rt.Fatalf("debit: %v", err)
			}
			if ok != (granted+amount <= limit) {
				rt.Fatalf("debit of %d with %d used: got ok=%v", amount, granted, ok)
			}
			if ok {
				granted += amount
			}
		}

		rec, err := l.Record(ctx, user)
		if err != nil {
			rt.Fatalf("record: %v", err)
		}
		if granted > limit {
			rt.Fatalf("granted %d exceeds cap %d", granted, limit)
		}
		if got := rec.Counters(kind).UsedToday; got != granted {
			rt.Fatalf("usedToday=%d, want %d", got, granted)
		}
	})
}
