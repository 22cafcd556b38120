// Property-based tests for per-user lock safety.
package lock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

// TestCappedCounterSafetyProperty checks that a check-then-act guarded by the
// user lock never lets concurrent debits exceed a cap.
func TestCappedCounterSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.Int64Range(1, 20).Draw(t, "limit")
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")
		amount := rapid.Int64Range(1, 5).Draw(t, "amount")
		userID := fmt.Sprintf("U%d", rapid.IntRange(1, 1000).Draw(t, "userID"))

		ul := NewUserLock()
		var used int64
		var granted atomic.Int64

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				_ = ul.WithLock(userID, func() error {
					if used+amount <= limit {
						used += amount
						granted.Add(amount)
					}
					return nil
				})
			}()
		}
		wg.Wait()

		if used > limit {
			t.Fatalf("cap exceeded: used=%d limit=%d", used, limit)
		}
		if granted.Load() != used {
			t.Fatalf("granted %d but recorded %d", granted.Load(), used)
		}
		want := min(int64(numOps)*amount, limit/amount*amount)
		if used != want {
			t.Fatalf("expected %d used, got %d", want, used)
		}
	})
}

// TestMultipleUsersIndependentLocksProperty tests that locks for different users
// are independent and serialize per user.
func TestMultipleUsersIndependentLocksProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numUsers := rapid.IntRange(2, 10).Draw(t, "numUsers")
		opsPerUser := rapid.IntRange(5, 20).Draw(t, "opsPerUser")

		ul := NewUserLock()
		counts := make(map[string]*int, numUsers)
		for i := 0; i < numUsers; i++ {
			n := 0
			counts[fmt.Sprintf("U%d", i)] = &n
		}

		var wg sync.WaitGroup
		wg.Add(numUsers * opsPerUser)
		for uid := range counts {
			for j := 0; j < opsPerUser; j++ {
				go func(uid string) {
					defer wg.Done()
					ul.Lock(uid)
					defer ul.Unlock(uid)
					*counts[uid]++
				}(uid)
			}
		}
		wg.Wait()

		for uid, n := range counts {
			if *n != opsPerUser {
				t.Fatalf("user %s: expected %d ops, got %d", uid, opsPerUser, *n)
			}
		}
	})
}
