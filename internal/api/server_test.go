package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hey-fireball/internal/directory"
	"hey-fireball/internal/ledger"
	"hey-fireball/internal/model"
	"hey-fireball/internal/service"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	server *Server
	ledger *ledger.Ledger
	now    time.Time
}

func newTestEnv(t *testing.T, pinger Pinger) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)}
	env.ledger = ledger.New(ledger.NewMemoryBackend(), ledger.Caps{model.Positive: 5, model.Negative: 3},
		ledger.WithClock(func() time.Time { return env.now }))
	t.Cleanup(func() { _ = env.ledger.Close() })

	users := directory.New(
		directory.User{ID: "U1", DisplayName: "Alice"},
		directory.User{ID: "U2", DisplayName: "Bob"},
	)
	env.server = NewServer(":0", Dependencies{
		Ledger:       env.ledger,
		Leaderboards: service.NewRankingService(env.ledger, users, "shots"),
		Users:        users,
		Pinger:       pinger,
	})
	return env
}

func (e *testEnv) give(t *testing.T, from, to string, amount int64) {
	t.Helper()
	ctx := context.Background()
	ok, err := e.ledger.TryDebit(ctx, from, model.Positive, amount)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.ledger.Credit(ctx, to, model.Positive, amount))
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := e.server.App().Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	var body map[string]string

	env := newTestEnv(t, nil)
	assert.Equal(t, 200, env.get(t, "/health", &body))
	assert.Equal(t, "ok", body["status"])

	env = newTestEnv(t, stubPinger{})
	assert.Equal(t, 200, env.get(t, "/health", &body))

	env = newTestEnv(t, stubPinger{err: errors.New("connection refused")})
	assert.Equal(t, 503, env.get(t, "/health", &body))
	assert.Equal(t, "unavailable", body["status"])
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, nil)
	env.give(t, "U1", "U2", 3)
	env.give(t, "U2", "U1", 1)

	var payload model.LeaderboardPayload
	assert.Equal(t, 200, env.get(t, "/api/v1/leaderboard", &payload))
	assert.Equal(t, "Leaderboard", payload.Title)
	require.Len(t, payload.Entries, 2)
	assert.Equal(t, model.LeaderboardEntry{Rank: 1, UserID: "U2", DisplayName: "Bob", Score: 3, Color: "#d4af37"}, payload.Entries[0])

	assert.Equal(t, 200, env.get(t, "/api/v1/leaderboard?full=true", &payload))
	assert.Equal(t, "Full Leaderboard", payload.Title)
	assert.True(t, payload.Full)
}

func TestUser(t *testing.T) {
	env := newTestEnv(t, nil)
	env.give(t, "U1", "U2", 2)

	var summary UserSummary
	assert.Equal(t, 200, env.get(t, "/api/v1/users/U1", &summary))
	assert.Equal(t, "Alice", summary.DisplayName)
	assert.Equal(t, int64(2), summary.Positive.UsedToday)
	assert.Equal(t, int64(3), summary.RemainingPositive)
	assert.Equal(t, int64(3), summary.RemainingNegative)
	assert.True(t, summary.PMEnabled)
	assert.Equal(t, "2024-03-10", summary.LastRolloverDay)

	var errBody map[string]string
	assert.Equal(t, 404, env.get(t, "/api/v1/users/U9", &errBody))
	assert.Equal(t, "user not found", errBody["error"])
}

func TestUserHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.give(t, "U1", "U2", 4)

	env.now = env.now.Add(24 * time.Hour)

	var body struct {
		UserID string                `json:"user_id"`
		Days   []model.DailySnapshot `json:"days"`
	}
	// The summary read rolls the record over and archives the old day.
	assert.Equal(t, 200, env.get(t, "/api/v1/users/U1", nil))
	assert.Equal(t, 200, env.get(t, "/api/v1/users/U1/history", &body))
	require.Len(t, body.Days, 1)
	assert.Equal(t, "2024-03-10", body.Days[0].Day)
	assert.Equal(t, int64(4), body.Days[0].Positive.UsedToday)

	assert.Equal(t, 200, env.get(t, "/api/v1/users/U2/history", &body))
	assert.Empty(t, body.Days)

	assert.Equal(t, 404, env.get(t, "/api/v1/users/U9/history", nil))
}
