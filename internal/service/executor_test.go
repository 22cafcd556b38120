package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hey-fireball/internal/config"
	"hey-fireball/internal/directory"
	"hey-fireball/internal/ledger"
	"hey-fireball/internal/model"
)

// flakyLedger injects failures in front of a real ledger.
type flakyLedger struct {
	*ledger.Ledger

	mu             sync.Mutex
	debitErr       error
	creditFailures int
	creditCalls    int
}

func (f *flakyLedger) TryDebit(ctx context.Context, userID string, kind model.PointKind, amount int64) (bool, error) {
	if f.debitErr != nil {
		return false, f.debitErr
	}
	return f.Ledger.TryDebit(ctx, userID, kind, amount)
}

func (f *flakyLedger) Credit(ctx context.Context, userID string, kind model.PointKind, amount int64) error {
	f.mu.Lock()
	f.creditCalls++
	fail := f.creditFailures != 0
	if f.creditFailures > 0 {
		f.creditFailures--
	}
	f.mu.Unlock()

	if fail {
		return errors.New("table unavailable")
	}
	return f.Ledger.Credit(ctx, userID, kind, amount)
}

func testPoints() config.PointsConfig {
	return config.PointsConfig{
		Word:             "shots",
		Emoji:            ":fireball:",
		NegativeWord:     "penalties",
		NegativeEmoji:    ":ice_cube:",
		DailyCapPositive: 5,
		DailyCapNegative: 3,
		SelfGive:         config.PolicyDisallow,
		NegativePoints:   config.PolicyAllow,
	}
}

type fixture struct {
	ledger   *flakyLedger
	executor *Executor
	cmd      *model.ParsedCommand
}

func newFixture(t *testing.T, points config.PointsConfig) *fixture {
	t.Helper()
	l := &flakyLedger{Ledger: ledger.New(ledger.NewMemoryBackend(), ledger.Caps{
		model.Positive: points.DailyCapPositive,
		model.Negative: points.DailyCapNegative,
	})}
	names := directory.New(
		directory.User{ID: "U1", DisplayName: "Alice"},
		directory.User{ID: "U2", DisplayName: "Bob"},
	)
	ranking := NewRankingService(l, names, points.Word)
	return &fixture{
		ledger:   l,
		executor: NewExecutor(l, ranking, names, points, WithCreditBackoff(3, time.Millisecond)),
		cmd:      &model.ParsedCommand{SenderID: "U1", Channel: "C1", Timestamp: "1700000000.000100"},
	}
}

func (f *fixture) record(t *testing.T, userID string) *model.LedgerRecord {
	t.Helper()
	rec, err := f.ledger.Record(context.Background(), userID)
	require.NoError(t, err)
	return rec
}

func TestExecute_GiveNotifiesRecipientByDM(t *testing.T) {
	f := newFixture(t, testPoints())

	replies, err := f.executor.Execute(context.Background(), f.cmd, model.Give{From: "U1", To: "U2", Amount: 2, Kind: model.Positive})
	require.NoError(t, err)
	require.Len(t, replies, 2)

	assert.Equal(t, model.Reply{
		Target: "C1", Text: "Alice gave 2 shots to Bob", Visibility: model.Public, ThreadRef: f.cmd.Timestamp,
	}, replies[0])
	assert.Equal(t, model.Reply{
		Target: "U2", Direct: true, Text: "You received 2 shots from Alice", Visibility: model.Public, ThreadRef: f.cmd.Timestamp,
	}, replies[1])

	assert.Equal(t, int64(2), f.record(t, "U1").Positive.UsedToday)
	assert.Equal(t, int64(2), f.record(t, "U2").Positive.ReceivedTotal)
}

func TestExecute_GiveRespectsDisabledNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPoints())
	require.NoError(t, f.ledger.SetPreference(ctx, "U2", false))

	replies, err := f.executor.Execute(ctx, f.cmd, model.Give{From: "U1", To: "U2", Amount: 1, Kind: model.Negative})
	require.NoError(t, err)
	require.Len(t, replies, 2)

	assert.Equal(t, "Alice gave 1 penalties to Bob", replies[0].Text)
	assert.False(t, replies[1].Direct)
	assert.Equal(t, model.Ephemeral, replies[1].Visibility)
	assert.Equal(t, "U2", replies[1].EphemeralTo)
	assert.Equal(t, "C1", replies[1].Target)
}

func TestExecute_GiveOverCapLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPoints())

	ok, err := f.ledger.TryDebit(ctx, "U1", model.Positive, 4)
	require.NoError(t, err)
	require.True(t, ok)
	before := f.record(t, "U1")

	replies, err := f.executor.Execute(ctx, f.cmd, model.Give{From: "U1", To: "U2", Amount: 3, Kind: model.Positive})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "You do not have enough shots!", replies[0].Text)
	assert.Equal(t, model.Ephemeral, replies[0].Visibility)
	assert.Equal(t, "U1", replies[0].EphemeralTo)

	assert.Equal(t, before, f.record(t, "U1"))
	assert.Equal(t, int64(0), f.record(t, "U2").Positive.ReceivedTotal)
}

func TestExecute_GiveHugeAmountIsNotEnough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPoints())

	ok, err := f.ledger.TryDebit(ctx, "U1", model.Positive, 1)
	require.NoError(t, err)
	require.True(t, ok)
	before := f.record(t, "U1")

	replies, err := f.executor.Execute(ctx, f.cmd, model.Give{From: "U1", To: "U2", Amount: math.MaxInt64, Kind: model.Positive})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "You do not have enough shots!", replies[0].Text)
	assert.Equal(t, 0, f.ledger.creditCalls)

	assert.Equal(t, before, f.record(t, "U1"))
	assert.Equal(t, int64(0), f.record(t, "U2").Positive.ReceivedTotal)

	remaining, err := f.ledger.Remaining(ctx, "U1", model.Positive)
	require.NoError(t, err)
	assert.Equal(t, int64(4), remaining)
}

func TestExecute_GiveZeroAmountIsNotEnough(t *testing.T) {
	f := newFixture(t, testPoints())

	replies, err := f.executor.Execute(context.Background(), f.cmd, model.Give{From: "U1", To: "U2", Amount: 0, Kind: model.Positive})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "You do not have enough shots!", replies[0].Text)
	assert.Equal(t, 0, f.ledger.creditCalls)
}

func TestExecute_SelfGive(t *testing.T) {
	t.Run("disallowed", func(t *testing.T) {
		f := newFixture(t, testPoints())

		replies, err := f.executor.Execute(context.Background(), f.cmd, model.Give{From: "U1", To: "U1", Amount: 1, Kind: model.Positive})
		require.NoError(t, err)
		require.Len(t, replies, 1)
		assert.Equal(t, "You cannot give shots to yourself.", replies[0].Text)
		assert.Equal(t, model.Ephemeral, replies[0].Visibility)
		assert.Equal(t, "U1", replies[0].EphemeralTo)

		rec := f.record(t, "U1")
		assert.Equal(t, model.Counters{}, rec.Positive)
	})

	t.Run("allowed", func(t *testing.T) {
		points := testPoints()
		points.SelfGive = config.PolicyAllow
		f := newFixture(t, points)

		replies, err := f.executor.Execute(context.Background(), f.cmd, model.Give{From: "U1", To: "U1", Amount: 1, Kind: model.Positive})
		require.NoError(t, err)
		assert.Len(t, replies, 2)

		rec := f.record(t, "U1")
		assert.Equal(t, int64(1), rec.Positive.UsedToday)
		assert.Equal(t, int64(1), rec.Positive.ReceivedTotal)
	})
}

func TestExecute_DebitFailureDoesNotCredit(t *testing.T) {
	f := newFixture(t, testPoints())
	f.ledger.debitErr = errors.New("connection reset")

	replies, err := f.executor.Execute(context.Background(), f.cmd, model.Give{From: "U1", To: "U2", Amount: 1, Kind: model.Positive})
	require.Error(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, msgFailure, replies[0].Text)
	assert.Equal(t, 0, f.ledger.creditCalls)
	assert.Equal(t, int64(0), f.record(t, "U2").Positive.ReceivedTotal)
}

func TestExecute_CreditRetriedUntilItSucceeds(t *testing.T) {
	f := newFixture(t, testPoints())
	f.ledger.creditFailures = 2

	replies, err := f.executor.Execute(context.Background(), f.cmd, model.Give{From: "U1", To: "U2", Amount: 3, Kind: model.Positive})
	require.NoError(t, err)
	assert.Len(t, replies, 2)
	assert.Equal(t, 3, f.ledger.creditCalls)
	assert.Equal(t, int64(3), f.record(t, "U2").Positive.ReceivedTotal)
}

func TestExecute_CreditExhaustedIsReconciliationFailure(t *testing.T) {
	f := newFixture(t, testPoints())
	f.ledger.creditFailures = -1

	replies, err := f.executor.Execute(context.Background(), f.cmd, model.Give{From: "U1", To: "U2", Amount: 3, Kind: model.Positive})
	assert.ErrorIs(t, err, ErrReconciliation)
	require.Len(t, replies, 1)
	assert.Equal(t, msgFailure, replies[0].Text)

	// The debit stands; the failure is surfaced rather than hidden.
	assert.Equal(t, 4, f.ledger.creditCalls)
	assert.Equal(t, int64(3), f.record(t, "U1").Positive.UsedToday)
	assert.Equal(t, int64(0), f.record(t, "U2").Positive.ReceivedTotal)
}

func TestExecute_Queries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPoints())
	require.NoError(t, f.ledger.Credit(ctx, "U2", model.Positive, 7))
	ok, err := f.ledger.TryDebit(ctx, "U1", model.Negative, 1)
	require.NoError(t, err)
	require.True(t, ok)

	tests := []struct {
		name   string
		action model.Action
		text   string
		vis    model.Visibility
	}{
		{"score of target", model.QueryScore{Who: "U2", Kind: model.Positive}, "Bob has received 7 shots", model.Public},
		{"unknown user falls back to id", model.QueryScore{Who: "U9", Kind: model.Negative}, "U9 has received 0 penalties", model.Public},
		{"remaining", model.QueryRemaining{Who: "U1", Kind: model.Negative}, "Alice has 2 penalties remaining today", model.Public},
		{"unrecognized", model.Unrecognized{Reason: model.ReasonNoCommand}, "Alice: I do not understand your message. Try again!", model.Public},
		{"preference", model.SetPreference{Who: "U1", Enabled: false}, "Private notifications are now off.", model.Ephemeral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies, err := f.executor.Execute(ctx, f.cmd, tt.action)
			require.NoError(t, err)
			require.Len(t, replies, 1)
			assert.Equal(t, tt.text, replies[0].Text)
			assert.Equal(t, tt.vis, replies[0].Visibility)
			assert.Equal(t, "C1", replies[0].Target)
			assert.Equal(t, f.cmd.Timestamp, replies[0].ThreadRef)
		})
	}

	enabled, err := f.ledger.Preference(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestExecute_Leaderboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPoints())
	require.NoError(t, f.ledger.Credit(ctx, "U1", model.Positive, 2))
	require.NoError(t, f.ledger.Credit(ctx, "U2", model.Positive, 5))

	replies, err := f.executor.Execute(ctx, f.cmd, model.ShowLeaderboard{})
	require.NoError(t, err)
	require.Len(t, replies, 1)

	reply := replies[0]
	assert.Equal(t, model.Public, reply.Visibility)
	assert.Equal(t, "Leaderboard\n1. Bob: 5\n2. Alice: 2", reply.Text)
	require.NotNil(t, reply.Attachment)
	assert.Equal(t, []model.LeaderboardEntry{
		{Rank: 1, UserID: "U2", DisplayName: "Bob", Score: 5, Color: "#d4af37"},
		{Rank: 2, UserID: "U1", DisplayName: "Alice", Score: 2, Color: "#c0c0c0"},
	}, reply.Attachment.Entries)
}

func TestExecute_BackendReadFailure(t *testing.T) {
	f := newFixture(t, testPoints())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	replies, err := f.executor.Execute(ctx, f.cmd, model.QueryScore{Who: "U1", Kind: model.Positive})
	assert.ErrorIs(t, err, ledger.ErrBackend)
	require.Len(t, replies, 1)
	assert.Equal(t, msgFailure, replies[0].Text)
}
