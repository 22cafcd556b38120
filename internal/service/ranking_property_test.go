// Property-based tests for RankingService.
package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hey-fireball/internal/directory"
	"hey-fireball/internal/model"
)

type staticTotals []model.Score

func (s staticTotals) AllTotals(context.Context, model.PointKind) ([]model.Score, error) {
	return s, nil
}

// TestLeaderboardOrderingProperty tests that ranked output is sorted by total
// descending, keeps the input order of ties and holds at most 10 entries
// unless the full board was requested.
func TestLeaderboardOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numUsers := rapid.IntRange(0, 40).Draw(t, "numUsers")
		full := rapid.Bool().Draw(t, "full")

		scores := make([]model.Score, numUsers)
		position := make(map[string]int, numUsers)
		for i := range scores {
			id := fmt.Sprintf("U%d", i)
			// A narrow range forces plenty of ties.
			scores[i] = model.Score{UserID: id, Total: rapid.Int64Range(0, 5).Draw(t, "total")}
			position[id] = i
		}
		input := append([]model.Score(nil), scores...)

		ranked := Rank(scores, full)

		if full && len(ranked) != numUsers {
			t.Fatalf("full board has %d entries, want %d", len(ranked), numUsers)
		}
		if !full && len(ranked) != min(numUsers, LeaderboardSize) {
			t.Fatalf("board has %d entries, want %d", len(ranked), min(numUsers, LeaderboardSize))
		}

		for i := 1; i < len(ranked); i++ {
			prev, cur := ranked[i-1], ranked[i]
			if cur.Total > prev.Total {
				t.Fatalf("not sorted at %d: %d after %d", i, cur.Total, prev.Total)
			}
			if cur.Total == prev.Total && position[cur.UserID] < position[prev.UserID] {
				t.Fatalf("tie order broken at %d: %s before %s", i, prev.UserID, cur.UserID)
			}
		}

		// The cut keeps the highest totals.
		if len(ranked) > 0 {
			lowest := ranked[len(ranked)-1].Total
			kept := make(map[string]bool, len(ranked))
			for _, s := range ranked {
				kept[s.UserID] = true
			}
			for _, s := range scores {
				if !kept[s.UserID] && s.Total > lowest {
					t.Fatalf("%s with %d dropped while %d kept", s.UserID, s.Total, lowest)
				}
			}
		}

		for i := range scores {
			if scores[i] != input[i] {
				t.Fatalf("input modified at %d", i)
			}
		}
	})
}

func TestRankColor(t *testing.T) {
	assert.Equal(t, "#d4af37", RankColor(0))
	assert.Equal(t, "#c0c0c0", RankColor(1))
	assert.Equal(t, "#cd7f32", RankColor(2))
	assert.Equal(t, "#36a64f", RankColor(3))
	assert.Equal(t, "#36a64f", RankColor(25))
}

func TestRankingService_Leaderboard(t *testing.T) {
	scores := make(staticTotals, 12)
	for i := range scores {
		scores[i] = model.Score{UserID: fmt.Sprintf("U%d", i), Total: int64(i)}
	}
	names := directory.New(directory.User{ID: "U11", DisplayName: "Top"})
	svc := NewRankingService(scores, names, "shots")

	payload, err := svc.Leaderboard(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "Leaderboard", payload.Title)
	require.Len(t, payload.Entries, LeaderboardSize)
	assert.Equal(t, model.LeaderboardEntry{Rank: 1, UserID: "U11", DisplayName: "Top", Score: 11, Color: "#d4af37"}, payload.Entries[0])
	assert.Equal(t, "U10", payload.Entries[1].DisplayName)

	payload, err = svc.Leaderboard(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "Full Leaderboard", payload.Title)
	assert.Len(t, payload.Entries, 12)
}

func TestRankingService_FormatEmpty(t *testing.T) {
	svc := NewRankingService(staticTotals{}, directory.New(), "shots")

	payload, err := svc.Leaderboard(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "Leaderboard\nNobody has received any shots yet.", svc.FormatLeaderboard(payload))
}
