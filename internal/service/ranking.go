package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"hey-fireball/internal/model"
)

// LeaderboardSize is the number of entries shown unless the full board is
// requested.
const LeaderboardSize = 10

// rankColors are the attachment colours for first, second and third place.
// Everyone else gets defaultRankColor.
var rankColors = []string{"#d4af37", "#c0c0c0", "#cd7f32"}

const defaultRankColor = "#36a64f"

// TotalsReader lists every user's all-time received total.
type TotalsReader interface {
	AllTotals(ctx context.Context, kind model.PointKind) ([]model.Score, error)
}

// NameResolver maps user IDs to display names.
type NameResolver interface {
	DisplayName(userID string) string
}

// RankingService assembles leaderboards.
type RankingService struct {
	totals    TotalsReader
	names     NameResolver
	pointWord string
}

// NewRankingService creates a new RankingService instance.
func NewRankingService(totals TotalsReader, names NameResolver, pointWord string) *RankingService {
	return &RankingService{
		totals:    totals,
		names:     names,
		pointWord: pointWord,
	}
}

// Rank sorts scores by total descending, keeping the input order of ties,
// and truncates to LeaderboardSize unless full is set. The input is not
// modified.
func Rank(scores []model.Score, full bool) []model.Score {
	ranked := slices.Clone(scores)
	slices.SortStableFunc(ranked, func(a, b model.Score) int {
		switch {
		case a.Total > b.Total:
			return -1
		case a.Total < b.Total:
			return 1
		default:
			return 0
		}
	})
	if !full && len(ranked) > LeaderboardSize {
		ranked = ranked[:LeaderboardSize]
	}
	return ranked
}

// RankColor returns the attachment colour for a zero-based position.
func RankColor(idx int) string {
	if idx < len(rankColors) {
		return rankColors[idx]
	}
	return defaultRankColor
}

// Leaderboard builds the positive-points leaderboard.
func (s *RankingService) Leaderboard(ctx context.Context, full bool) (*model.LeaderboardPayload, error) {
	scores, err := s.totals.AllTotals(ctx, model.Positive)
	if err != nil {
		return nil, fmt.Errorf("failed to load totals: %w", err)
	}

	title := "Leaderboard"
	if full {
		title = "Full Leaderboard"
	}

	ranked := Rank(scores, full)
	payload := &model.LeaderboardPayload{
		Title:   title,
		Full:    full,
		Entries: make([]model.LeaderboardEntry, 0, len(ranked)),
	}
	for i, score := range ranked {
		payload.Entries = append(payload.Entries, model.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      score.UserID,
			DisplayName: s.names.DisplayName(score.UserID),
			Score:       score.Total,
			Color:       RankColor(i),
		})
	}
	return payload, nil
}

// FormatLeaderboard renders a payload as plain text.
func (s *RankingService) FormatLeaderboard(payload *model.LeaderboardPayload) string {
	var sb strings.Builder
	sb.WriteString(payload.Title)
	if len(payload.Entries) == 0 {
		sb.WriteString("\nNobody has received any " + s.pointWord + " yet.")
		return sb.String()
	}
	for _, e := range payload.Entries {
		fmt.Fprintf(&sb, "\n%d. %s: %d", e.Rank, e.DisplayName, e.Score)
	}
	return sb.String()
}
