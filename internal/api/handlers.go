package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"hey-fireball/internal/model"
)

type HealthHandler struct {
	pinger Pinger
}

func NewHealthHandler(pinger Pinger) *HealthHandler {
	return &HealthHandler{pinger: pinger}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	if h.pinger == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": "backend unreachable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type LeaderboardHandler struct {
	boards Leaderboards
}

func NewLeaderboardHandler(boards Leaderboards) *LeaderboardHandler {
	return &LeaderboardHandler{boards: boards}
}

// Get returns the top of the board, or every user with ?full=true.
func (h *LeaderboardHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	payload, err := h.boards.Leaderboard(ctx, c.QueryBool("full"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build leaderboard")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load leaderboard"})
	}
	return c.JSON(payload)
}

// UserSummary is the response of GET /api/v1/users/:id.
type UserSummary struct {
	UserID            string         `json:"user_id"`
	DisplayName       string         `json:"display_name"`
	Positive          model.Counters `json:"positive"`
	Negative          model.Counters `json:"negative"`
	RemainingPositive int64          `json:"remaining_positive"`
	RemainingNegative int64          `json:"remaining_negative"`
	PMEnabled         bool           `json:"pm_enabled"`
	LastRolloverDay   string         `json:"last_rollover_day"`
}

type UserHandler struct {
	ledger LedgerReader
	users  Users
}

func NewUserHandler(ledger LedgerReader, users Users) *UserHandler {
	return &UserHandler{ledger: ledger, users: users}
}

// Get returns a user's counters. Users the bot has never seen are 404 so
// that lookups do not create empty records.
func (h *UserHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.users.Known(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	rec, err := h.ledger.Record(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("user_id", id).Msg("Failed to load record")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load user"})
	}

	summary := UserSummary{
		UserID:          id,
		DisplayName:     h.users.DisplayName(id),
		Positive:        rec.Positive,
		Negative:        rec.Negative,
		PMEnabled:       rec.PMEnabled,
		LastRolloverDay: rec.LastRolloverDay,
	}
	if summary.RemainingPositive, err = h.ledger.Remaining(ctx, id, model.Positive); err == nil {
		summary.RemainingNegative, err = h.ledger.Remaining(ctx, id, model.Negative)
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", id).Msg("Failed to load remaining balance")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load user"})
	}

	return c.JSON(summary)
}

// History returns a user's archived days, oldest first.
func (h *UserHandler) History(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.users.Known(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	history, err := h.ledger.History(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("user_id", id).Msg("Failed to load history")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load history"})
	}
	if history == nil {
		history = []model.DailySnapshot{}
	}
	return c.JSON(fiber.Map{"user_id": id, "days": history})
}
