// Package api serves a read-only HTTP view of the ledger.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"hey-fireball/internal/model"
)

const requestTimeout = 5 * time.Second

// LedgerReader is the ledger surface the API reads.
type LedgerReader interface {
	Record(ctx context.Context, userID string) (*model.LedgerRecord, error)
	Remaining(ctx context.Context, userID string, kind model.PointKind) (int64, error)
	History(ctx context.Context, userID string) ([]model.DailySnapshot, error)
}

// Leaderboards builds leaderboard payloads.
type Leaderboards interface {
	Leaderboard(ctx context.Context, full bool) (*model.LeaderboardPayload, error)
}

// Users answers whether a user has been seen and what they are called.
type Users interface {
	Known(id string) bool
	DisplayName(id string) string
}

// Pinger checks a backend connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds everything the HTTP handlers read from.
type Dependencies struct {
	Ledger       LedgerReader
	Leaderboards Leaderboards
	Users        Users
	// Pinger is nil for backends without a remote connection.
	Pinger Pinger
}

// Server is the HTTP API.
type Server struct {
	app  *fiber.App
	addr string
}

// NewServer creates the fiber app and registers all routes.
func NewServer(addr string, deps Dependencies) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           30 * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestLogger())

	healthH := NewHealthHandler(deps.Pinger)
	app.Get("/health", healthH.Health)

	v1 := app.Group("/api/v1")

	boardH := NewLeaderboardHandler(deps.Leaderboards)
	v1.Get("/leaderboard", boardH.Get)

	userH := NewUserHandler(deps.Ledger, deps.Users)
	v1.Get("/users/:id", userH.Get)
	v1.Get("/users/:id/history", userH.History)

	return &Server{app: app, addr: addr}
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting HTTP API...")
	return s.app.Listen(s.addr)
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *Server) Shutdown() error {
	log.Info().Msg("Stopping HTTP API...")
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// requestLogger logs every request, at warn level when it failed.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		event := log.Debug()
		if err != nil || status >= fiber.StatusBadRequest {
			event = log.Warn().Err(err)
		}
		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
		return err
	}
}
