// Package main is the entry point for the fireball points bot.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hey-fireball/internal/api"
	"hey-fireball/internal/bot"
	"hey-fireball/internal/command"
	"hey-fireball/internal/config"
	"hey-fireball/internal/directory"
	"hey-fireball/internal/discord"
	"hey-fireball/internal/handler"
	"hey-fireball/internal/ledger"
	"hey-fireball/internal/model"
	"hey-fireball/internal/repository"
	"hey-fireball/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "fireball",
		Short:         "Chat bot for giving daily-capped points to teammates",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config", "directory containing config.yaml")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))
	cmd.AddCommand(newLeaderboardCmd(&configPath))

	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the chat transport and serve commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the storage schema for the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			backend, err := repository.OpenBackend(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to open backend: %w", err)
			}
			defer backend.Close()

			if err := repository.Migrate(cmd.Context(), backend); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Str("backend", cfg.Storage.Backend).Msg("Migrations complete")
			return nil
		},
	}
}

func newLeaderboardCmd(configPath *string) *cobra.Command {
	var full, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the leaderboard from the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			backend, err := repository.OpenBackend(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to open backend: %w", err)
			}
			l := newLedger(backend, cfg.Points)
			defer l.Close()

			// Outside a chat session names are unknown, so entries show user IDs.
			ranking := service.NewRankingService(l, directory.New(), cfg.Points.Word)
			payload, err := ranking.Leaderboard(cmd.Context(), full)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(payload, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), ranking.FormatLeaderboard(payload))
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "list every user instead of the top 10")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")

	return cmd
}

// loadConfig reads configuration and configures the global logger from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newLedger(backend ledger.Backend, points config.PointsConfig) *ledger.Ledger {
	return ledger.New(backend, ledger.Caps{
		model.Positive: points.DailyCapPositive,
		model.Negative: points.DailyCapNegative,
	})
}

// transport is a connected chat transport.
type transport interface {
	ID() string
	Stop()
}

func connectTransport(cfg *config.Config, users *directory.Directory) (transport, func(*handler.MessageHandler) error, error) {
	switch cfg.Bot.Transport {
	case config.TransportTelegram:
		tg, err := bot.New(cfg, users)
		if err != nil {
			return nil, nil, err
		}
		return tg, func(h *handler.MessageHandler) error {
			go tg.Start(h)
			return nil
		}, nil

	case config.TransportDiscord:
		dc, err := discord.NewBot(cfg, users)
		if err != nil {
			return nil, nil, err
		}
		return dc, dc.Start, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Bot.Transport)
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info().
		Str("transport", cfg.Bot.Transport).
		Str("backend", cfg.Storage.Backend).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := repository.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	if err := repository.Migrate(ctx, backend); err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	l := newLedger(backend, cfg.Points)
	defer l.Close()

	users := directory.New()

	t, start, err := connectTransport(cfg, users)
	if err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}
	// The mention token must match what the transport puts in message text.
	if cfg.Bot.ID != "" && cfg.Bot.ID != t.ID() {
		log.Warn().Str("configured", cfg.Bot.ID).Str("actual", t.ID()).Msg("Configured bot ID does not match the transport, using the transport's")
	}
	cfg.Bot.ID = t.ID()

	vocab := command.NewVocabulary(cfg.BotMention(), cfg.Points)
	ranking := service.NewRankingService(l, users, cfg.Points.Word)
	executor := service.NewExecutor(l, ranking, users, cfg.Points)
	h := handler.NewMessageHandler(
		vocab,
		command.NewParser(vocab, users),
		command.NewInterpreter(vocab, l),
		executor,
		cfg.Handler.Timeout,
	)

	var server *api.Server
	if cfg.HTTP.Enabled {
		deps := api.Dependencies{Ledger: l, Leaderboards: ranking, Users: users}
		if p, ok := backend.(repository.Pinger); ok {
			deps.Pinger = p
		}
		server = api.NewServer(cfg.HTTP.Addr, deps)
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("HTTP API stopped")
			}
		}()
	}

	if err := start(h); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	log.Info().Str("bot_id", cfg.Bot.ID).Msg("Bot is running")

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	t.Stop()
	if server != nil {
		if err := server.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop HTTP API")
		}
	}
	log.Info().Msg("Bot stopped gracefully")
	return nil
}
