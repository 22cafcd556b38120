// Package handler runs inbound chat messages through the command pipeline.
package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hey-fireball/internal/command"
	"hey-fireball/internal/model"
	"hey-fireball/internal/service"
)

const msgFailure = "Something went wrong, please try again later."

// MessageHandler turns one RawEvent into the replies a transport delivers.
type MessageHandler struct {
	vocab       *command.Vocabulary
	parser      *command.Parser
	interpreter *command.Interpreter
	executor    *service.Executor
	timeout     time.Duration
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(
	vocab *command.Vocabulary,
	parser *command.Parser,
	interpreter *command.Interpreter,
	executor *service.Executor,
	timeout time.Duration,
) *MessageHandler {
	return &MessageHandler{
		vocab:       vocab,
		parser:      parser,
		interpreter: interpreter,
		executor:    executor,
		timeout:     timeout,
	}
}

// Addressed reports whether the bot should look at ev at all: the text
// mentions the bot or carries one of the point reactions.
func (h *MessageHandler) Addressed(ev model.RawEvent) bool {
	if h.vocab.MentionsBot(ev.Text) || strings.Contains(ev.Text, h.vocab.Emoji) {
		return true
	}
	return h.vocab.NegativeEmoji != "" && strings.Contains(ev.Text, h.vocab.NegativeEmoji)
}

// Handle parses, interprets and executes ev. Events that are not addressed
// to the bot produce no replies. A non-nil error always comes with a
// failure reply for the sender.
func (h *MessageHandler) Handle(ctx context.Context, ev model.RawEvent) ([]model.Reply, error) {
	if !h.Addressed(ev) {
		return nil, nil
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	logger := log.With().
		Str("user_id", ev.SenderID).
		Str("channel", ev.Channel).
		Logger()

	cmd := h.parser.Parse(ev)

	action, err := h.interpreter.Interpret(ctx, cmd)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to interpret message")
		return []model.Reply{{
			Target:      ev.Channel,
			Text:        msgFailure,
			Visibility:  model.Ephemeral,
			EphemeralTo: ev.SenderID,
			ThreadRef:   ev.Timestamp,
		}}, fmt.Errorf("failed to interpret message: %w", err)
	}

	logger.Debug().Str("action", fmt.Sprintf("%T", action)).Msg("Message interpreted")

	replies, err := h.executor.Execute(ctx, &cmd, action)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to execute action")
		return replies, fmt.Errorf("failed to execute action: %w", err)
	}
	return replies, nil
}
