package bot

import (
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"hey-fireball/internal/config"
	"hey-fireball/internal/directory"
)

// WhitelistMiddleware drops updates from chats outside the whitelist.
// Senders in allowed group chats are recorded in the directory, and a
// private chat is only served to a user seen that way, unless the whitelist
// is empty.
func WhitelistMiddleware(cfg *config.Config, users *directory.Directory) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			sender := c.Sender()

			if chat == nil || sender == nil || sender.IsBot {
				return nil
			}

			userID := strconv.FormatInt(sender.ID, 10)

			if chat.Type == tele.ChatPrivate {
				if users.Known(userID) || len(cfg.Whitelist.Chats) == 0 {
					users.Observe(directoryUser(sender))
					return next(c)
				}

				log.Debug().
					Str("user_id", userID).
					Msg("Ignoring private chat from user not seen in a whitelisted chat")
				return nil
			}

			chatID := strconv.FormatInt(chat.ID, 10)
			if !cfg.IsChatAllowed(chatID) {
				log.Debug().
					Str("chat_id", chatID).
					Msg("Ignoring message from non-whitelisted chat")
				return nil
			}

			users.Observe(directoryUser(sender))
			return next(c)
		}
	}
}

// LoggingMiddleware creates a middleware that logs all incoming messages.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			chat := c.Chat()

			logEvent := log.Debug()
			if sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("text", c.Text()).
				Msg("Received message")

			return next(c)
		}
	}
}

// RecoveryMiddleware creates a middleware that recovers from panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Msg("Recovered from panic in handler")
					err = c.Reply(msgInternalError)
				}
			}()
			return next(c)
		}
	}
}
