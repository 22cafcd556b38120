// Package bot is the Telegram transport: it turns text messages into
// RawEvents for the message handler and delivers the replies.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"hey-fireball/internal/config"
	"hey-fireball/internal/directory"
	"hey-fireball/internal/handler"
	"hey-fireball/internal/model"
)

const msgInternalError = "Something went wrong, please try again later."

// maxMessageLength is Telegram's limit on message text, in UTF-16 code units.
const maxMessageLength = 4096

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot     *tele.Bot
	cfg     *config.Config
	users   *directory.Directory
	me      *tele.User
	handler *handler.MessageHandler
}

// New connects to Telegram and resolves the bot's own identity.
func New(cfg *config.Config, users *directory.Directory) (*Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		bot:   teleBot,
		cfg:   cfg,
		users: users,
		me:    teleBot.Me,
	}, nil
}

// ID returns the bot's own user ID.
func (b *Bot) ID() string {
	return strconv.FormatInt(b.me.ID, 10)
}

// Start registers the message handler and polls until Stop is called.
func (b *Bot) Start(h *handler.MessageHandler) {
	b.handler = h

	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg, b.users))
	b.bot.Use(LoggingMiddleware())
	b.bot.Handle(tele.OnText, b.onText)

	log.Info().Str("username", b.me.Username).Msg("Starting Telegram bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping Telegram bot...")
	b.bot.Stop()
}

func (b *Bot) onText(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Sender == nil || msg.Chat == nil {
		return nil
	}

	// Errors are logged by the handler and already carry a failure reply.
	replies, _ := b.handler.Handle(context.Background(), b.eventOf(msg))
	for _, r := range replies {
		if err := b.send(msg.Chat, r); err != nil {
			log.Warn().Err(err).
				Int64("chat_id", msg.Chat.ID).
				Str("target", r.Target).
				Bool("direct", r.Direct).
				Msg("Failed to deliver reply")
		}
	}
	return nil
}

func (b *Bot) eventOf(msg *tele.Message) model.RawEvent {
	return model.RawEvent{
		SenderID:  strconv.FormatInt(msg.Sender.ID, 10),
		Channel:   strconv.FormatInt(msg.Chat.ID, 10),
		Text:      rewriteMentions(msg.Text, msg.Entities, b.mentionID),
		Timestamp: strconv.Itoa(msg.ID),
	}
}

// mentionID resolves a mention entity to a user ID. Text mentions carry the
// user; @username mentions are looked up in the directory.
func (b *Bot) mentionID(e tele.MessageEntity, text string) (string, bool) {
	switch e.Type {
	case tele.EntityTMention:
		if e.User == nil {
			return "", false
		}
		b.users.Observe(directoryUser(e.User))
		return strconv.FormatInt(e.User.ID, 10), true
	case tele.EntityMention:
		if b.me != nil && strings.EqualFold(strings.TrimPrefix(text, "@"), b.me.Username) {
			return strconv.FormatInt(b.me.ID, 10), true
		}
		return b.users.LookupUsername(text)
	default:
		return "", false
	}
}

// rewriteMentions replaces every resolvable mention entity in text with a
// "<@ID>" token. Entity offsets and lengths are in UTF-16 code units.
func rewriteMentions(text string, entities []tele.MessageEntity, resolve func(tele.MessageEntity, string) (string, bool)) string {
	if len(entities) == 0 {
		return text
	}

	units := utf16.Encode([]rune(text))
	var sb strings.Builder
	pos := 0
	for _, e := range entities {
		start, end := e.Offset, e.Offset+e.Length
		if e.Length <= 0 || start < pos || end > len(units) {
			continue
		}
		id, ok := resolve(e, string(utf16.Decode(units[start:end])))
		if !ok {
			continue
		}
		sb.WriteString(string(utf16.Decode(units[pos:start])))
		sb.WriteString("<@" + id + ">")
		pos = end
	}
	sb.WriteString(string(utf16.Decode(units[pos:])))
	return sb.String()
}

func (b *Bot) send(chat *tele.Chat, r model.Reply) error {
	if r.Direct {
		userID, err := strconv.ParseInt(r.Target, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid direct target %q: %w", r.Target, err)
		}
		_, err = b.bot.Send(&tele.User{ID: userID}, r.Text)
		return err
	}

	text := r.Text
	if r.Attachment != nil {
		text = formatLeaderboard(r.Attachment, text)
	}
	if r.Visibility == model.Ephemeral && chat.Type != tele.ChatPrivate {
		text = b.addressee(r.EphemeralTo) + ": " + text
	}

	// Long boards continue in follow-up messages; only the first one threads.
	for i, chunk := range splitMessage(text, maxMessageLength) {
		opts := &tele.SendOptions{}
		if msgID, err := strconv.Atoi(r.ThreadRef); err == nil && i == 0 {
			opts.ReplyTo = &tele.Message{ID: msgID, Chat: chat}
		}
		if _, err := b.bot.Send(chat, chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage breaks text into chunks of at most limit UTF-16 code units,
// preferring line boundaries. Lines longer than limit are cut.
func splitMessage(text string, limit int) []string {
	if utf16Len(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    []string
		size   int
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur, size = nil, 0
		}
	}
	for _, line := range strings.Split(text, "\n") {
		for utf16Len(line) > limit {
			flush()
			head, tail := cutUTF16(line, limit)
			chunks = append(chunks, head)
			line = tail
		}
		n := utf16Len(line)
		if len(cur) > 0 && size+1+n > limit {
			flush()
		}
		if len(cur) > 0 {
			size++
		}
		cur = append(cur, line)
		size += n
	}
	flush()
	return chunks
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

// cutUTF16 splits s after at most limit UTF-16 code units without breaking
// a rune.
func cutUTF16(s string, limit int) (string, string) {
	n := 0
	for i, r := range s {
		w := runeWidth(r)
		if n+w > limit {
			return s[:i], s[i:]
		}
		n += w
	}
	return s, ""
}

func runeWidth(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1
}

// addressee names the user an in-chat reply is meant for. Telegram has no
// per-user visibility inside a group, so such replies are posted openly.
func (b *Bot) addressee(userID string) string {
	if u, ok := b.users.Lookup(userID); ok && u.Username != "" {
		return "@" + u.Username
	}
	return b.users.DisplayName(userID)
}

var medals = []string{"🥇", "🥈", "🥉"}

// formatLeaderboard renders the board with medals for the top three.
// fallback is used for an empty board.
func formatLeaderboard(p *model.LeaderboardPayload, fallback string) string {
	if len(p.Entries) == 0 {
		return fallback
	}

	var sb strings.Builder
	sb.WriteString("📊 " + p.Title + "\n")
	sb.WriteString("━━━━━━━━━━━━━━━")
	for i, e := range p.Entries {
		rank := fmt.Sprintf("%d.", e.Rank)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&sb, "\n%s %s: %d", rank, e.DisplayName, e.Score)
	}
	return sb.String()
}

func directoryUser(u *tele.User) directory.User {
	return directory.User{
		ID:          strconv.FormatInt(u.ID, 10),
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username:    u.Username,
	}
}
