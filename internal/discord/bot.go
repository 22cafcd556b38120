// Package discord is the Discord transport. Discord already writes mentions
// as "<@ID>", so message content goes to the handler unchanged.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"hey-fireball/internal/config"
	"hey-fireball/internal/directory"
	"hey-fireball/internal/handler"
	"hey-fireball/internal/model"
)

// Discord message limits.
const (
	maxEmbeds      = 10
	maxDescription = 4096
)

// Bot manages the Discord session and dispatches messages to the handler.
type Bot struct {
	session *discordgo.Session
	cfg     *config.Config
	users   *directory.Directory
	me      *discordgo.User
	handler *handler.MessageHandler
}

// NewBot creates a session and resolves the bot's own user.
func NewBot(cfg *config.Config, users *directory.Directory) (*Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	s, err := discordgo.New("Bot " + cfg.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	me, err := s.User("@me")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bot user: %w", err)
	}

	return &Bot{
		session: s,
		cfg:     cfg,
		users:   users,
		me:      me,
	}, nil
}

// ID returns the bot's own user ID.
func (b *Bot) ID() string {
	return b.me.ID
}

// Start registers the message handler and opens the gateway connection.
func (b *Bot) Start(h *handler.MessageHandler) error {
	b.handler = h
	b.session.AddHandler(b.onMessageCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	log.Info().Str("username", b.me.Username).Msg("Discord bot connected")
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() {
	if err := b.session.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Discord session")
	}
	log.Info().Msg("Discord bot disconnected")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic in handler")
		}
	}()

	if !b.accept(m) {
		return
	}

	log.Debug().
		Str("user_id", m.Author.ID).
		Str("channel", m.ChannelID).
		Str("text", m.Content).
		Msg("Received message")

	// Errors are logged by the handler and already carry a failure reply.
	replies, _ := b.handler.Handle(context.Background(), eventOf(m))
	for _, r := range replies {
		if err := b.send(s, m, r); err != nil {
			log.Warn().Err(err).
				Str("channel", m.ChannelID).
				Str("target", r.Target).
				Bool("direct", r.Direct).
				Msg("Failed to deliver reply")
		}
	}
}

// accept applies the whitelist and records the author and everyone they
// mention in the directory. Direct messages are served to users already
// seen in an allowed channel, or to anyone when the whitelist is empty.
func (b *Bot) accept(m *discordgo.MessageCreate) bool {
	if m.Author == nil || m.Author.Bot || m.Author.ID == b.me.ID {
		return false
	}

	if m.GuildID == "" {
		if !b.users.Known(m.Author.ID) && len(b.cfg.Whitelist.Chats) > 0 {
			log.Debug().Str("user_id", m.Author.ID).Msg("Ignoring direct message from unseen user")
			return false
		}
	} else if !b.cfg.IsChatAllowed(m.ChannelID) {
		log.Debug().Str("channel", m.ChannelID).Msg("Ignoring message from non-whitelisted channel")
		return false
	}

	b.users.Observe(directoryUser(m.Author, m.Member))
	for _, u := range m.Mentions {
		if u != nil && !u.Bot {
			b.users.Observe(directoryUser(u, nil))
		}
	}
	return true
}

func eventOf(m *discordgo.MessageCreate) model.RawEvent {
	return model.RawEvent{
		SenderID:  m.Author.ID,
		Channel:   m.ChannelID,
		Text:      m.Content,
		Timestamp: m.ID,
	}
}

func directoryUser(u *discordgo.User, member *discordgo.Member) directory.User {
	name := u.GlobalName
	if member != nil && member.Nick != "" {
		name = member.Nick
	}
	return directory.User{ID: u.ID, DisplayName: name, Username: u.Username}
}

func (b *Bot) send(s *discordgo.Session, m *discordgo.MessageCreate, r model.Reply) error {
	if r.Direct {
		ch, err := s.UserChannelCreate(r.Target)
		if err != nil {
			return fmt.Errorf("failed to open direct channel: %w", err)
		}
		_, err = s.ChannelMessageSend(ch.ID, r.Text)
		return err
	}

	for _, msg := range messagesFor(r, m.GuildID) {
		if _, err := s.ChannelMessageSendComplex(r.Target, msg); err != nil {
			return err
		}
	}
	return nil
}

// messagesFor builds the outgoing messages for a channel reply. Ephemeral
// replies only exist for interactions on Discord, so they are posted as a
// reply that mentions the user. A leaderboard too long for one message is
// continued in follow-up messages; only the first one threads.
func messagesFor(r model.Reply, guildID string) []*discordgo.MessageSend {
	msg := &discordgo.MessageSend{Content: r.Text}
	if r.Visibility == model.Ephemeral && guildID != "" {
		msg.Content = "<@" + r.EphemeralTo + "> " + r.Text
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{Users: []string{r.EphemeralTo}}
	}
	if r.ThreadRef != "" {
		msg.Reference = &discordgo.MessageReference{
			MessageID: r.ThreadRef,
			ChannelID: r.Target,
			GuildID:   guildID,
		}
	}
	if r.Attachment == nil {
		return []*discordgo.MessageSend{msg}
	}

	pages := leaderboardPages(r.Attachment)
	msgs := make([]*discordgo.MessageSend, len(pages))
	for i, embeds := range pages {
		msgs[i] = &discordgo.MessageSend{Embeds: embeds}
	}
	msgs[0].Reference = msg.Reference
	msgs[0].AllowedMentions = msg.AllowedMentions
	return msgs
}

// leaderboardPages renders the board as one embed group per message. A board
// that fits gets one coloured embed per entry. Longer boards are listed one
// embed per message, each description within Discord's limit.
func leaderboardPages(p *model.LeaderboardPayload) [][]*discordgo.MessageEmbed {
	if len(p.Entries) == 0 {
		return [][]*discordgo.MessageEmbed{{{Title: p.Title, Description: "Nobody is on the board yet."}}}
	}

	if len(p.Entries) <= maxEmbeds {
		embeds := make([]*discordgo.MessageEmbed, 0, len(p.Entries))
		for i, e := range p.Entries {
			embed := &discordgo.MessageEmbed{
				Description: fmt.Sprintf("%d. %s: %d", e.Rank, e.DisplayName, e.Score),
				Color:       colorOf(e.Color),
			}
			if i == 0 {
				embed.Title = p.Title
			}
			embeds = append(embeds, embed)
		}
		return [][]*discordgo.MessageEmbed{embeds}
	}

	lines := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		lines[i] = fmt.Sprintf("%d. %s: %d", e.Rank, e.DisplayName, e.Score)
	}

	var pages [][]*discordgo.MessageEmbed
	for i, desc := range chunkLines(lines, maxDescription) {
		embed := &discordgo.MessageEmbed{Description: desc, Color: colorOf(p.Entries[0].Color)}
		if i == 0 {
			embed.Title = p.Title
		}
		pages = append(pages, []*discordgo.MessageEmbed{embed})
	}
	return pages
}

// chunkLines joins lines with newlines into chunks of at most limit
// characters, breaking only between lines. A single line longer than limit
// is cut.
func chunkLines(lines []string, limit int) []string {
	var (
		chunks []string
		cur    strings.Builder
		size   int
	)
	for _, line := range lines {
		if utf8.RuneCountInString(line) > limit {
			line = string([]rune(line)[:limit])
		}
		n := utf8.RuneCountInString(line)
		if cur.Len() > 0 && size+1+n > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
			size = 0
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
			size++
		}
		cur.WriteString(line)
		size += n
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func colorOf(hex string) int {
	c, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(c)
}
