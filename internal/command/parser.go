package command

import (
	"regexp"
	"strconv"
	"strings"

	"hey-fireball/internal/model"
)

// mentionPattern matches a directed user mention: <@ID>, <@!ID> or <@ID|label>.
var mentionPattern = regexp.MustCompile(`^<@!?([A-Za-z0-9_.\-]+)(?:\|[^>]*)?>$`)

// KnownUsers reports whether a user ID belongs to a known user.
type KnownUsers interface {
	Known(userID string) bool
}

// Parser is the positional command grammar. It is a pure function of the
// event, the vocabulary and the known-user set.
type Parser struct {
	vocab *Vocabulary
	users KnownUsers
}

// NewParser creates a parser.
func NewParser(vocab *Vocabulary, users KnownUsers) *Parser {
	return &Parser{vocab: vocab, users: users}
}

// MentionID extracts the user ID from a mention token.
func MentionID(token string) (string, bool) {
	m := mentionPattern.FindStringSubmatch(token)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Parse scans the event text at fixed offsets:
//
//	[<@bot>] [<@target>] <command-or-count> [setting | more reactions...]
//
// The target slot is consumed only by a syntactically valid mention of a
// known user. Too few tokens leave the later fields empty.
func (p *Parser) Parse(ev model.RawEvent) model.ParsedCommand {
	cmd := model.ParsedCommand{
		SenderID:  ev.SenderID,
		Channel:   ev.Channel,
		Timestamp: ev.Timestamp,
	}

	parts := strings.Fields(ev.Text)
	if len(parts) == 0 {
		return cmd
	}

	cmd.MentionIsFirstToken = p.vocab.IsBotMention(parts[0])

	idx := 0
	if cmd.MentionIsFirstToken {
		idx = 1
	}
	if idx < len(parts) {
		if id, ok := MentionID(parts[idx]); ok && p.users.Known(id) {
			cmd.TargetID = &id
			idx++
		}
	}

	if idx >= len(parts) {
		return cmd
	}

	token := parts[idx]
	cmd.KeywordOrCount = &token

	// Keyword classification is independent of the count parse below, so a
	// token that is both a keyword and an integer is treated as a keyword.
	if name, ok := p.vocab.Classify(token, cmd.HasTarget()); ok {
		cmd.Keyword = &name
	}

	p.extractCount(&cmd, parts[idx:])

	if cmd.Keyword != nil && *cmd.Keyword == model.CmdPreference && idx+1 < len(parts) {
		setting := strings.ToLower(parts[idx+1])
		cmd.SettingToken = &setting
	}

	return cmd
}

// extractCount resolves the count and point type from the command slot.
// A reaction token counts every occurrence of itself from the slot to the end.
func (p *Parser) extractCount(cmd *model.ParsedCommand, rest []string) {
	token := rest[0]

	var kind model.PointKind
	switch {
	case token == p.vocab.Emoji:
		kind = model.Positive
	case p.vocab.NegativeEmoji != "" && token == p.vocab.NegativeEmoji:
		kind = model.Negative
	default:
		n, err := strconv.ParseInt(token, 10, 64)
		if err == nil {
			cmd.Count = &n
		}
		return
	}

	var n int64
	for _, part := range rest {
		if part == token {
			n++
		}
	}
	cmd.Count = &n
	cmd.PointType = &kind
}
