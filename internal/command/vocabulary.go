// Package command turns chat text into actions: a positional parser followed
// by an interpreter that resolves implicit and shorthand commands.
package command

import (
	"strings"

	"hey-fireball/internal/config"
	"hey-fireball/internal/model"
)

// Vocabulary maps lowercase words to command names. General words are used
// when no target user occupies the target slot, target words when one does.
type Vocabulary struct {
	BotMention    string
	Emoji         string
	NegativeEmoji string // empty when negative points are disabled

	botID      string
	general    map[string]model.CommandName
	withTarget map[string]model.CommandName
}

// NewVocabulary builds the vocabulary from the points configuration.
func NewVocabulary(botMention string, p config.PointsConfig) *Vocabulary {
	v := &Vocabulary{
		BotMention: botMention,
		Emoji:      p.Emoji,
		general: map[string]model.CommandName{
			p.LeaderboardWord:     model.CmdLeaderboard,
			p.FullLeaderboardWord: model.CmdLeaderboardFull,
			p.Word:                model.CmdPointsQuery,
			p.Word + "left":       model.CmdPointsRemaining,
			p.PreferenceWord:      model.CmdPreference,
		},
		withTarget: map[string]model.CommandName{
			p.Word:        model.CmdPointsQuery,
			p.GiveAllWord: model.CmdGiveAll,
		},
	}

	if p.NegativeAllowed() {
		v.NegativeEmoji = p.NegativeEmoji
		v.general[p.NegativeWord] = model.CmdNegativePointsQuery
		v.general[p.NegativeWord+"left"] = model.CmdNegativeRemaining
		v.withTarget[p.NegativeWord] = model.CmdNegativePointsQuery
		v.withTarget[p.NegativeGiveAllWord] = model.CmdGiveAllNegative
	}

	v.general = lowerKeys(v.general)
	v.withTarget = lowerKeys(v.withTarget)
	v.botID, _ = MentionID(botMention)
	return v
}

// IsBotMention reports whether token mentions the bot in any mention form,
// including Discord's legacy nickname form <@!ID>.
func (v *Vocabulary) IsBotMention(token string) bool {
	if token == v.BotMention {
		return true
	}
	id, ok := MentionID(token)
	return ok && v.botID != "" && id == v.botID
}

// MentionsBot reports whether the bot is mentioned anywhere in text.
func (v *Vocabulary) MentionsBot(text string) bool {
	if strings.Contains(text, v.BotMention) {
		return true
	}
	return v.botID != "" && strings.Contains(text, "<@!"+v.botID+">")
}

// Classify matches token case-insensitively against the vocabulary for the
// given target situation.
func (v *Vocabulary) Classify(token string, hasTarget bool) (model.CommandName, bool) {
	words := v.general
	if hasTarget {
		words = v.withTarget
	}
	name, ok := words[strings.ToLower(token)]
	return name, ok
}

func lowerKeys(in map[string]model.CommandName) map[string]model.CommandName {
	out := make(map[string]model.CommandName, len(in))
	for k, name := range in {
		if k == "" {
			continue
		}
		out[strings.ToLower(k)] = name
	}
	return out
}
