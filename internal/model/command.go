package model

// RawEvent is one inbound chat message, as delivered by a transport.
type RawEvent struct {
	SenderID  string `json:"user"`
	Channel   string `json:"channel"`
	Text      string `json:"text"`
	Timestamp string `json:"ts"`
}

// CommandName is a classified command keyword.
type CommandName string

// Command names. The words that trigger them are configured per deployment.
const (
	CmdPointsQuery         CommandName = "points"
	CmdNegativePointsQuery CommandName = "negative_points"
	CmdPointsRemaining     CommandName = "points_left"
	CmdNegativeRemaining   CommandName = "negative_points_left"
	CmdLeaderboard         CommandName = "leaderboard"
	CmdLeaderboardFull     CommandName = "fullboard"
	CmdPreference          CommandName = "pm"
	CmdGiveAll             CommandName = "give_all"
	CmdGiveAllNegative     CommandName = "give_all_negative"
)

// ParsedCommand is the structured, possibly-invalid result of parsing one event.
// Nil pointer fields are absent.
type ParsedCommand struct {
	SenderID  string
	Channel   string
	Timestamp string

	MentionIsFirstToken bool
	TargetID            *string
	KeywordOrCount      *string
	Keyword             *CommandName
	PointType           *PointKind
	Count               *int64
	SettingToken        *string
}

// HasTarget reports whether a known target was addressed.
func (c *ParsedCommand) HasTarget() bool {
	return c.TargetID != nil
}

// Reason explains why a command resolved to Unrecognized.
type Reason string

// Unrecognized reasons.
const (
	ReasonEmpty         Reason = "empty"
	ReasonNoCommand     Reason = "no-command"
	ReasonMissingTarget Reason = "missing-target"
	ReasonInvalidAmount Reason = "invalid-amount"
	ReasonBadSetting    Reason = "bad-setting"
)

// Action is a resolved, unambiguous command.
// The set of implementations is closed: Give, QueryScore, QueryRemaining,
// ShowLeaderboard, SetPreference and Unrecognized.
type Action interface {
	isAction()
}

// Give transfers Amount points of Kind from one user to another.
type Give struct {
	From   string
	To     string
	Amount int64
	Kind   PointKind
}

// QueryScore reports the total received by Who.
type QueryScore struct {
	Who  string
	Kind PointKind
}

// QueryRemaining reports how many points Who can still give today.
type QueryRemaining struct {
	Who  string
	Kind PointKind
}

// ShowLeaderboard posts the leaderboard, top 10 unless Full.
type ShowLeaderboard struct {
	Full bool
}

// SetPreference stores Who's notification preference.
type SetPreference struct {
	Who     string
	Enabled bool
}

// Unrecognized is the terminal "I do not understand" state.
type Unrecognized struct {
	Reason Reason
}

func (Give) isAction()            {}
func (QueryScore) isAction()      {}
func (QueryRemaining) isAction()  {}
func (ShowLeaderboard) isAction() {}
func (SetPreference) isAction()   {}
func (Unrecognized) isAction()    {}
