package command

import (
	"context"
	"fmt"

	"hey-fireball/internal/model"
)

// LedgerReader is the read side of the points ledger the interpreter needs.
type LedgerReader interface {
	Remaining(ctx context.Context, userID string, kind model.PointKind) (int64, error)
	Preference(ctx context.Context, userID string) (bool, error)
}

// Interpreter resolves shorthand and implicit commands into actions.
type Interpreter struct {
	vocab  *Vocabulary
	ledger LedgerReader
}

// NewInterpreter creates an interpreter.
func NewInterpreter(vocab *Vocabulary, ledger LedgerReader) *Interpreter {
	return &Interpreter{vocab: vocab, ledger: ledger}
}

// Interpret maps a parsed command to exactly one action. Ledger read failures
// are returned as errors rather than resolved to zero balances.
func (i *Interpreter) Interpret(ctx context.Context, cmd model.ParsedCommand) (model.Action, error) {
	if cmd.KeywordOrCount == nil {
		if cmd.HasTarget() {
			return model.Unrecognized{Reason: model.ReasonNoCommand}, nil
		}
		return model.Unrecognized{Reason: model.ReasonEmpty}, nil
	}

	if cmd.Keyword == nil {
		return i.implicit(cmd), nil
	}

	switch *cmd.Keyword {
	case model.CmdGiveAll:
		return i.giveAll(ctx, cmd, model.Positive)
	case model.CmdGiveAllNegative:
		return i.giveAll(ctx, cmd, model.Negative)
	case model.CmdPointsQuery:
		return model.QueryScore{Who: whoOf(cmd), Kind: model.Positive}, nil
	case model.CmdNegativePointsQuery:
		return model.QueryScore{Who: whoOf(cmd), Kind: model.Negative}, nil
	case model.CmdPointsRemaining:
		return model.QueryRemaining{Who: cmd.SenderID, Kind: model.Positive}, nil
	case model.CmdNegativeRemaining:
		return model.QueryRemaining{Who: cmd.SenderID, Kind: model.Negative}, nil
	case model.CmdLeaderboard:
		return model.ShowLeaderboard{Full: false}, nil
	case model.CmdLeaderboardFull:
		return model.ShowLeaderboard{Full: true}, nil
	case model.CmdPreference:
		return i.preference(ctx, cmd)
	default:
		return model.Unrecognized{Reason: model.ReasonNoCommand}, nil
	}
}

// implicit resolves "<@target> <count>" and "<@target> <emoji>..." into a give.
func (i *Interpreter) implicit(cmd model.ParsedCommand) model.Action {
	if !cmd.HasTarget() {
		// A give-all word or a count without a known target still reads as an
		// attempted give.
		if name, ok := i.vocab.Classify(*cmd.KeywordOrCount, true); ok &&
			(name == model.CmdGiveAll || name == model.CmdGiveAllNegative) {
			return model.Unrecognized{Reason: model.ReasonMissingTarget}
		}
		if cmd.Count != nil {
			return model.Unrecognized{Reason: model.ReasonMissingTarget}
		}
		return model.Unrecognized{Reason: model.ReasonNoCommand}
	}

	if cmd.Count == nil {
		return model.Unrecognized{Reason: model.ReasonNoCommand}
	}
	if *cmd.Count <= 0 {
		return model.Unrecognized{Reason: model.ReasonInvalidAmount}
	}

	kind := model.Positive
	if cmd.PointType != nil {
		kind = *cmd.PointType
	}
	return model.Give{From: cmd.SenderID, To: *cmd.TargetID, Amount: *cmd.Count, Kind: kind}
}

func (i *Interpreter) giveAll(ctx context.Context, cmd model.ParsedCommand, kind model.PointKind) (model.Action, error) {
	if !cmd.HasTarget() {
		return model.Unrecognized{Reason: model.ReasonMissingTarget}, nil
	}
	remaining, err := i.ledger.Remaining(ctx, cmd.SenderID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remaining %s points: %w", kind, err)
	}
	return model.Give{From: cmd.SenderID, To: *cmd.TargetID, Amount: remaining, Kind: kind}, nil
}

func (i *Interpreter) preference(ctx context.Context, cmd model.ParsedCommand) (model.Action, error) {
	if cmd.SettingToken != nil {
		switch *cmd.SettingToken {
		case "on":
			return model.SetPreference{Who: cmd.SenderID, Enabled: true}, nil
		case "off":
			return model.SetPreference{Who: cmd.SenderID, Enabled: false}, nil
		default:
			return model.Unrecognized{Reason: model.ReasonBadSetting}, nil
		}
	}

	current, err := i.ledger.Preference(ctx, cmd.SenderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read preference: %w", err)
	}
	return model.SetPreference{Who: cmd.SenderID, Enabled: !current}, nil
}

func whoOf(cmd model.ParsedCommand) string {
	if cmd.TargetID != nil {
		return *cmd.TargetID
	}
	return cmd.SenderID
}
