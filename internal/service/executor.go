// Package service applies resolved actions against the points ledger and
// builds the replies a transport delivers.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"hey-fireball/internal/config"
	"hey-fireball/internal/model"
)

// ErrReconciliation is returned when a debit went through but the matching
// credit could not be applied.
var ErrReconciliation = errors.New("debit applied but credit failed")

// Reply texts.
const (
	msgFailure       = "Something went wrong, please try again later."
	msgNotUnderstood = "%s: I do not understand your message. Try again!"
)

// PointsLedger is the ledger surface the executor mutates and reads.
type PointsLedger interface {
	TotalsReader
	Remaining(ctx context.Context, userID string, kind model.PointKind) (int64, error)
	TryDebit(ctx context.Context, userID string, kind model.PointKind, amount int64) (bool, error)
	Credit(ctx context.Context, userID string, kind model.PointKind, amount int64) error
	TotalReceived(ctx context.Context, userID string, kind model.PointKind) (int64, error)
	Preference(ctx context.Context, userID string) (bool, error)
	SetPreference(ctx context.Context, userID string, enabled bool) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCreditBackoff sets how often and how fast a failed credit is retried.
func WithCreditBackoff(retries uint64, initial time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.creditRetries = retries
		e.creditInitial = initial
	}
}

// Executor applies actions and builds replies.
type Executor struct {
	ledger  PointsLedger
	ranking *RankingService
	names   NameResolver
	points  config.PointsConfig

	creditRetries uint64
	creditInitial time.Duration
}

// NewExecutor creates a new Executor instance.
func NewExecutor(ledger PointsLedger, ranking *RankingService, names NameResolver, points config.PointsConfig, opts ...ExecutorOption) *Executor {
	e := &Executor{
		ledger:        ledger,
		ranking:       ranking,
		names:         names,
		points:        points,
		creditRetries: 5,
		creditInitial: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies action on behalf of cmd's sender. On a backend failure the
// returned replies carry a generic failure message and the error is non-nil.
func (e *Executor) Execute(ctx context.Context, cmd *model.ParsedCommand, action model.Action) ([]model.Reply, error) {
	var (
		replies []model.Reply
		err     error
	)

	switch a := action.(type) {
	case model.Give:
		replies, err = e.give(ctx, cmd, a)
	case model.QueryScore:
		replies, err = e.queryScore(ctx, cmd, a)
	case model.QueryRemaining:
		replies, err = e.queryRemaining(ctx, cmd, a)
	case model.ShowLeaderboard:
		replies, err = e.showLeaderboard(ctx, cmd, a)
	case model.SetPreference:
		replies, err = e.setPreference(ctx, cmd, a)
	case model.Unrecognized:
		replies = []model.Reply{e.public(cmd, fmt.Sprintf(msgNotUnderstood, e.names.DisplayName(cmd.SenderID)))}
	default:
		err = fmt.Errorf("unsupported action %T", action)
		replies = []model.Reply{e.public(cmd, msgFailure)}
	}

	for i := range replies {
		replies[i].ThreadRef = cmd.Timestamp
	}
	return replies, err
}

func (e *Executor) word(kind model.PointKind) string {
	if kind == model.Negative {
		return e.points.NegativeWord
	}
	return e.points.Word
}

func (e *Executor) public(cmd *model.ParsedCommand, text string) model.Reply {
	return model.Reply{Target: cmd.Channel, Text: text, Visibility: model.Public}
}

func (e *Executor) ephemeral(cmd *model.ParsedCommand, userID, text string) model.Reply {
	return model.Reply{Target: cmd.Channel, Text: text, Visibility: model.Ephemeral, EphemeralTo: userID}
}

func (e *Executor) failure(cmd *model.ParsedCommand) []model.Reply {
	return []model.Reply{e.ephemeral(cmd, cmd.SenderID, msgFailure)}
}

func (e *Executor) give(ctx context.Context, cmd *model.ParsedCommand, g model.Give) ([]model.Reply, error) {
	word := e.word(g.Kind)
	logger := log.With().
		Str("from", g.From).
		Str("to", g.To).
		Str("kind", g.Kind.String()).
		Int64("amount", g.Amount).
		Logger()

	if g.From == g.To && !e.points.SelfGiveAllowed() {
		logger.Debug().Msg("Rejected self-give")
		return []model.Reply{e.ephemeral(cmd, g.From, fmt.Sprintf("You cannot give %s to yourself.", word))}, nil
	}

	notEnough := []model.Reply{e.ephemeral(cmd, g.From, fmt.Sprintf("You do not have enough %s!", word))}
	if g.Amount <= 0 {
		return notEnough, nil
	}

	ok, err := e.ledger.TryDebit(ctx, g.From, g.Kind, g.Amount)
	if err != nil {
		return e.failure(cmd), fmt.Errorf("failed to debit sender: %w", err)
	}
	if !ok {
		logger.Debug().Msg("Insufficient daily balance")
		return notEnough, nil
	}

	if err := e.credit(ctx, g); err != nil {
		logger.Error().Err(err).Msg("Reconciliation failure: sender debited but recipient not credited")
		return e.failure(cmd), fmt.Errorf("%w: %w", ErrReconciliation, err)
	}

	logger.Info().Msg("Points given")

	from, to := e.names.DisplayName(g.From), e.names.DisplayName(g.To)
	replies := []model.Reply{
		e.public(cmd, fmt.Sprintf("%s gave %d %s to %s", from, g.Amount, word, to)),
	}

	notice := fmt.Sprintf("You received %d %s from %s", g.Amount, word, from)
	pm, err := e.ledger.Preference(ctx, g.To)
	if err != nil {
		// The give itself is complete; only the private notice is lost.
		logger.Warn().Err(err).Msg("Failed to read recipient preference")
		return replies, nil
	}
	if pm {
		replies = append(replies, model.Reply{Target: g.To, Direct: true, Text: notice, Visibility: model.Public})
	} else {
		replies = append(replies, e.ephemeral(cmd, g.To, notice))
	}
	return replies, nil
}

// credit retries a failed credit with exponential backoff.
func (e *Executor) credit(ctx context.Context, g model.Give) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.creditInitial
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, e.creditRetries), ctx)

	return backoff.RetryNotify(func() error {
		return e.ledger.Credit(ctx, g.To, g.Kind, g.Amount)
	}, retry, func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("to", g.To).Dur("wait", wait).Msg("Credit failed, retrying")
	})
}

func (e *Executor) queryScore(ctx context.Context, cmd *model.ParsedCommand, q model.QueryScore) ([]model.Reply, error) {
	total, err := e.ledger.TotalReceived(ctx, q.Who, q.Kind)
	if err != nil {
		return e.failure(cmd), fmt.Errorf("failed to read total: %w", err)
	}
	text := fmt.Sprintf("%s has received %d %s", e.names.DisplayName(q.Who), total, e.word(q.Kind))
	return []model.Reply{e.public(cmd, text)}, nil
}

func (e *Executor) queryRemaining(ctx context.Context, cmd *model.ParsedCommand, q model.QueryRemaining) ([]model.Reply, error) {
	remaining, err := e.ledger.Remaining(ctx, q.Who, q.Kind)
	if err != nil {
		return e.failure(cmd), fmt.Errorf("failed to read remaining: %w", err)
	}
	text := fmt.Sprintf("%s has %d %s remaining today", e.names.DisplayName(q.Who), remaining, e.word(q.Kind))
	return []model.Reply{e.public(cmd, text)}, nil
}

func (e *Executor) showLeaderboard(ctx context.Context, cmd *model.ParsedCommand, s model.ShowLeaderboard) ([]model.Reply, error) {
	payload, err := e.ranking.Leaderboard(ctx, s.Full)
	if err != nil {
		return []model.Reply{e.public(cmd, msgFailure)}, err
	}
	reply := e.public(cmd, e.ranking.FormatLeaderboard(payload))
	reply.Attachment = payload
	return []model.Reply{reply}, nil
}

func (e *Executor) setPreference(ctx context.Context, cmd *model.ParsedCommand, s model.SetPreference) ([]model.Reply, error) {
	if err := e.ledger.SetPreference(ctx, s.Who, s.Enabled); err != nil {
		return e.failure(cmd), fmt.Errorf("failed to set preference: %w", err)
	}
	state := "off"
	if s.Enabled {
		state = "on"
	}
	text := fmt.Sprintf("Private notifications are now %s.", state)
	return []model.Reply{e.ephemeral(cmd, s.Who, text)}, nil
}
