package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"hey-fireball/internal/model"
)

// counterFields is the order counters are stored in snapshots and returned
// by ledgerScript.
var counterFields = []string{
	"pos_used_today", "pos_used_total", "pos_received_today", "pos_received_total",
	"neg_used_today", "neg_used_total", "neg_received_today", "neg_received_total",
}

// ledgerScript creates the user hash on first reference, rolls it over when
// its day is older than ARGV[2], applies the operation in ARGV[3] and returns
// {ok, last_rollover_day, pm_enabled, counters...}.
//
// KEYS: user hash, users list, history list.
// ARGV: user id, today, op (load|debit|credit|pref), kind prefix, amount, limit or preference.
var ledgerScript = redis.NewScript(`
local fields = {
	'pos_used_today', 'pos_used_total', 'pos_received_today', 'pos_received_total',
	'neg_used_today', 'neg_used_total', 'neg_received_today', 'neg_received_total',
}
local key, today, op, kind = KEYS[1], ARGV[2], ARGV[3], ARGV[4]

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'last_rollover_day', today, 'pm_enabled', '1')
	for _, f in ipairs(fields) do
		redis.call('HSET', key, f, 0)
	end
	redis.call('RPUSH', KEYS[2], ARGV[1])
end

local day = redis.call('HGET', key, 'last_rollover_day')
if day < today then
	local snapshot = {day}
	for _, f in ipairs(fields) do
		table.insert(snapshot, redis.call('HGET', key, f))
	end
	redis.call('RPUSH', KEYS[3], table.concat(snapshot, '|'))
	redis.call('HSET', key, 'last_rollover_day', today,
		'pos_used_today', 0, 'pos_received_today', 0,
		'neg_used_today', 0, 'neg_received_today', 0)
end

local ok = 1
if op == 'debit' then
	local amount, limit = tonumber(ARGV[5]), tonumber(ARGV[6])
	local used = tonumber(redis.call('HGET', key, kind .. '_used_today'))
	if amount <= limit - used then
		redis.call('HINCRBY', key, kind .. '_used_today', amount)
		redis.call('HINCRBY', key, kind .. '_used_total', amount)
	else
		ok = 0
	end
elseif op == 'credit' then
	local amount = tonumber(ARGV[5])
	redis.call('HINCRBY', key, kind .. '_received_today', amount)
	redis.call('HINCRBY', key, kind .. '_received_total', amount)
elseif op == 'pref' then
	redis.call('HSET', key, 'pm_enabled', ARGV[6])
end

local result = {ok, redis.call('HGET', key, 'last_rollover_day'), redis.call('HGET', key, 'pm_enabled')}
for _, f in ipairs(fields) do
	table.insert(result, redis.call('HGET', key, f))
end
return result
`)

// RedisBackend stores each user as a hash and runs every operation as one
// server-side script.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend over client. The backend owns client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) userKey(userID string) string    { return b.prefix + ":user:" + userID }
func (b *RedisBackend) historyKey(userID string) string { return b.prefix + ":history:" + userID }
func (b *RedisBackend) usersKey() string                { return b.prefix + ":users" }

func kindPrefix(kind model.PointKind) (string, error) {
	switch kind {
	case model.Positive:
		return "pos", nil
	case model.Negative:
		return "neg", nil
	default:
		return "", fmt.Errorf("unknown point kind %d", kind)
	}
}

// run executes ledgerScript and decodes its reply.
func (b *RedisBackend) run(ctx context.Context, userID, today, op string, kind model.PointKind, amount int64, extra string) (bool, *model.LedgerRecord, error) {
	prefix, err := kindPrefix(kind)
	if err != nil {
		return false, nil, err
	}

	keys := []string{b.userKey(userID), b.usersKey(), b.historyKey(userID)}
	reply, err := ledgerScript.Run(ctx, b.client, keys, userID, today, op, prefix, amount, extra).Slice()
	if err != nil {
		return false, nil, fmt.Errorf("failed to run ledger script: %w", err)
	}
	if len(reply) != 3+len(counterFields) {
		return false, nil, fmt.Errorf("unexpected ledger script reply length %d", len(reply))
	}

	ok, _ := reply[0].(int64)
	rec := &model.LedgerRecord{
		UserID:          userID,
		LastRolloverDay: fmt.Sprint(reply[1]),
		PMEnabled:       fmt.Sprint(reply[2]) == "1",
	}
	values := make([]string, len(counterFields))
	for i := range counterFields {
		values[i] = fmt.Sprint(reply[3+i])
	}
	if err := decodeCounters(values, &rec.Positive, &rec.Negative); err != nil {
		return false, nil, err
	}
	return ok == 1, rec, nil
}

// decodeCounters parses eight counter values in counterFields order.
func decodeCounters(values []string, pos, neg *model.Counters) error {
	targets := []*int64{
		&pos.UsedToday, &pos.UsedTotal, &pos.ReceivedToday, &pos.ReceivedTotal,
		&neg.UsedToday, &neg.UsedTotal, &neg.ReceivedToday, &neg.ReceivedTotal,
	}
	if len(values) != len(targets) {
		return fmt.Errorf("expected %d counters, got %d", len(targets), len(values))
	}
	for i, v := range values {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid counter %s=%q: %w", counterFields[i], v, err)
		}
		*targets[i] = n
	}
	return nil
}

// Load implements ledger.Backend.
func (b *RedisBackend) Load(ctx context.Context, userID, today string) (*model.LedgerRecord, error) {
	_, rec, err := b.run(ctx, userID, today, "load", model.Positive, 0, "")
	return rec, err
}

// TryDebit implements ledger.Backend.
func (b *RedisBackend) TryDebit(ctx context.Context, userID string, kind model.PointKind, amount, limit int64, today string) (bool, error) {
	ok, _, err := b.run(ctx, userID, today, "debit", kind, amount, strconv.FormatInt(limit, 10))
	return ok, err
}

// Credit implements ledger.Backend.
func (b *RedisBackend) Credit(ctx context.Context, userID string, kind model.PointKind, amount int64, today string) error {
	_, _, err := b.run(ctx, userID, today, "credit", kind, amount, "")
	return err
}

// SetPreference implements ledger.Backend.
func (b *RedisBackend) SetPreference(ctx context.Context, userID string, enabled bool, today string) error {
	value := "0"
	if enabled {
		value = "1"
	}
	_, _, err := b.run(ctx, userID, today, "pref", model.Positive, 0, value)
	return err
}

// Totals implements ledger.Backend. Users are listed in creation order.
func (b *RedisBackend) Totals(ctx context.Context, kind model.PointKind) ([]model.Score, error) {
	prefix, err := kindPrefix(kind)
	if err != nil {
		return nil, err
	}

	users, err := b.client.LRange(ctx, b.usersKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(users))
	for i, userID := range users {
		cmds[i] = pipe.HGet(ctx, b.userKey(userID), prefix+"_received_total")
	}
	if len(users) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to read totals: %w", err)
		}
	}

	scores := make([]model.Score, 0, len(users))
	for i, userID := range users {
		total, err := cmds[i].Int64()
		if err != nil {
			return nil, fmt.Errorf("failed to parse total for %s: %w", userID, err)
		}
		scores = append(scores, model.Score{UserID: userID, Total: total})
	}
	return scores, nil
}

// History implements ledger.Backend.
func (b *RedisBackend) History(ctx context.Context, userID string) ([]model.DailySnapshot, error) {
	entries, err := b.client.LRange(ctx, b.historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	snapshots := make([]model.DailySnapshot, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, "|")
		if len(parts) != 1+len(counterFields) {
			return nil, fmt.Errorf("malformed history entry %q", entry)
		}
		s := model.DailySnapshot{UserID: userID, Day: parts[0]}
		if err := decodeCounters(parts[1:], &s.Positive, &s.Negative); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// Ping reports whether the server is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close implements ledger.Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
