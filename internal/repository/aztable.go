package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/cenkalti/backoff/v4"

	"hey-fireball/internal/ledger"
	"hey-fireball/internal/model"
)

// totalPartition holds the live record of every user, keyed by user ID.
// Rolled-over days are archived to a partition named after the day.
const totalPartition = "TOTAL"

// Entity property names.
const (
	propPosUsedToday     = "PosUsedToday"
	propPosUsedTotal     = "PosUsedTotal"
	propPosReceivedToday = "PosReceivedToday"
	propPosReceivedTotal = "PosReceivedTotal"
	propNegUsedToday     = "NegUsedToday"
	propNegUsedTotal     = "NegUsedTotal"
	propNegReceivedToday = "NegReceivedToday"
	propNegReceivedTotal = "NegReceivedTotal"
	propLastRolloverDay  = "LastRolloverDay"
	propPMEnabled        = "PMEnabled"
)

// errWriteConflict marks a lost optimistic-concurrency race.
var errWriteConflict = errors.New("entity changed concurrently")

// AzureTableBackend stores ledger records in an Azure Storage table. Writes
// are conditional on the entity ETag and retried on conflict.
type AzureTableBackend struct {
	client     *aztables.Client
	maxRetries uint64
}

// NewAzureTableBackend creates a backend over an existing table client.
func NewAzureTableBackend(client *aztables.Client) *AzureTableBackend {
	return &AzureTableBackend{client: client, maxRetries: 20}
}

// NewAzureTableClient connects to tableName using a storage connection string.
func NewAzureTableClient(connectionString, tableName string) (*aztables.Client, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create table service client: %w", err)
	}
	return svc.NewClient(tableName), nil
}

// Migrate creates the table if it does not exist.
func (b *AzureTableBackend) Migrate(ctx context.Context) error {
	_, err := b.client.CreateTable(ctx, nil)
	if err != nil && !hasStatus(err, http.StatusConflict) {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func hasStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func (b *AzureTableBackend) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(policy, b.maxRetries), ctx)
}

// update reads the user's entity, rolls it over, applies fn and writes it
// back conditionally. A lost race restarts from a fresh read, so fn may run
// more than once and must only depend on rec.
func (b *AzureTableBackend) update(ctx context.Context, userID, today string, fn func(rec *model.LedgerRecord) bool) error {
	attempt := func() error {
		rec, etag, err := b.get(ctx, userID)
		if err != nil {
			return backoff.Permanent(err)
		}
		created := rec == nil
		if created {
			rec = ledger.NewRecord(userID, today)
		}

		dirty := created
		if snapshot := ledger.RollOver(rec, today); snapshot != nil {
			if err := b.archive(ctx, snapshot); err != nil {
				return backoff.Permanent(err)
			}
			dirty = true
		}
		if fn(rec) {
			dirty = true
		}
		if !dirty {
			return nil
		}

		payload, err := json.Marshal(recordEntity(rec))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to encode entity: %w", err))
		}

		if created {
			_, err = b.client.AddEntity(ctx, payload, nil)
			if hasStatus(err, http.StatusConflict) {
				return errWriteConflict
			}
		} else {
			_, err = b.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
				IfMatch:    &etag,
				UpdateMode: aztables.UpdateModeReplace,
			})
			if hasStatus(err, http.StatusPreconditionFailed) {
				return errWriteConflict
			}
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to write entity: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(attempt, b.retryPolicy(ctx)); err != nil {
		return err
	}
	return nil
}

// get returns the user's live record and its ETag, or a nil record when
// the user has none yet.
func (b *AzureTableBackend) get(ctx context.Context, userID string) (*model.LedgerRecord, azcore.ETag, error) {
	resp, err := b.client.GetEntity(ctx, totalPartition, userID, nil)
	if hasStatus(err, http.StatusNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get entity: %w", err)
	}

	var ent aztables.EDMEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", fmt.Errorf("failed to decode entity: %w", err)
	}
	return entityRecord(ent), resp.ETag, nil
}

// archive upserts a snapshot into the partition of its day. Replaying the
// same snapshot after a lost race writes identical content.
func (b *AzureTableBackend) archive(ctx context.Context, s *model.DailySnapshot) error {
	ent := aztables.EDMEntity{
		Entity:     aztables.Entity{PartitionKey: s.Day, RowKey: s.UserID},
		Properties: counterProperties(s.Positive, s.Negative),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = b.client.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return fmt.Errorf("failed to archive snapshot: %w", err)
	}
	return nil
}

func counterProperties(pos, neg model.Counters) map[string]any {
	return map[string]any{
		propPosUsedToday:     aztables.EDMInt64(pos.UsedToday),
		propPosUsedTotal:     aztables.EDMInt64(pos.UsedTotal),
		propPosReceivedToday: aztables.EDMInt64(pos.ReceivedToday),
		propPosReceivedTotal: aztables.EDMInt64(pos.ReceivedTotal),
		propNegUsedToday:     aztables.EDMInt64(neg.UsedToday),
		propNegUsedTotal:     aztables.EDMInt64(neg.UsedTotal),
		propNegReceivedToday: aztables.EDMInt64(neg.ReceivedToday),
		propNegReceivedTotal: aztables.EDMInt64(neg.ReceivedTotal),
	}
}

func recordEntity(rec *model.LedgerRecord) aztables.EDMEntity {
	props := counterProperties(rec.Positive, rec.Negative)
	props[propLastRolloverDay] = rec.LastRolloverDay
	props[propPMEnabled] = rec.PMEnabled
	return aztables.EDMEntity{
		Entity:     aztables.Entity{PartitionKey: totalPartition, RowKey: rec.UserID},
		Properties: props,
	}
}

func entityCounters(props map[string]any) (pos, neg model.Counters) {
	pos = model.Counters{
		UsedToday:     int64Prop(props, propPosUsedToday),
		UsedTotal:     int64Prop(props, propPosUsedTotal),
		ReceivedToday: int64Prop(props, propPosReceivedToday),
		ReceivedTotal: int64Prop(props, propPosReceivedTotal),
	}
	neg = model.Counters{
		UsedToday:     int64Prop(props, propNegUsedToday),
		UsedTotal:     int64Prop(props, propNegUsedTotal),
		ReceivedToday: int64Prop(props, propNegReceivedToday),
		ReceivedTotal: int64Prop(props, propNegReceivedTotal),
	}
	return pos, neg
}

func entityRecord(ent aztables.EDMEntity) *model.LedgerRecord {
	rec := &model.LedgerRecord{UserID: ent.RowKey, PMEnabled: true}
	rec.Positive, rec.Negative = entityCounters(ent.Properties)
	if day, ok := ent.Properties[propLastRolloverDay].(string); ok {
		rec.LastRolloverDay = day
	}
	if enabled, ok := ent.Properties[propPMEnabled].(bool); ok {
		rec.PMEnabled = enabled
	}
	return rec
}

// int64Prop reads a numeric property regardless of how the service typed it.
func int64Prop(props map[string]any, name string) int64 {
	switch v := props[name].(type) {
	case aztables.EDMInt64:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Load implements ledger.Backend.
func (b *AzureTableBackend) Load(ctx context.Context, userID, today string) (*model.LedgerRecord, error) {
	var out model.LedgerRecord
	err := b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		out = *rec
		return false
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TryDebit implements ledger.Backend.
func (b *AzureTableBackend) TryDebit(ctx context.Context, userID string, kind model.PointKind, amount, limit int64, today string) (bool, error) {
	var ok bool
	err := b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		ok = ledger.Debit(rec, kind, amount, limit)
		return ok
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Credit implements ledger.Backend.
func (b *AzureTableBackend) Credit(ctx context.Context, userID string, kind model.PointKind, amount int64, today string) error {
	return b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		ledger.Credit(rec, kind, amount)
		return true
	})
}

// SetPreference implements ledger.Backend.
func (b *AzureTableBackend) SetPreference(ctx context.Context, userID string, enabled bool, today string) error {
	return b.update(ctx, userID, today, func(rec *model.LedgerRecord) bool {
		rec.PMEnabled = enabled
		return true
	})
}

// Totals implements ledger.Backend. Users are listed in row key order.
func (b *AzureTableBackend) Totals(ctx context.Context, kind model.PointKind) ([]model.Score, error) {
	var property string
	switch kind {
	case model.Positive:
		property = propPosReceivedTotal
	case model.Negative:
		property = propNegReceivedTotal
	default:
		return nil, fmt.Errorf("unknown point kind %d", kind)
	}

	filter := fmt.Sprintf("PartitionKey eq '%s'", totalPartition)
	sel := "RowKey," + property
	pager := b.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})

	var scores []model.Score
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list entities: %w", err)
		}
		for _, raw := range page.Entities {
			var ent aztables.EDMEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("failed to decode entity: %w", err)
			}
			scores = append(scores, model.Score{UserID: ent.RowKey, Total: int64Prop(ent.Properties, property)})
		}
	}
	return scores, nil
}

// History implements ledger.Backend. Snapshots come back in day order since
// day partitions sort lexically.
func (b *AzureTableBackend) History(ctx context.Context, userID string) ([]model.DailySnapshot, error) {
	filter := fmt.Sprintf("RowKey eq '%s' and PartitionKey ne '%s'", escapeODataString(userID), totalPartition)
	pager := b.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	var snapshots []model.DailySnapshot
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, raw := range page.Entities {
			var ent aztables.EDMEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, fmt.Errorf("failed to decode snapshot: %w", err)
			}
			s := model.DailySnapshot{UserID: ent.RowKey, Day: ent.PartitionKey}
			s.Positive, s.Negative = entityCounters(ent.Properties)
			snapshots = append(snapshots, s)
		}
	}
	return snapshots, nil
}

// Close implements ledger.Backend. The table client holds no resources.
func (b *AzureTableBackend) Close() error {
	return nil
}

func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
