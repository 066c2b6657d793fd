package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-oracle/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const maxLastErrorLength = 1024

// WebhookStore persists inbox and outbox rows. It runs every statement on idb,
// which is either the root database or the transaction of the current batch.
type WebhookStore struct {
	idb  bun.IDB
	repo repository.Repository[*webhookRecord]
	now  func() time.Time
}

func NewWebhookStore(db *bun.DB) (*WebhookStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "webhook", func() *webhookRecord { return &webhookRecord{} })
	if err != nil {
		return nil, err
	}
	return &WebhookStore{idb: db, repo: repo, now: utcNow}, nil
}

func (s *WebhookStore) Create(ctx context.Context, in core.CreateWebhookInput) (core.Webhook, bool, error) {
	if s == nil || s.idb == nil {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	if !in.Direction.Valid() {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: webhook direction %q is invalid", in.Direction)
	}
	if !in.Role.Valid() {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: webhook role %q is invalid", in.Role)
	}
	if strings.TrimSpace(in.EscrowAddress) == "" {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: escrow address is required")
	}
	if strings.TrimSpace(in.EventType) == "" {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: event type is required")
	}
	dedupKey := optionalString(in.DedupKey)
	if in.Direction == core.DirectionOutbound {
		dedupKey = nil
	}

	now := s.now()
	record := &webhookRecord{
		ID:            uuid.NewString(),
		Direction:     string(in.Direction),
		Role:          string(in.Role),
		EscrowAddress: strings.TrimSpace(in.EscrowAddress),
		ChainID:       in.ChainID,
		EventType:     strings.TrimSpace(in.EventType),
		Payload:       copyAnyMap(in.Payload),
		DedupKey:      dedupKey,
		Status:        string(core.WebhookStatusPending),
		NotBefore:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if dedupKey == nil {
		created, err := s.repo.CreateTx(ctx, s.idb, record)
		if err != nil {
			return core.Webhook{}, false, err
		}
		return created.toDomain(), true, nil
	}

	result, err := s.idb.NewInsert().
		Model(record).
		On("CONFLICT (dedup_key) DO NOTHING").
		Exec(ctx)
	if err != nil && !isUniqueViolation(err) {
		return core.Webhook{}, false, err
	}
	if err == nil {
		if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected > 0 {
			return record.toDomain(), true, nil
		}
	}

	existing := &webhookRecord{}
	err = s.idb.NewSelect().
		Model(existing).
		Where("?TableAlias.dedup_key = ?", *dedupKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Webhook{}, false, notFound("webhook with dedup key", *dedupKey, err)
	}
	return existing.toDomain(), false, nil
}

// ClaimPending selects due pending rows oldest first. On postgres the rows
// stay locked with SKIP LOCKED until the surrounding transaction ends, so
// concurrent claimants never see the same row.
func (s *WebhookStore) ClaimPending(ctx context.Context, filter core.ClaimFilter) ([]core.Webhook, error) {
	if s == nil || s.idb == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	if !filter.Direction.Valid() {
		return nil, fmt.Errorf("sqlstore: claim direction %q is invalid", filter.Direction)
	}

	var records []webhookRecord
	query := s.idb.NewSelect().
		Model(&records).
		Where("?TableAlias.direction = ?", string(filter.Direction)).
		Where("?TableAlias.status = ?", string(core.WebhookStatusPending)).
		Where("?TableAlias.not_before <= ?", s.now()).
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.id ASC").
		Limit(limitOrDefault(filter.Limit, 1))
	if filter.Role != "" {
		query = query.Where("?TableAlias.role = ?", string(filter.Role))
	}
	if types := trimmedValues(filter.EventTypes); len(types) > 0 {
		query = query.Where("?TableAlias.event_type IN (?)", bun.In(types))
	}
	if types := trimmedValues(filter.ExcludeEventTypes); len(types) > 0 {
		query = query.Where("?TableAlias.event_type NOT IN (?)", bun.In(types))
	}
	query = lockForUpdate(s.idb, query, true)

	if err := query.Scan(ctx); err != nil && !isMissing(err) {
		return nil, err
	}
	out := make([]core.Webhook, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *WebhookStore) MarkSuccess(ctx context.Context, id string) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := core.WebhookStatus(current.Status).TransitionTo(core.WebhookStatusCompleted); err != nil {
		return err
	}
	_, err = s.idb.NewUpdate().
		Model((*webhookRecord)(nil)).
		Set("status = ?", string(core.WebhookStatusCompleted)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", "").
		Set("updated_at = ?", s.now()).
		Where("id = ?", current.ID).
		Exec(ctx)
	return err
}

// MarkFailure counts the attempt. The row fails for good once attempts
// reaches maxAttempts, otherwise it is rescheduled baseDelay from now.
func (s *WebhookStore) MarkFailure(
	ctx context.Context,
	id string,
	cause error,
	baseDelay time.Duration,
	maxAttempts int,
) (core.WebhookStatus, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	attempts := current.Attempts + 1
	next := core.WebhookStatusPending
	if maxAttempts <= 0 || attempts >= maxAttempts {
		next = core.WebhookStatusFailed
	}
	if err := core.WebhookStatus(current.Status).TransitionTo(next); err != nil {
		return "", err
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	now := s.now()
	lastError := ""
	if cause != nil {
		lastError = truncateError(cause.Error())
	}
	_, err = s.idb.NewUpdate().
		Model((*webhookRecord)(nil)).
		Set("status = ?", string(next)).
		Set("attempts = ?", attempts).
		Set("not_before = ?", now.Add(baseDelay)).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", now).
		Where("id = ?", current.ID).
		Exec(ctx)
	if err != nil {
		return "", err
	}
	return next, nil
}

func (s *WebhookStore) Get(ctx context.Context, id string) (core.Webhook, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return core.Webhook{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookStore) List(ctx context.Context, filter core.WebhookListFilter) ([]core.Webhook, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limitOrDefault(filter.Limit, 25), max(filter.Offset, 0)),
	}
	if filter.Direction != "" {
		selectors = append(selectors, repository.SelectBy("direction", "=", string(filter.Direction)))
	}
	if filter.Role != "" {
		selectors = append(selectors, repository.SelectBy("role", "=", string(filter.Role)))
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if escrow := strings.TrimSpace(filter.EscrowAddress); escrow != "" {
		selectors = append(selectors, repository.SelectBy("escrow_address", "=", escrow))
	}
	if filter.ChainID != 0 {
		selectors = append(selectors, repository.SelectBy("chain_id", "=", strconv.FormatInt(filter.ChainID, 10)))
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		selectors = append(selectors, repository.SelectBy("event_type", "=", eventType))
	}
	records, total, err := s.repo.ListTx(ctx, s.idb, selectors...)
	if err != nil {
		return nil, 0, err
	}
	out := make([]core.Webhook, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

func (s *WebhookStore) load(ctx context.Context, id string) (*webhookRecord, error) {
	if s == nil || s.idb == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("sqlstore: webhook id is required")
	}
	record := &webhookRecord{}
	err := s.idb.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound("webhook", id, err)
	}
	return record, nil
}

func truncateError(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxLastErrorLength {
		return message
	}
	return message[:maxLastErrorLength]
}

func trimmedValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func utcNow() time.Time {
	return time.Now().UTC()
}

var _ core.WebhookStore = (*WebhookStore)(nil)
