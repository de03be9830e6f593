package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

type resetToken struct {
	accountID uuid.UUID
	expiresAt time.Time
	usedAt    *time.Time
}

type ResetRepository struct {
	mu     sync.Mutex
	tokens map[string]resetToken
}

func NewResetRepository() *ResetRepository {
	return &ResetRepository{tokens: make(map[string]resetToken)}
}

func (r *ResetRepository) CreatePasswordResetToken(_ context.Context, accountID uuid.UUID, tokenHash string, _, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[tokenHash]; exists {
		return fmt.Errorf("%w: reset token collision", domain.ErrDuplicateIdentity)
	}
	r.tokens[tokenHash] = resetToken{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (r *ResetRepository) ConsumePasswordResetToken(_ context.Context, tokenHash string, usedAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenHash]
	if !ok || token.usedAt != nil || !usedAt.Before(token.expiresAt) {
		return uuid.Nil, domain.ErrNotFound
	}
	token.usedAt = &usedAt
	r.tokens[tokenHash] = token
	return token.accountID, nil
}

// OutboxRepository keeps events in memory with the same claim/lease rules as
// the Postgres outbox.
type OutboxRepository struct {
	mu      sync.Mutex
	nowFn   func() time.Time
	records map[uuid.UUID]*ports.OutboxRecord
}

func NewOutboxRepository(now func() time.Time) *OutboxRepository {
	if now == nil {
		now = time.Now
	}
	return &OutboxRepository{nowFn: now, records: make(map[uuid.UUID]*ports.OutboxRecord)}
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if _, exists := r.records[event.EventID]; exists {
		return fmt.Errorf("%w: outbox event already enqueued", domain.ErrDuplicateIdentity)
	}
	r.records[event.EventID] = &ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		CreatedAt:    event.OccurredAt,
	}
	return nil
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	pending := make([]*ports.OutboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && !rec.ClaimUntil.Before(now) {
			continue
		}
		pending = append(pending, rec)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]ports.OutboxRecord, 0, len(pending))
	for _, rec := range pending {
		token, until := claimToken, claimUntil
		rec.ClaimToken, rec.ClaimUntil = &token, &until
		out = append(out, *rec)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.release(outboxID, claimToken, func(rec *ports.OutboxRecord) { rec.PublishedAt = &at })
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, _ time.Time) error {
	return r.release(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.release(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.DeadLetteredAt = &at
	})
}

func (r *OutboxRepository) release(outboxID uuid.UUID, claimToken string, apply func(*ports.OutboxRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[outboxID]
	if !ok || rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
		// The lease expired and another worker owns the row now.
		return nil
	}
	apply(rec)
	rec.ClaimToken, rec.ClaimUntil = nil, nil
	return nil
}

// Events returns every enqueued record in creation order.
func (r *OutboxRepository) Events() []ports.OutboxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
