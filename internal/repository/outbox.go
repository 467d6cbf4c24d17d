package repository

import (
	"context"
	"fmt"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/google/uuid"
)

type outboxRepo struct{}

// NewOutboxRepository returns a pgx-backed OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return &outboxRepo{}
}

// Insert writes an outbox event using the event_outbox table's camelCase
// column names.
func (r *outboxRepo) Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error {
	_, err := db.Exec(ctx, `
		INSERT INTO event_outbox
		  ("eventId", "aggregateType", "aggregateId", "eventType", "partitionKey", "headers", "payload", "occurredAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		draft.EventID,
		string(draft.AggregateType),
		draft.AggregateID,
		string(draft.EventType),
		draft.PartitionKey,
		draft.Headers,
		draft.Payload,
		draft.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// FetchUnpublished returns rows not yet marked published, oldest first — the
// same selection OutboxPoller itself uses when it queries the pool directly.
func (r *outboxRepo) FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error) {
	rows, err := db.Query(ctx, `
		SELECT "eventId", "aggregateType", "aggregateId", "eventType",
		       "partitionKey", "headers", "payload", "occurredAt"
		FROM event_outbox
		WHERE "publishedAt" IS NULL
		ORDER BY "occurredAt" ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxDraft
	for rows.Next() {
		var d domain.OutboxDraft
		err := rows.Scan(&d.EventID, &d.AggregateType, &d.AggregateID,
			&d.EventType, &d.PartitionKey, &d.Headers, &d.Payload, &d.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, d)
	}
	return events, rows.Err()
}

// MarkPublished stamps publishedAt for the given event IDs. Rows are kept
// (not deleted) so the outbox doubles as an at-least-once audit log.
func (r *outboxRepo) MarkPublished(ctx context.Context, db DBTX, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Exec(ctx, `UPDATE event_outbox SET "publishedAt" = now() WHERE "eventId" = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}
