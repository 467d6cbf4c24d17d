package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxPoller polls the event_outbox table and publishes events to Kafka.
// Each row's eventType IS the bus topic name (e.g.
// "payment.order.initiated.v1"), per the topic list in §6.
type OutboxPoller struct {
	pool      *pgxpool.Pool
	producer  *KafkaProducer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(pool *pgxpool.Pool, producer *KafkaProducer, logger *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		pool:      pool,
		producer:  producer,
		logger:    logger,
		interval:  500 * time.Millisecond,
		batchSize: 100,
	}
}

// Start begins polling in a goroutine. Stops when ctx is cancelled.
func (p *OutboxPoller) Start(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("outbox poller stopped")
				return
			case <-ticker.C:
				if err := p.poll(ctx); err != nil {
					p.logger.Error("outbox poll error", "error", err)
				}
			}
		}
	}()
}

type outboxRow struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	Payload       json.RawMessage
	OccurredAt    time.Time
}

func (p *OutboxPoller) poll(ctx context.Context) error {
	rows, err := p.pool.Query(ctx, `
		SELECT "eventId", "aggregateType", "aggregateId", "eventType", "partitionKey", "payload", "occurredAt"
		FROM event_outbox
		WHERE "publishedAt" IS NULL
		ORDER BY "occurredAt" ASC
		LIMIT $1`, p.batchSize)
	if err != nil {
		return err
	}
	defer rows.Close()

	var events []outboxRow
	for rows.Next() {
		var e outboxRow
		if err := rows.Scan(&e.EventID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.PartitionKey, &e.Payload, &e.OccurredAt); err != nil {
			return err
		}
		events = append(events, e)
	}

	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		envelope := domain.NewEnvelope(domain.OutboxDraft{
			EventID:    e.EventID,
			EventType:  domain.EventType(e.EventType),
			Payload:    e.Payload,
			OccurredAt: e.OccurredAt,
		})
		msg, err := json.Marshal(envelope)
		if err != nil {
			p.logger.Error("envelope marshal failed", "event_id", e.EventID, "error", err)
			continue
		}

		if err := p.producer.Publish(ctx, e.EventType, []byte(e.PartitionKey), msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "error", err)
			continue
		}

		if _, err := p.pool.Exec(ctx,
			`UPDATE event_outbox SET "publishedAt" = now() WHERE "eventId" = $1`, e.EventID); err != nil {
			p.logger.Error("mark published failed", "event_id", e.EventID, "error", err)
		}
	}

	p.logger.Debug("outbox poll complete", "published", len(events))
	return nil
}
