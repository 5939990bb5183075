package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/pkg/messaging"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

// AuditCollector persists audit entries published by API instances.
// Inserts are idempotent on entry id, so redelivery is harmless.
type AuditCollector struct {
	broker  messaging.Broker
	repo    repository.AuditRepository
	channel string
	metrics *metrics.Metrics
}

func NewAuditCollector(broker messaging.Broker, repo repository.AuditRepository, channel string, m *metrics.Metrics) *AuditCollector {
	return &AuditCollector{
		broker:  broker,
		repo:    repo,
		channel: channel,
		metrics: m,
	}
}

// Start consumes the channel until ctx ends or the subscription closes
func (c *AuditCollector) Start(ctx context.Context) error {
	msgs, err := c.broker.Subscribe(ctx, c.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to audit channel: %w", err)
	}

	log.Info().Str("channel", c.channel).Msg("Audit collector started")
	for msg := range msgs {
		if err := c.Handle(ctx, msg); err != nil {
			log.Error().Err(err).Str("channel", c.channel).Msg("Failed to persist audit entry")
			if c.metrics != nil {
				c.metrics.AuditSinkErrors.WithLabelValues("collector").Inc()
			}
		}
	}
	return ctx.Err()
}

// Handle decodes and stores one message. Messages of other types are ignored.
func (c *AuditCollector) Handle(ctx context.Context, msg messaging.Message) error {
	if msg.Type != audit.MessageType {
		return nil
	}

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to re-encode payload: %w", err)
	}
	var entry model.AuditLog
	if err := json.Unmarshal(raw, &entry); err != nil {
		return fmt.Errorf("failed to decode audit entry: %w", err)
	}
	if entry.ID == "" {
		return fmt.Errorf("audit entry without id")
	}

	if err := c.repo.Create(ctx, &entry); err != nil {
		return fmt.Errorf("failed to store audit entry %s: %w", entry.ID, err)
	}
	return nil
}
