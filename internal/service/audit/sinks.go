package audit

import (
	"context"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/pkg/messaging"
)

// MessageType tags audit entries published to a collector channel
const MessageType = "audit.entry"

// RepositorySink persists entries to the durable audit table
func RepositorySink(repo repository.AuditRepository) Sink {
	return SinkFunc(func(ctx context.Context, entry *model.AuditLog) error {
		return repo.Create(ctx, entry)
	})
}

// PublisherSink forwards entries to an external collector channel
func PublisherSink(broker messaging.Broker, channel, source string) Sink {
	return SinkFunc(func(ctx context.Context, entry *model.AuditLog) error {
		return broker.Publish(ctx, channel, messaging.Message{
			Type:      MessageType,
			Source:    source,
			Timestamp: entry.Timestamp,
			Payload:   entry,
		})
	})
}
