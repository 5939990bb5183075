package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/internal/service/audit"
)

// AuditCleanupWorker enforces the audit retention horizon on the in-memory
// buffer and, when configured, on the durable table
type AuditCleanupWorker struct {
	logger          *audit.Logger
	repo            repository.AuditRepository
	retentionDays   int
	cleanupInterval time.Duration
	now             func() time.Time
}

// NewAuditCleanupWorker builds the worker. logger and repo may each be nil
// but not both.
func NewAuditCleanupWorker(logger *audit.Logger, repo repository.AuditRepository, retentionDays int, cleanupInterval time.Duration) *AuditCleanupWorker {
	if cleanupInterval <= 0 {
		cleanupInterval = 24 * time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = audit.DefaultRetentionDays
	}
	return &AuditCleanupWorker{
		logger:          logger,
		repo:            repo,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
}

// Start runs a cleanup immediately and then every interval until ctx ends
func (w *AuditCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Error cleaning up audit logs")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one retention pass
func (w *AuditCleanupWorker) RunOnce(ctx context.Context) error {
	if w.logger != nil {
		if removed := w.logger.ClearOldLogs(w.retentionDays); removed > 0 {
			log.Info().Int("removed", removed).Int("retention_days", w.retentionDays).Msg("Purged buffered audit entries")
		}
	}

	if w.repo == nil {
		return nil
	}

	cutoff := w.now().AddDate(0, 0, -w.retentionDays)
	rows, err := w.repo.Cleanup(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	log.Info().Int64("rows", rows).Time("cutoff", cutoff).Msg("Cleaned up stored audit logs")
	return nil
}
