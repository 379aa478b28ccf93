package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/smarttask-api/internal/models"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
	"github.com/noah-isme/smarttask-api/pkg/jobs"
)

const auditJobType = "audit"

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.AuditLog, error)
}

// AuditService writes audit entries off the request path when its worker
// pool is running and inline otherwise.
type AuditService struct {
	repo    auditRepository
	logger  *zap.Logger
	metrics *MetricsService
	queue   *jobs.Queue
	timeout time.Duration
}

// NewAuditService constructs an AuditService.
func NewAuditService(repo auditRepository, logger *zap.Logger, metrics *MetricsService) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger, metrics: metrics, timeout: 5 * time.Second}
}

// Start launches the background writer.
func (s *AuditService) Start(ctx context.Context, cfg jobs.QueueConfig) {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	s.queue.Start(ctx)
}

// Stop drains pending entries.
func (s *AuditService) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// Recent returns the newest audit entries recorded for an account.
func (s *AuditService) Recent(ctx context.Context, accountID string, limit int) ([]models.AuditLog, error) {
	logs, err := s.repo.ListByAccount(ctx, accountID, limit)
	if err != nil {
		s.logger.Error("failed to list audit entries", zap.String("account_id", accountID), zap.Error(err))
		return nil, appErrors.ErrInternal
	}
	return logs, nil
}

// Record stores an audit entry. Failures are logged and never surfaced.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	if s == nil || entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if s.queue != nil && s.queue.Running() {
		err := s.queue.TryEnqueue(jobs.Job{ID: entry.ID, Type: auditJobType, Payload: entry})
		if err == nil {
			return
		}
		s.logger.Warn("audit queue rejected entry, writing inline", zap.String("action", entry.Action), zap.Error(err))
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.repo.Create(writeCtx, entry); err != nil {
		s.metrics.RecordAuditDropped()
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.metrics.RecordAuditDropped()
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.Create(writeCtx, entry)
}

// auditEntry builds an entry carrying the caller metadata.
func auditEntry(action, resource string, accountID string, meta models.RequestMeta, detail map[string]interface{}) *models.AuditLog {
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
	}
	if accountID != "" {
		entry.UserID = &accountID
		entry.ResourceID = &accountID
	}
	if len(detail) > 0 {
		if raw, err := json.Marshal(detail); err == nil {
			entry.Detail = string(raw)
		}
	}
	return entry
}
