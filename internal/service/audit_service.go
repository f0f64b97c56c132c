package service

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/tillpoint/pos-gateway/internal/domain"
	"github.com/tillpoint/pos-gateway/internal/events"
	"github.com/tillpoint/pos-gateway/internal/observability"
	"github.com/tillpoint/pos-gateway/internal/repository"
	apperrors "github.com/tillpoint/pos-gateway/pkg/util"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditService records every session event. Events are always logged; they are persisted
// only when a repository is configured.
type AuditService struct {
	dispatcher events.Dispatcher
	repo       repository.SessionAuditRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewAuditService creates the service. repo may be nil.
func NewAuditService(dispatcher events.Dispatcher, repo repository.SessionAuditRepository, logger *zap.Logger, metrics *observability.Metrics) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		repo:       repo,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to every session event type.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllTypes {
		a.dispatcher.Subscribe(eventType, a.handle)
	}
}

func (a *AuditService) handle(ctx context.Context, event events.Event) error {
	a.metrics.RecordSessionEvent(string(event.Type))

	level := zap.InfoLevel
	if event.Type == events.EventRefreshFailed || event.Type == events.EventAccessDenied {
		level = zap.WarnLevel
	}
	a.logger.Log(level, string(event.Type),
		zap.String("event_id", event.ID),
		zap.String("subject", event.Subject),
		zap.String("role", string(event.Role)),
		zap.Any("payload", event.Payload))

	if a.repo == nil {
		return nil
	}
	err := a.repo.Insert(context.WithoutCancel(ctx), domain.AuditEntry{
		ID:         event.ID,
		EventType:  string(event.Type),
		Subject:    event.Subject,
		Role:       event.Role,
		Detail:     event.Payload,
		OccurredAt: event.Timestamp,
	})
	if err != nil {
		a.logger.Error("persist session audit", zap.String("event_id", event.ID), zap.Error(err))
	}
	return nil
}

// Enabled reports whether events are persisted.
func (a *AuditService) Enabled() bool {
	return a.repo != nil
}

// Recent lists the most recent persisted events, newest first.
func (a *AuditService) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if a.repo == nil {
		return nil, apperrors.NewDomainError("AUDIT_DISABLED", "session audit is not persisted", http.StatusServiceUnavailable, nil)
	}
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	return a.repo.ListRecent(ctx, limit)
}
