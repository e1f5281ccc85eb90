package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/cache"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/xid"
)

// ErrForbidden marks role failures so the HTTP layer can map them to 403
// instead of a generic bad request.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// NotifyFunc receives outcome toasts (success, warning, error). It is a
// collaborator injected at construction; a nil func drops notices.
type NotifyFunc func(ctx context.Context, notice domain.Notice)

type Service struct {
	repo       store.Repository
	alerts     cache.AlertCache
	notify     NotifyFunc
	settings   domain.AlertSettings
	salePrefix string
	alertTTL   time.Duration
}

func New(repo store.Repository, alerts cache.AlertCache, notify NotifyFunc, settings domain.AlertSettings, salePrefix string, alertTTL time.Duration) *Service {
	if alerts == nil {
		alerts = cache.NoopAlertCache{}
	}
	if salePrefix == "" {
		salePrefix = "PS"
	}
	if alertTTL <= 0 {
		alertTTL = 30 * time.Second
	}
	if settings.LowStockThresholdPct <= 0 {
		settings.LowStockThresholdPct = 20
	}
	if settings.CriticalStockThresholdPct <= 0 {
		settings.CriticalStockThresholdPct = 10
	}

	return &Service{
		repo:       repo,
		alerts:     alerts,
		notify:     notify,
		settings:   settings,
		salePrefix: salePrefix,
		alertTTL:   alertTTL,
	}
}

func (s *Service) emit(ctx context.Context, title string, message string, noticeType string) {
	if s.notify == nil {
		return
	}
	s.notify(ctx, domain.Notice{Title: title, Message: message, Type: noticeType})
}

// logAudit is best-effort: a failed audit write never fails the operation.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		entry.ActorUsername = actor.Username
		entry.ActorRole = actor.Role
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func (s *Service) invalidateAlerts(ctx context.Context) {
	if err := s.alerts.Delete(ctx, alertSnapshotKey); err != nil {
		log.Printf("[service] WARN: failed to invalidate alert cache: %v", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, ErrForbidden
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}
