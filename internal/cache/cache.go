package cache

import (
	"context"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
)

type AlertCache interface {
	Get(ctx context.Context, key string) ([]domain.Notification, bool, error)
	Set(ctx context.Context, key string, alerts []domain.Notification, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopAlertCache struct{}

func (NoopAlertCache) Get(_ context.Context, _ string) ([]domain.Notification, bool, error) {
	return nil, false, nil
}

func (NoopAlertCache) Set(_ context.Context, _ string, _ []domain.Notification, _ time.Duration) error {
	return nil
}

func (NoopAlertCache) Delete(_ context.Context, _ string) error {
	return nil
}
