package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/cache"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/config"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/httpapi"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/service"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store/memory"
	pgstore "github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if len(cfg.AuthSecret) < 32 {
		log.Fatalf("AUTH_SECRET must be set and at least 32 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory (offline mode, data is not persisted)")
	}

	alertCache := cache.AlertCache(cache.NoopAlertCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisAlertCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			alertCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	notify := func(_ context.Context, notice domain.Notice) {
		log.Printf("[notice] %s: %s (%s)", notice.Title, notice.Message, notice.Type)
	}

	settings := domain.AlertSettings{
		LowStockThresholdPct:      cfg.LowStockThresholdPct,
		CriticalStockThresholdPct: cfg.CriticalStockPct,
		EnableStockAlerts:         !cfg.DisableStockAlerts,
		EnableDebtAlerts:          !cfg.DisableDebtAlerts,
	}

	svc := service.New(repo, alertCache, notify, settings, cfg.SaleCodePrefix, time.Duration(cfg.AlertTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("workshop backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}
