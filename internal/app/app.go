// Package app wires the billing components from configuration. Both the API
// server and billingctl build on it so they see the same storage and locks.
package app

import (
	"context"
	"fmt"

	"donation-platform/internal/client"
	"donation-platform/internal/config"
	"donation-platform/internal/lock"
	"donation-platform/internal/repository"
	"donation-platform/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Checkout service.CheckoutService
	Sync     service.SyncService
	Access   service.AccessGate
	Webhooks service.WebhookService
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	db, err := client.InitDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db}

	var locker lock.KeyedLocker
	switch cfg.Lock.Backend {
	case "redis":
		rdb, err := client.InitRedisClient(ctx, &cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		locker = lock.NewRedisLocker(rdb, cfg.Lock.TTL)
	default:
		// only safe with a single process
		locker = lock.NewMemoryLocker()
	}

	processor := client.NewStripeClient(&cfg.Stripe, log)

	subRepo := repository.NewSubscriptionRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	inbox := repository.NewWebhookEventRepository(db)

	a.Sync = service.NewSyncService(db, processor, locker, subRepo, accountRepo, log)
	a.Checkout = service.NewCheckoutService(processor, &cfg.Stripe, log)
	a.Access = service.NewAccessGate(accountRepo, cfg.Access.PollInterval, log)
	a.Webhooks = service.NewWebhookService(
		service.NewEventVerifier(&cfg.Stripe),
		service.NewEventRouter(a.Sync, log),
		inbox,
		&cfg.Inbox,
		log,
	)

	log.Info().
		Str("db_driver", cfg.Database.Driver).
		Str("lock_backend", cfg.Lock.Backend).
		Msg("billing components ready")
	return a, nil
}

// Close waits for in-flight webhook processing, then releases connections.
func (a *App) Close() error {
	if a.Webhooks != nil {
		a.Webhooks.Wait()
	}

	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close db: %w", err)
		}
	}
	return firstErr
}
