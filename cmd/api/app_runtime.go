package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/storage"
)

// appRuntime holds the wired services shared by every command.
type appRuntime struct {
	cfg        *config.Config
	logger     *zap.Logger
	postgres   *persistence.Postgres
	redis      *persistence.Redis
	store      repository.Store
	dispatcher events.Dispatcher
	metrics    *observability.Metrics

	tickets    *service.TicketService
	approval   *service.ApprovalService
	scheduling *service.SchedulingService
	pause      *service.PauseService
	messages   *service.MessageService
	webhooks   *service.WebhookService
	receiver   *service.WebhookReceiver
	activity   *service.NotificationService
}

func loadBase() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	if err := domain.SetBusinessTimezone(cfg.Business.Timezone); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newRuntime connects storage and builds every service. Without a
// POSTGRES_DSN the service runs on the in-memory store.
func newRuntime(ctx context.Context) (*appRuntime, error) {
	cfg, logger, err := loadBase()
	if err != nil {
		return nil, err
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	var store repository.Store
	if pg.Pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				pg.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		store = repository.NewPostgresStore(pg.PoolHandle())
	} else {
		logger.Warn("using in-memory store; data is lost on restart")
		store = memory.NewStore()
	}

	files, err := storage.NewLocalStore(cfg.Storage.AttachmentDir)
	if err != nil {
		pg.Close()
		return nil, err
	}

	rt := &appRuntime{
		cfg:        cfg,
		logger:     logger,
		postgres:   pg,
		redis:      persistence.NewRedis(ctx, cfg.Redis, logger),
		store:      store,
		dispatcher: events.NewInMemoryDispatcher(logger),
		metrics:    observability.NewMetrics(),
	}

	clk := clock.Real()
	rt.approval = service.NewApprovalService(service.ApprovalDependencies{
		Store: store, Dispatcher: rt.dispatcher, Clock: clk, Logger: logger,
	})
	rt.tickets = service.NewTicketService(service.TicketDependencies{
		Store: store, Approval: rt.approval, Dispatcher: rt.dispatcher, Clock: clk, Logger: logger,
	})
	rt.scheduling = service.NewSchedulingService(service.SchedulingDependencies{
		Store:      store,
		Dispatcher: rt.dispatcher,
		Clock:      clk,
		Logger:     logger,
		BatchSize:  cfg.Scheduler.BatchSize,
		AutoStart:  cfg.Scheduler.AutoStart,
	})
	rt.pause = service.NewPauseService(service.PauseDependencies{
		Store: store, Dispatcher: rt.dispatcher, Clock: clk, Logger: logger,
	})
	rt.messages = service.NewMessageService(service.MessageDependencies{
		Store: store, Files: files, Dispatcher: rt.dispatcher, Clock: clk, Logger: logger,
	})
	rt.webhooks = service.NewWebhookService(service.WebhookDependencies{
		Store: store, Clock: clk, Logger: logger, SecretCost: cfg.Webhook.SecretHashCost,
	})
	rt.receiver = service.NewWebhookReceiver(service.WebhookReceiverDependencies{
		Store:        store,
		Tickets:      rt.tickets,
		Registry:     rt.webhooks,
		Deliveries:   service.NewDeliveryLogger(clk, logger, cfg.Webhook.MaxLogPayloadBytes),
		Dispatcher:   rt.dispatcher,
		Clock:        clk,
		Logger:       logger,
		SecretHeader: cfg.Webhook.SecretHeader,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
	})
	rt.activity = service.NewNotificationService(rt.dispatcher, logger)
	return rt, nil
}

// sweepLock returns the Redis leader lock, or nil when Redis is disabled.
func (rt *appRuntime) sweepLock() *persistence.LeaderLock {
	return rt.redis.LeaderLock(rt.cfg.Scheduler.LockKey, rt.cfg.Scheduler.LockTTL())
}

func (rt *appRuntime) Close() {
	rt.redis.Close()
	rt.postgres.Close()
	_ = rt.logger.Sync()
}
