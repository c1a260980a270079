package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk/internal/api/http"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/worker"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled-ticket sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	worker.StartEventSubscribers(rt.dispatcher, rt.activity, rt.metrics)

	var sweeper *worker.SweepWorker
	if rt.cfg.Scheduler.Enabled {
		sweepCfg := worker.SweepWorkerConfig{
			Sweeper:  rt.scheduling,
			Metrics:  rt.metrics,
			Logger:   logger,
			Interval: rt.cfg.Scheduler.Interval(),
		}
		if lock := rt.sweepLock(); lock != nil {
			sweepCfg.Lock = lock
		}
		sweeper, err = worker.NewSweepWorker(sweepCfg)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	dependencies := map[string]handlers.Pinger{}
	if rt.postgres.Pool != nil {
		dependencies["postgres"] = rt.postgres
	}
	if rt.redis.Enabled() {
		dependencies["redis"] = rt.redis
	}

	tokens := auth.NewTokenManager(rt.cfg.Auth.JWTSecret, rt.cfg.Auth.TokenTTLMinutes)
	app := httptransport.NewApp(rt.cfg.App.Name, rt.cfg.App.BodyLimitBytes)
	httptransport.RegisterMiddlewares(app, logger, rt.metrics, rt.cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(rt.cfg.App.Name, rt.cfg.App.Version, dependencies),
		Tickets: handlers.NewTicketsHandler(handlers.TicketServices{
			Tickets:    rt.tickets,
			Approval:   rt.approval,
			Scheduling: rt.scheduling,
			Pause:      rt.pause,
		}),
		Messages:       handlers.NewMessagesHandler(rt.messages),
		Webhooks:       handlers.NewWebhooksHandler(rt.webhooks),
		WebhookReceive: handlers.NewWebhookReceiveHandler(rt.receiver),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        rt.metrics,
		BodyLimit:      rt.cfg.App.BodyLimitBytes,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", rt.cfg.App.Addr()))
		listenErr <- app.Listen(rt.cfg.App.Addr())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-listenErr:
		if err != nil {
			logger.Error("fiber listen", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	if sweeper != nil {
		if err := sweeper.Shutdown(); err != nil {
			logger.Warn("sweep worker shutdown", zap.Error(err))
		}
	}
	return app.ShutdownWithTimeout(10 * time.Second)
}
