package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/meetup-schedule/internal/config"
	"github.com/iliyamo/meetup-schedule/internal/handler"
	"github.com/iliyamo/meetup-schedule/internal/queue"
	"github.com/iliyamo/meetup-schedule/internal/router"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, deadline timers and notification workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveRun(ctx, cfg)
		},
	}
}

func serveRun(ctx context.Context, cfg config.Config) error {
	logger := commonRun(cfg)
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	a.dispatcher.Start()
	defer a.dispatcher.Stop()
	defer a.scheduler.Stop()

	if _, err := a.scheduler.Start(ctx, a.svc); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("http request",
				"event", "http_request",
				"module", "cmd/server",
				"layer", "http",
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	}))

	deps := router.Deps{
		Schedules: handler.NewScheduleHandler(a.svc, logger),
		JWTSecret: cfg.JWTSecret,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     a.cacheCfg,
		Redis:     a.redis,
		Gatherer:  a.registry,
	}
	if a.db != nil {
		deps.DB = a.db
	}
	router.RegisterRoutes(e, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			"event", "http_listen",
			"module", "cmd/server",
			"layer", "bootstrap",
			"addr", ":"+cfg.Port,
			"storage", cfg.StorageDriver,
		)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})
	if cfg.RabbitURL != "" && cfg.RunConsumer {
		consumer := &queue.Consumer{
			URL:    cfg.RabbitURL,
			Queue:  cfg.NotificationQueue,
			Sink:   &queue.FileSink{Path: cfg.NotificationLog},
			Logger: logger,
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("shutting down",
		"event", "shutdown",
		"module", "cmd/server",
		"layer", "bootstrap",
	)
	return err
}
