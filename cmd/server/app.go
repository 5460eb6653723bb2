package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/meetup-schedule/internal/config"
	"github.com/iliyamo/meetup-schedule/internal/database"
	"github.com/iliyamo/meetup-schedule/internal/deadline"
	"github.com/iliyamo/meetup-schedule/internal/handler"
	"github.com/iliyamo/meetup-schedule/internal/lock"
	"github.com/iliyamo/meetup-schedule/internal/middleware"
	"github.com/iliyamo/meetup-schedule/internal/model"
	"github.com/iliyamo/meetup-schedule/internal/notify"
	"github.com/iliyamo/meetup-schedule/internal/repository"
	"github.com/iliyamo/meetup-schedule/internal/schedule"
	"github.com/iliyamo/meetup-schedule/internal/service"
)

// app holds the wired components shared by serve and reconcile.
type app struct {
	cfg      config.Config
	cacheCfg config.CacheConfig
	logger   *slog.Logger
	registry *prometheus.Registry

	db        *sql.DB
	redis     *redis.Client
	publisher *service.NotificationPublisher

	schedules    repository.ScheduleStore
	participants repository.ParticipantStore

	scheduler  *deadline.Scheduler
	dispatcher *notify.Dispatcher
	svc        *schedule.Service
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, cacheCfg: config.LoadCacheConfig(), logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		logger.Warn("redis unavailable, running without it",
			"event", "redis_unavailable",
			"module", "cmd/server",
			"layer", "bootstrap",
			"error", err.Error(),
		)
	} else {
		a.redis = rdb
	}

	var gateway notify.Gateway = notify.LogGateway{Logger: logger}
	if cfg.RabbitURL != "" {
		a.publisher = service.NewNotificationPublisher(cfg.RabbitURL, cfg.NotificationQueue, logger)
		gateway = a.publisher
	}

	a.scheduler = deadline.New(deadline.Options{
		Store:       a.schedules,
		FireTimeout: cfg.DeadlineFireTimeout,
		Logger:      logger,
		Registerer:  a.registry,
	})
	a.dispatcher = notify.NewDispatcher(notify.Options{
		Participants: a.participants,
		Gateway:      gateway,
		Workers:      cfg.NotifyWorkers,
		QueueSize:    cfg.NotifyQueueSize,
		SendTimeout:  cfg.NotifySendTimeout,
		Logger:       logger,
		Registerer:   a.registry,
	})

	var locker lock.Locker = lock.NewKeyed()
	if cfg.DistributedLock && a.redis != nil {
		locker = lock.NewRedis(a.redis, "schedule-lock", cfg.LockTTL, 0)
	}
	a.svc = schedule.NewService(schedule.Dependencies{
		Schedules:    a.schedules,
		Participants: a.participants,
		Locker:       locker,
		Timers:       a.scheduler,
		Notifier:     a.dispatcher,
		Invalidator:  handler.NewScheduleCache(middleware.NewCacheInvalidator(a.cacheCfg, a.redis)),
		Logger:       logger,
		Registerer:   a.registry,
	})
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	if a.cfg.StorageDriver == "memory" {
		mem := repository.NewMemoryStore()
		if a.cfg.MemorySeedFile != "" {
			if err := seedParticipants(mem, a.cfg.MemorySeedFile); err != nil {
				return err
			}
		}
		a.schedules, a.participants = mem, mem
		return nil
	}

	db, err := database.Open(ctx, database.Options{
		User: a.cfg.DBUser,
		Pass: a.cfg.DBPass,
		Host: a.cfg.DBHost,
		Port: a.cfg.DBPort,
		Name: a.cfg.DBName,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if a.cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}
	a.schedules = repository.NewScheduleRepo(db)
	a.participants = repository.NewParticipantRepo(db)
	return nil
}

// seedParticipants loads a JSON array of participants into the memory
// store so the in-memory mode is usable without the membership service.
func seedParticipants(mem *repository.MemoryStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open participant seed: %w", err)
	}
	defer f.Close()
	var rows []struct {
		MeetupID string `json:"meetup_id"`
		UserID   string `json:"user_id"`
		Role     string `json:"role"`
		Status   string `json:"status"`
		Contact  string `json:"contact"`
	}
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return fmt.Errorf("decode participant seed: %w", err)
	}
	for _, r := range rows {
		p := model.Participant{
			MeetupID: r.MeetupID,
			UserID:   r.UserID,
			Role:     model.Role(r.Role),
			Status:   model.ApprovalStatus(r.Status),
			Contact:  r.Contact,
		}
		if !p.Role.Valid() {
			return fmt.Errorf("participant %s/%s: unknown role %q", r.MeetupID, r.UserID, r.Role)
		}
		mem.PutParticipant(p)
	}
	return nil
}

// close releases external connections.  Workers must be stopped first.
func (a *app) close() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
