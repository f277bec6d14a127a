package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Kosisookeke/course-management/internal/activitylogs"
	"github.com/Kosisookeke/course-management/internal/allocations"
	"github.com/Kosisookeke/course-management/internal/notifications"
	"github.com/Kosisookeke/course-management/internal/ops"
	"github.com/Kosisookeke/course-management/internal/scheduler"
	"github.com/Kosisookeke/course-management/internal/users"
	"github.com/Kosisookeke/course-management/pkg/config"
	"github.com/Kosisookeke/course-management/pkg/db"
	"github.com/Kosisookeke/course-management/pkg/logger"
	"github.com/Kosisookeke/course-management/pkg/metrics"
	"github.com/Kosisookeke/course-management/pkg/migrate"
	"github.com/Kosisookeke/course-management/pkg/redis"
)

const hygieneLockTTL = 30 * time.Minute

func main() {
	logg := logger.New(logger.Options{ServiceName: "notification-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "notification-worker"

	logg = logger.New(logger.Options{
		ServiceName: "notification-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	notifRepo := notifications.NewRepository(dbClient.DB())
	allocRepo := allocations.NewRepository(dbClient.DB())
	userRepo := users.NewRepository(dbClient.DB())
	logRepo := activitylogs.NewRepository(dbClient.DB())

	queueMetrics := metrics.NewQueueMetrics(prometheus.DefaultRegisterer)
	schedulerMetrics := metrics.NewSchedulerMetrics(prometheus.DefaultRegisterer)

	sender := notifications.NewBreakerSender(notifications.NewLogSender(logg), logg)

	queueSvc, err := notifications.NewQueueService(notifications.QueueServiceParams{
		Repo:        notifRepo,
		Allocations: allocRepo,
		Sender:      sender,
		Redis:       redisClient,
		Logger:      logg,
		Metrics:     queueMetrics,
		Config:      cfg.Queues,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification queue service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if err := queueSvc.Initialize(ctx); err != nil {
		logg.Error(ctx, "failed to initialize notification queues", err)
		os.Exit(1)
	}
	defer queueSvc.Cleanup(context.Background())

	scanService, err := buildScanService(cfg, logg, redisClient, schedulerMetrics, scanDeps{
		allocations:  allocRepo,
		activityLogs: logRepo,
		users:        userRepo,
		notifRepo:    notifRepo,
		queues:       queueSvc,
	})
	if err != nil {
		logg.Error(ctx, "failed to build compliance scan service", err)
		os.Exit(1)
	}

	hygieneService, err := buildHygieneService(cfg, logg, redisClient, schedulerMetrics, queueSvc)
	if err != nil {
		logg.Error(ctx, "failed to build queue hygiene service", err)
		os.Exit(1)
	}

	opsServer := &http.Server{
		Addr: ":" + cfg.Worker.OpsPort,
		Handler: ops.NewRouter(ops.RouterParams{
			Env:    cfg.App.Env,
			Logger: logg,
			DB:     dbClient,
			Redis:  redisClient,
			Queues: queueSvc,
		}),
	}

	logg.Info(ctx, "starting notification worker")

	errCh := make(chan error, 3)
	go func() {
		errCh <- scanService.Run(ctx)
	}()
	go func() {
		errCh <- hygieneService.Run(ctx)
	}()
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fatal := false
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "notification worker stopped unexpectedly", err)
			fatal = true
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "error shutting down ops server", err)
	}
	queueSvc.Cleanup(shutdownCtx)

	if fatal {
		os.Exit(1)
	}
	logg.Info(ctx, "notification worker shutting down gracefully")
}

type scanDeps struct {
	allocations  allocations.Repository
	activityLogs activitylogs.Repository
	users        users.Repository
	notifRepo    notifications.Repository
	queues       *notifications.QueueService
}

func buildScanService(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, m *metrics.SchedulerMetrics, deps scanDeps) (*scheduler.Service, error) {
	reminderJob, err := scheduler.NewWeeklyReminderJob(scheduler.WeeklyReminderJobParams{
		Logger:       logg,
		Allocations:  deps.allocations,
		ActivityLogs: deps.activityLogs,
		Queue:        deps.queues,
	})
	if err != nil {
		return nil, err
	}

	complianceJob, err := scheduler.NewComplianceScanJob(scheduler.ComplianceScanJobParams{
		Logger:       logg,
		Allocations:  deps.allocations,
		ActivityLogs: deps.activityLogs,
		Users:        deps.users,
		Queue:        deps.queues,
	})
	if err != nil {
		return nil, err
	}

	deadlineJob, err := scheduler.NewDeadlineWarningJob(scheduler.DeadlineWarningJobParams{
		Logger:       logg,
		Allocations:  deps.allocations,
		ActivityLogs: deps.activityLogs,
		Queue:        deps.queues,
	})
	if err != nil {
		return nil, err
	}

	retentionJob, err := scheduler.NewNotificationRetentionJob(scheduler.NotificationRetentionJobParams{
		Logger:     logg,
		Repository: deps.notifRepo,
		Retention:  cfg.Notifications.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	lock, err := scheduler.NewRedisLock(redisClient, redisClient.LockKey("compliance-scan:"+cfg.App.Env), cfg.Scheduler.LockTTL)
	if err != nil {
		return nil, err
	}

	return scheduler.NewService(scheduler.ServiceParams{
		Logger:   logg,
		Registry: scheduler.NewRegistry(reminderJob, complianceJob, deadlineJob, retentionJob),
		Lock:     lock,
		Metrics:  m,
		Interval: cfg.Scheduler.ScanInterval,
	})
}

func buildHygieneService(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, m *metrics.SchedulerMetrics, queueSvc *notifications.QueueService) (*scheduler.Service, error) {
	hygieneJob, err := scheduler.NewQueueHygieneJob(scheduler.QueueHygieneJobParams{
		Logger: logg,
		Queue:  queueSvc,
		MaxAge: cfg.Notifications.JobMaxAge,
	})
	if err != nil {
		return nil, err
	}

	lock, err := scheduler.NewRedisLock(redisClient, redisClient.LockKey("queue-hygiene:"+cfg.App.Env), hygieneLockTTL)
	if err != nil {
		return nil, err
	}

	return scheduler.NewService(scheduler.ServiceParams{
		Logger:   logg,
		Registry: scheduler.NewRegistry(hygieneJob),
		Lock:     lock,
		Metrics:  m,
		Interval: cfg.Scheduler.HygieneInterval,
	})
}
