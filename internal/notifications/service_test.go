package notifications

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Kosisookeke/course-management/pkg/config"
	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/enums"
	pkgerrors "github.com/Kosisookeke/course-management/pkg/errors"
	"github.com/Kosisookeke/course-management/pkg/logger"
	"github.com/Kosisookeke/course-management/pkg/metrics"
	"github.com/Kosisookeke/course-management/pkg/redis"
)

type dbAllocations struct {
	db *gorm.DB
}

func (a *dbAllocations) GetWithCourseInfo(ctx context.Context, id uuid.UUID) (*models.CourseOffering, error) {
	var offering models.CourseOffering
	err := a.db.WithContext(ctx).
		Preload("Module").
		Preload("Class").
		First(&offering, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &offering, nil
}

// scriptedSender fails the first failures calls, then succeeds.
type scriptedSender struct {
	failures int32
	calls    atomic.Int32
}

func (s *scriptedSender) Send(ctx context.Context, notification *models.Notification) error {
	if s.calls.Add(1) <= s.failures {
		return errors.New("provider unavailable")
	}
	return nil
}

type serviceHarness struct {
	svc    *QueueService
	repo   Repository
	db     *gorm.DB
	sender *scriptedSender
}

func setupQueueService(t *testing.T, senderFailures int32) *serviceHarness {
	t.Helper()

	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })

	logg := logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
	sender := &scriptedSender{failures: senderFailures}

	svc, err := NewQueueService(QueueServiceParams{
		Repo:        repo,
		Allocations: &dbAllocations{db: db},
		Sender:      sender,
		Redis:       redis.NewFromClient(raw),
		Logger:      logg,
		Metrics:     metrics.NewQueueMetrics(nil),
		Config:      config.QueuesConfig{PollInterval: 5 * time.Millisecond, Concurrency: 1},
	})
	require.NoError(t, err)

	return &serviceHarness{svc: svc, repo: repo, db: db, sender: sender}
}

func waitForStatus(t *testing.T, repo Repository, id uuid.UUID, want enums.NotificationStatus) *models.Notification {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if n.Status == want {
			return n
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notification %s never reached status %s", id, want)
	return nil
}

func TestQueueServiceRequiresInitialize(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()

	_, _, err := h.svc.QueueFacilitatorReminder(ctx, uuid.New(), uuid.New(), 1, 0)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotInitialized))

	_, err = h.svc.QueueStats(ctx)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotInitialized))
}

func TestInitializeIsIdempotent(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)

	require.NoError(t, h.svc.Initialize(ctx))
	require.NoError(t, h.svc.Initialize(ctx))

	stats, err := h.svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Len(t, stats, 3)
	assert.Contains(t, stats, QueueFacilitatorReminders)
	assert.Contains(t, stats, QueueManagerAlerts)
	assert.Contains(t, stats, QueueDeadlineWarnings)
}

func TestReminderDeliveredEndToEnd(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)
	require.NoError(t, h.svc.Initialize(ctx))

	facilitator := seedRecipient(t, h.db, enums.RoleFacilitator)
	offering := seedOffering(t, h.db, &facilitator.ID)

	notification, job, err := h.svc.QueueFacilitatorReminder(ctx, facilitator.ID, offering.ID, 4, 0)
	require.NoError(t, err)
	assert.Contains(t, job.ID, "reminder-")

	sent := waitForStatus(t, h.repo, notification.ID, enums.NotificationStatusSent)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, int32(1), h.sender.calls.Load())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := h.svc.QueueStats(ctx)
		require.NoError(t, err)
		if stats[QueueFacilitatorReminders].Completed == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reminder job never completed")
}

func TestDuplicateEnqueueIsNotDeduplicated(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)
	require.NoError(t, h.svc.Initialize(ctx))

	facilitator := seedRecipient(t, h.db, enums.RoleFacilitator)
	offering := seedOffering(t, h.db, &facilitator.ID)

	first, firstJob, err := h.svc.QueueFacilitatorReminder(ctx, facilitator.ID, offering.ID, 4, 0)
	require.NoError(t, err)
	second, secondJob, err := h.svc.QueueFacilitatorReminder(ctx, facilitator.ID, offering.ID, 4, 0)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, firstJob.ID, secondJob.ID)

	var count int64
	require.NoError(t, h.db.Model(&models.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	waitForStatus(t, h.repo, first.ID, enums.NotificationStatusSent)
	waitForStatus(t, h.repo, second.ID, enums.NotificationStatusSent)
	assert.Equal(t, int32(2), h.sender.calls.Load())
}

func TestReminderUnknownAllocationAborts(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)
	require.NoError(t, h.svc.Initialize(ctx))

	_, _, err := h.svc.QueueFacilitatorReminder(ctx, uuid.New(), uuid.New(), 4, 0)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	var count int64
	require.NoError(t, h.db.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFailingSenderExhaustsRetriesAndMarksFailed(t *testing.T) {
	h := setupQueueService(t, 100)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)
	require.NoError(t, h.svc.Initialize(ctx))

	manager := seedRecipient(t, h.db, enums.RoleManager)
	facilitator := seedRecipient(t, h.db, enums.RoleFacilitator)
	offering := seedOffering(t, h.db, &facilitator.ID)
	week := 6

	notification, job, err := h.svc.QueueManagerAlert(ctx, manager.ID, FacilitatorInfo{
		ID:    facilitator.ID,
		Email: facilitator.Email,
	}, &offering.ID, &week, enums.AlertTypeMissingSubmission, nil, 0)
	require.NoError(t, err)
	assert.Contains(t, job.ID, "alert-")

	failed := waitForStatus(t, h.repo, notification.ID, enums.NotificationStatusFailed)
	assert.Nil(t, failed.SentAt)

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := h.svc.QueueStats(ctx)
		require.NoError(t, err)
		if stats[QueueManagerAlerts].Failed == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("alert job never became terminally failed")
}

func TestRetryAfterTransientSendFailure(t *testing.T) {
	h := setupQueueService(t, 1)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)
	require.NoError(t, h.svc.Initialize(ctx))

	facilitator := seedRecipient(t, h.db, enums.RoleFacilitator)
	offering := seedOffering(t, h.db, &facilitator.ID)

	notification, _, err := h.svc.QueueDeadlineWarning(ctx, facilitator.ID, offering.ID, 8, CourseInfo{
		ModuleName: "Systems Design",
		ModuleCode: "SD-400",
		ClassName:  "2026S",
	}, 0)
	require.NoError(t, err)

	// First attempt fails and marks the record failed; the retry succeeds at
	// the queue level but the record transition is one-way.
	waitForStatus(t, h.repo, notification.ID, enums.NotificationStatusFailed)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := h.svc.QueueStats(ctx)
		require.NoError(t, err)
		if stats[QueueDeadlineWarnings].Completed == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, int32(2), h.sender.calls.Load())

	final, err := h.repo.GetByID(ctx, notification.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.NotificationStatusFailed, final.Status)
}

func TestDelayedReminderStaysDelayed(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)
	require.NoError(t, h.svc.Initialize(ctx))

	facilitator := seedRecipient(t, h.db, enums.RoleFacilitator)
	offering := seedOffering(t, h.db, &facilitator.ID)

	_, _, err := h.svc.QueueFacilitatorReminder(ctx, facilitator.ID, offering.ID, 4, time.Hour)
	require.NoError(t, err)

	stats, err := h.svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[QueueFacilitatorReminders].Delayed)
	assert.Zero(t, stats[QueueFacilitatorReminders].Completed)
}

func TestCleanOldJobs(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()
	defer h.svc.Cleanup(ctx)
	require.NoError(t, h.svc.Initialize(ctx))

	facilitator := seedRecipient(t, h.db, enums.RoleFacilitator)
	offering := seedOffering(t, h.db, &facilitator.ID)

	notification, _, err := h.svc.QueueFacilitatorReminder(ctx, facilitator.ID, offering.ID, 4, 0)
	require.NoError(t, err)
	waitForStatus(t, h.repo, notification.ID, enums.NotificationStatusSent)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := h.svc.QueueStats(ctx)
		require.NoError(t, err)
		if stats[QueueFacilitatorReminders].Completed == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Nothing is old enough yet.
	n, err := h.svc.CleanOldJobs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.svc.CleanOldJobs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanupIsReentrant(t *testing.T) {
	h := setupQueueService(t, 0)
	ctx := context.Background()
	require.NoError(t, h.svc.Initialize(ctx))
	h.svc.Cleanup(ctx)
	h.svc.Cleanup(ctx)
}
