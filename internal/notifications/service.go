package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/pkg/config"
	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/enums"
	pkgerrors "github.com/Kosisookeke/course-management/pkg/errors"
	"github.com/Kosisookeke/course-management/pkg/logger"
	"github.com/Kosisookeke/course-management/pkg/metrics"
	"github.com/Kosisookeke/course-management/pkg/redis"
)

// Queue names. Stats and metrics are keyed by these.
const (
	QueueFacilitatorReminders = "facilitatorReminders"
	QueueManagerAlerts        = "managerAlerts"
	QueueDeadlineWarnings     = "deadlineWarnings"
)

const (
	jobSendReminder = "send-reminder"
	jobSendAlert    = "send-alert"
	jobSendWarning  = "send-warning"
)

// ReminderJob is the payload of a facilitator reminder delivery job.
type ReminderJob struct {
	NotificationID uuid.UUID  `json:"notificationId"`
	FacilitatorID  uuid.UUID  `json:"facilitatorId"`
	AllocationID   uuid.UUID  `json:"allocationId"`
	WeekNumber     int        `json:"weekNumber"`
	CourseInfo     CourseInfo `json:"courseInfo"`
}

// AlertJob is the payload of a manager alert delivery job.
type AlertJob struct {
	NotificationID  uuid.UUID       `json:"notificationId"`
	ManagerID       uuid.UUID       `json:"managerId"`
	FacilitatorInfo FacilitatorInfo `json:"facilitatorInfo"`
	AllocationID    *uuid.UUID      `json:"allocationId,omitempty"`
	WeekNumber      *int            `json:"weekNumber,omitempty"`
	AlertType       enums.AlertType `json:"alertType"`
}

// WarningJob is the payload of a deadline warning delivery job.
type WarningJob struct {
	NotificationID uuid.UUID `json:"notificationId"`
	RecipientID    uuid.UUID `json:"recipientId"`
	WeekNumber     int       `json:"weekNumber"`
}

// AllocationReader resolves a course offering with its module and class
// loaded, for the course snapshot embedded in reminders.
type AllocationReader interface {
	GetWithCourseInfo(ctx context.Context, id uuid.UUID) (*models.CourseOffering, error)
}

// QueueServiceParams wires the queue service dependencies.
type QueueServiceParams struct {
	Repo        Repository
	Allocations AllocationReader
	Sender      Sender
	Redis       *redis.Client
	Logger      *logger.Logger
	Metrics     *metrics.QueueMetrics
	Config      config.QueuesConfig
}

// QueueService owns the three delivery queues and the notification records
// flowing through them.
type QueueService struct {
	repo        Repository
	allocations AllocationReader
	sender      Sender
	rdb         *redis.Client
	logg        *logger.Logger
	qm          *metrics.QueueMetrics
	cfg         config.QueuesConfig
	now         func() time.Time

	mu          sync.Mutex
	queues      map[string]*queue.Queue
	initialized bool
}

// NewQueueService builds an uninitialized queue service. Call Initialize
// before queueing anything.
func NewQueueService(params QueueServiceParams) (*QueueService, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if params.Allocations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "allocation reader required")
	}
	if params.Sender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification sender required")
	}
	if params.Redis == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "redis client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &QueueService{
		repo:        params.Repo,
		allocations: params.Allocations,
		sender:      params.Sender,
		rdb:         params.Redis,
		logg:        params.Logger,
		qm:          params.Metrics,
		cfg:         params.Config,
		now:         time.Now,
		queues:      map[string]*queue.Queue{},
	}, nil
}

// queuePolicies holds the per-queue retry and retention policy. These are
// deliberate product decisions, not tunables.
var queuePolicies = map[string]queue.Config{
	QueueFacilitatorReminders: {
		Name:             QueueFacilitatorReminders,
		Attempts:         3,
		Backoff:          queue.Backoff{Kind: queue.BackoffExponential, Delay: 2 * time.Second},
		RemoveOnComplete: 50,
		RemoveOnFail:     20,
	},
	QueueManagerAlerts: {
		Name:             QueueManagerAlerts,
		Attempts:         3,
		Backoff:          queue.Backoff{Kind: queue.BackoffExponential, Delay: 2 * time.Second},
		RemoveOnComplete: 50,
		RemoveOnFail:     20,
	},
	QueueDeadlineWarnings: {
		Name:             QueueDeadlineWarnings,
		Attempts:         2,
		Backoff:          queue.Backoff{Kind: queue.BackoffExponential, Delay: time.Second},
		RemoveOnComplete: 50,
		RemoveOnFail:     20,
	},
}

// Initialize creates the queues, registers the processors and starts the
// workers. Calling it again is a no-op.
func (s *QueueService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	for name, policy := range queuePolicies {
		policy.Concurrency = s.cfg.Concurrency
		policy.PollInterval = s.cfg.PollInterval
		q, err := queue.New(policy, s.rdb, s.logg, s.qm)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("create %s queue", name))
		}
		s.queues[name] = q
	}

	s.queues[QueueFacilitatorReminders].Process(jobSendReminder, s.processReminder)
	s.queues[QueueManagerAlerts].Process(jobSendAlert, s.processAlert)
	s.queues[QueueDeadlineWarnings].Process(jobSendWarning, s.processWarning)

	for name, q := range s.queues {
		if err := q.Start(ctx); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("start %s queue", name))
		}
	}

	s.initialized = true
	s.logg.Info(ctx, "notification queue service initialized")
	return nil
}

func (s *QueueService) queue(name string) (*queue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, pkgerrors.New(pkgerrors.CodeNotInitialized, "notification queue service not initialized")
	}
	return s.queues[name], nil
}

// QueueFacilitatorReminder records a weekly reminder and schedules its
// delivery. delay postpones the send without delaying record creation.
func (s *QueueService) QueueFacilitatorReminder(ctx context.Context, facilitatorID, allocationID uuid.UUID, weekNumber int, delay time.Duration) (*models.Notification, *queue.Job, error) {
	q, err := s.queue(QueueFacilitatorReminders)
	if err != nil {
		return nil, nil, err
	}

	offering, err := s.allocations.GetWithCourseInfo(ctx, allocationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("course offering %s not found", allocationID))
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course offering")
	}

	course := CourseInfo{
		ModuleName: offering.Module.Name,
		ModuleCode: offering.Module.Code,
		ClassName:  offering.Class.Name,
		Trimester:  offering.Trimester,
		Intake:     offering.Intake,
	}

	notification, err := NewFacilitatorReminder(facilitatorID, allocationID, weekNumber, course)
	if err != nil {
		return nil, nil, err
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reminder notification")
	}

	job, err := q.Enqueue(ctx, jobSendReminder, ReminderJob{
		NotificationID: notification.ID,
		FacilitatorID:  facilitatorID,
		AllocationID:   allocationID,
		WeekNumber:     weekNumber,
		CourseInfo:     course,
	}, queue.EnqueueOptions{
		Delay: delay,
		JobID: fmt.Sprintf("reminder-%s-%s-%d-%d", facilitatorID, allocationID, weekNumber, s.now().UnixNano()),
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue facilitator reminder")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"job_id":      job.ID,
		"week_number": weekNumber,
	})
	s.logg.Info(logCtx, "queued facilitator reminder")
	return notification, job, nil
}

// QueueManagerAlert records a compliance alert for a manager and schedules
// its delivery.
func (s *QueueService) QueueManagerAlert(ctx context.Context, managerID uuid.UUID, facilitator FacilitatorInfo, allocationID *uuid.UUID, weekNumber *int, alertType enums.AlertType, extraMetadata map[string]any, delay time.Duration) (*models.Notification, *queue.Job, error) {
	q, err := s.queue(QueueManagerAlerts)
	if err != nil {
		return nil, nil, err
	}

	notification, err := NewManagerAlert(managerID, facilitator, allocationID, weekNumber, alertType, extraMetadata)
	if err != nil {
		return nil, nil, err
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create manager alert notification")
	}

	job, err := q.Enqueue(ctx, jobSendAlert, AlertJob{
		NotificationID:  notification.ID,
		ManagerID:       managerID,
		FacilitatorInfo: facilitator,
		AllocationID:    allocationID,
		WeekNumber:      weekNumber,
		AlertType:       alertType,
	}, queue.EnqueueOptions{
		Delay: delay,
		JobID: fmt.Sprintf("alert-%s-%s-%s-%d", managerID, facilitator.ID, alertType, s.now().UnixNano()),
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue manager alert")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"job_id":     job.ID,
		"alert_type": string(alertType),
	})
	s.logg.Info(logCtx, "queued manager alert")
	return notification, job, nil
}

// QueueDeadlineWarning records an end-of-week deadline warning for a
// facilitator and schedules its delivery.
func (s *QueueService) QueueDeadlineWarning(ctx context.Context, facilitatorID, allocationID uuid.UUID, weekNumber int, course CourseInfo, delay time.Duration) (*models.Notification, *queue.Job, error) {
	q, err := s.queue(QueueDeadlineWarnings)
	if err != nil {
		return nil, nil, err
	}

	notification, err := NewDeadlineWarning(facilitatorID, allocationID, weekNumber, course)
	if err != nil {
		return nil, nil, err
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create deadline warning notification")
	}

	job, err := q.Enqueue(ctx, jobSendWarning, WarningJob{
		NotificationID: notification.ID,
		RecipientID:    facilitatorID,
		WeekNumber:     weekNumber,
	}, queue.EnqueueOptions{Delay: delay})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue deadline warning")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"job_id":      job.ID,
		"week_number": weekNumber,
	})
	s.logg.Info(logCtx, "queued deadline warning")
	return notification, job, nil
}

// deliver is the shared processor body: load, send, record the outcome.
// Errors are returned to the queue so its retry policy applies.
func (s *QueueService) deliver(ctx context.Context, notificationID uuid.UUID) error {
	notification, err := s.repo.GetByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("notification %s not found", notificationID))
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification")
	}

	if err := s.sender.Send(ctx, notification); err != nil {
		now := s.now().UTC()
		if _, markErr := s.repo.MarkFailed(ctx, notificationID, err, now); markErr != nil {
			s.logg.Error(ctx, "mark notification failed", markErr)
		}
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeSendFailed, err, "send notification")
	}

	if _, err := s.repo.MarkSent(ctx, notificationID, s.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification sent")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"notification_id": notificationID.String(),
		"recipient":       notification.Recipient.Email,
	})
	s.logg.Info(logCtx, "notification delivered")
	return nil
}

func (s *QueueService) processReminder(ctx context.Context, job *queue.Job) error {
	var payload ReminderJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode reminder job")
	}
	return s.deliver(ctx, payload.NotificationID)
}

func (s *QueueService) processAlert(ctx context.Context, job *queue.Job) error {
	var payload AlertJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode alert job")
	}
	return s.deliver(ctx, payload.NotificationID)
}

func (s *QueueService) processWarning(ctx context.Context, job *queue.Job) error {
	var payload WarningJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode warning job")
	}
	return s.deliver(ctx, payload.NotificationID)
}

// QueueStats returns per-queue counts keyed by queue name.
func (s *QueueService) QueueStats(ctx context.Context) (map[string]queue.Stats, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeNotInitialized, "notification queue service not initialized")
	}
	queues := make(map[string]*queue.Queue, len(s.queues))
	for name, q := range s.queues {
		queues[name] = q
	}
	s.mu.Unlock()

	stats := make(map[string]queue.Stats, len(queues))
	for name, q := range queues {
		qs, err := q.Stats(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stats for %s queue", name))
		}
		stats[name] = qs
	}
	return stats, nil
}

// CleanOldJobs trims completed and failed jobs older than maxAge from every
// queue, returning how many were dropped. Per-queue errors are combined so a
// bad queue does not mask the others.
func (s *QueueService) CleanOldJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return 0, pkgerrors.New(pkgerrors.CodeNotInitialized, "notification queue service not initialized")
	}
	queues := make([]*queue.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	var combined error
	total := 0
	for _, q := range queues {
		for _, state := range []string{"completed", "failed"} {
			n, err := q.Clean(ctx, maxAge, state)
			total += n
			if err != nil {
				combined = multierr.Append(combined, fmt.Errorf("clean %s %s jobs: %w", q.Name(), state, err))
			}
		}
	}
	return total, combined
}

// Cleanup stops every queue and waits for in-flight attempts. Safe to call
// more than once.
func (s *QueueService) Cleanup(ctx context.Context) {
	s.mu.Lock()
	queues := make([]*queue.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
	s.logg.Info(ctx, "notification queues cleaned up")
}
