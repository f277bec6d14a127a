package activitylogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Kosisookeke/course-management/internal/allocations"
	"github.com/Kosisookeke/course-management/internal/notifications"
	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/internal/users"
	"github.com/Kosisookeke/course-management/pkg/academic"
	dberrors "github.com/Kosisookeke/course-management/pkg/db"
	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/enums"
	pkgerrors "github.com/Kosisookeke/course-management/pkg/errors"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

// ManagerAlerter is the slice of the notification queue service the
// submission path needs for inline late alerts.
type ManagerAlerter interface {
	QueueManagerAlert(ctx context.Context, managerID uuid.UUID, facilitator notifications.FacilitatorInfo, allocationID *uuid.UUID, weekNumber *int, alertType enums.AlertType, extraMetadata map[string]any, delay time.Duration) (*models.Notification, *queue.Job, error)
}

// Service handles activity log submissions.
type Service interface {
	Submit(ctx context.Context, params SubmitParams) (*models.ActivityLog, error)
}

// SubmitParams carries one weekly submission. Task statuses left empty
// default to "Not Started".
type SubmitParams struct {
	FacilitatorID       uuid.UUID        `validate:"required"`
	AllocationID        uuid.UUID        `validate:"required"`
	WeekNumber          int              `validate:"required,min=1,max=53"`
	Attendance          json.RawMessage  `validate:"-"`
	FormativeOneGrading enums.TaskStatus `validate:"omitempty,taskstatus"`
	FormativeTwoGrading enums.TaskStatus `validate:"omitempty,taskstatus"`
	SummativeGrading    enums.TaskStatus `validate:"omitempty,taskstatus"`
	CourseModeration    enums.TaskStatus `validate:"omitempty,taskstatus"`
	IntranetSync        enums.TaskStatus `validate:"omitempty,taskstatus"`
	GradeBookStatus     enums.TaskStatus `validate:"omitempty,taskstatus"`
}

type service struct {
	repo        Repository
	allocations allocations.Repository
	users       users.Repository
	alerter     ManagerAlerter
	logg        *logger.Logger
	validate    *validator.Validate
	now         func() time.Time

	// lateAlertHook runs after the async late-alert fanout finishes.
	// Tests synchronize on it; production leaves it nil.
	lateAlertHook func()
}

// NewService wires the activity log submission path.
func NewService(repo Repository, allocationRepo allocations.Repository, userRepo users.Repository, alerter ManagerAlerter, logg *logger.Logger) (Service, error) {
	if repo == nil || allocationRepo == nil || userRepo == nil || alerter == nil || logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity log service dependencies missing")
	}

	validate := validator.New()
	if err := validate.RegisterValidation("taskstatus", func(fl validator.FieldLevel) bool {
		return enums.TaskStatus(fl.Field().String()).IsValid()
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "register taskstatus validation")
	}

	return &service{
		repo:        repo,
		allocations: allocationRepo,
		users:       userRepo,
		alerter:     alerter,
		logg:        logg,
		validate:    validate,
		now:         time.Now,
	}, nil
}

func orNotStarted(status enums.TaskStatus) enums.TaskStatus {
	if status == "" {
		return enums.TaskStatusNotStarted
	}
	return status
}

// Submit validates and stores a weekly activity log. When the submission
// lands after the target week has ended, every manager is alerted with a
// late_submission notification; that fanout runs in the background and its
// failure never fails the submission.
func (s *service) Submit(ctx context.Context, params SubmitParams) (*models.ActivityLog, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid activity log submission")
	}

	offering, err := s.allocations.GetWithCourseInfo(ctx, params.AllocationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("course offering %s not found", params.AllocationID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course offering")
	}
	if offering.FacilitatorID == nil || *offering.FacilitatorID != params.FacilitatorID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation is not assigned to this facilitator")
	}

	exists, err := s.repo.Exists(ctx, params.AllocationID, params.WeekNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing activity log")
	}
	if exists {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activity log for this week and allocation already exists")
	}

	log := &models.ActivityLog{
		AllocationID:        params.AllocationID,
		WeekNumber:          params.WeekNumber,
		Attendance:          params.Attendance,
		FormativeOneGrading: orNotStarted(params.FormativeOneGrading),
		FormativeTwoGrading: orNotStarted(params.FormativeTwoGrading),
		SummativeGrading:    orNotStarted(params.SummativeGrading),
		CourseModeration:    orNotStarted(params.CourseModeration),
		IntranetSync:        orNotStarted(params.IntranetSync),
		GradeBookStatus:     orNotStarted(params.GradeBookStatus),
	}
	if err := s.repo.Create(ctx, log); err != nil {
		if dberrors.IsUniqueViolation(err, "ux_activity_logs_allocation_week") {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "activity log for this week and allocation already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create activity log")
	}

	submittedAt := s.now().UTC()
	if academic.IsLate(submittedAt, params.WeekNumber) {
		facilitator := notifications.FacilitatorInfo{ID: params.FacilitatorID}
		if offering.Facilitator != nil {
			facilitator.Email = offering.Facilitator.Email
		}
		go s.alertLateSubmission(facilitator, params.AllocationID, params.WeekNumber)
	}

	return log, nil
}

// alertLateSubmission fans a late_submission alert out to every manager.
// Runs detached from the request; errors are logged and suppressed.
func (s *service) alertLateSubmission(facilitator notifications.FacilitatorInfo, allocationID uuid.UUID, weekNumber int) {
	defer func() {
		if s.lateAlertHook != nil {
			s.lateAlertHook()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"allocation_id": allocationID.String(),
		"week_number":   weekNumber,
	})

	if facilitator.Email == "" {
		user, err := s.users.GetByID(ctx, facilitator.ID)
		if err != nil {
			s.logg.Error(logCtx, "late submission alert skipped: load facilitator", err)
			return
		}
		facilitator.Email = user.Email
	}

	managers, err := s.users.ListByRole(ctx, enums.RoleManager)
	if err != nil {
		s.logg.Error(logCtx, "late submission alert skipped: list managers", err)
		return
	}

	for _, manager := range managers {
		week := weekNumber
		allocation := allocationID
		if _, _, err := s.alerter.QueueManagerAlert(ctx, manager.ID, facilitator, &allocation, &week, enums.AlertTypeLateSubmission, nil, 0); err != nil {
			s.logg.Error(logCtx, "queue late submission alert", err)
		}
	}
}
