package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/internal/notifications"
	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/pkg/academic"
	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/enums"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

const complianceLookbackWeeks = 4
const complianceMissThreshold = 2

type managerLister interface {
	ListByRole(ctx context.Context, role enums.Role) ([]models.User, error)
}

type logRangeLister interface {
	ListByAllocationAndWeekRange(ctx context.Context, allocationID uuid.UUID, fromWeek, toWeek int) ([]models.ActivityLog, error)
}

type alertQueuer interface {
	QueueManagerAlert(ctx context.Context, managerID uuid.UUID, facilitator notifications.FacilitatorInfo, allocationID *uuid.UUID, weekNumber *int, alertType enums.AlertType, extraMetadata map[string]any, delay time.Duration) (*models.Notification, *queue.Job, error)
}

// ComplianceScanJobParams wires the Tuesday compliance trigger.
type ComplianceScanJobParams struct {
	Logger       *logger.Logger
	Allocations  offeringLister
	ActivityLogs logRangeLister
	Users        managerLister
	Queue        alertQueuer
}

// NewComplianceScanJob builds the trigger that alerts managers about missing
// last-week submissions and repeated non-compliance. Fires on Tuesdays.
func NewComplianceScanJob(params ComplianceScanJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Allocations == nil {
		return nil, fmt.Errorf("allocations repository required")
	}
	if params.ActivityLogs == nil {
		return nil, fmt.Errorf("activity logs repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("notification queue service required")
	}
	return &complianceScanJob{
		logg:        params.Logger,
		allocations: params.Allocations,
		logs:        params.ActivityLogs,
		users:       params.Users,
		queue:       params.Queue,
		now:         time.Now,
	}, nil
}

type complianceScanJob struct {
	logg        *logger.Logger
	allocations offeringLister
	logs        logRangeLister
	users       managerLister
	queue       alertQueuer
	now         func() time.Time
}

func (j *complianceScanJob) Name() string { return "manager-compliance-alerts" }

func (j *complianceScanJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	if now.Weekday() != time.Tuesday {
		return nil
	}
	currentWeek := academic.WeekOf(now)
	lastWeek := currentWeek - 1

	managers, err := j.users.ListByRole(ctx, enums.RoleManager)
	if err != nil {
		return fmt.Errorf("list managers: %w", err)
	}
	if len(managers) == 0 {
		j.logg.Warn(ctx, "no managers to alert; skipping compliance scan")
		return nil
	}

	offerings, err := j.allocations.ListWithFacilitator(ctx)
	if err != nil {
		return fmt.Errorf("list course offerings: %w", err)
	}

	queued := 0
	for _, offering := range offerings {
		if offering.FacilitatorID == nil || offering.Facilitator == nil {
			continue
		}
		offeringCtx := j.logg.WithAllocationID(ctx, offering.ID.String())
		facilitator := notifications.FacilitatorInfo{
			ID:    *offering.FacilitatorID,
			Email: offering.Facilitator.Email,
		}

		fromWeek := currentWeek - complianceLookbackWeeks
		if fromWeek < 1 {
			fromWeek = 1
		}
		if lastWeek < fromWeek {
			continue
		}

		logs, err := j.logs.ListByAllocationAndWeekRange(ctx, offering.ID, fromWeek, lastWeek)
		if err != nil {
			j.logg.Error(offeringCtx, "list recent activity logs", err)
			continue
		}
		submitted := make(map[int]bool, len(logs))
		for _, log := range logs {
			submitted[log.WeekNumber] = true
		}

		if !submitted[lastWeek] {
			allocation := offering.ID
			week := lastWeek
			for _, manager := range managers {
				if _, _, err := j.queue.QueueManagerAlert(ctx, manager.ID, facilitator, &allocation, &week, enums.AlertTypeMissingSubmission, nil, 0); err != nil {
					j.logg.Error(offeringCtx, "queue missing submission alert", err)
					continue
				}
				queued++
			}
		}

		var missedWeeks []int
		for week := fromWeek; week <= lastWeek; week++ {
			if !submitted[week] {
				missedWeeks = append(missedWeeks, week)
			}
		}
		if len(missedWeeks) >= complianceMissThreshold {
			allocation := offering.ID
			week := currentWeek
			for _, manager := range managers {
				if _, _, err := j.queue.QueueManagerAlert(ctx, manager.ID, facilitator, &allocation, &week, enums.AlertTypeComplianceWarning, map[string]any{
					"missedWeeks": missedWeeks,
				}, 0); err != nil {
					j.logg.Error(offeringCtx, "queue compliance warning", err)
					continue
				}
				queued++
			}
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"week_number": currentWeek,
		"queued":      queued,
	})
	j.logg.Info(logCtx, "manager alerts queued")
	return nil
}
