package notifications

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/enums"
	pkgerrors "github.com/Kosisookeke/course-management/pkg/errors"
)

// CourseInfo is the denormalized course snapshot stored in notification
// metadata so a message stays readable after the offering changes.
type CourseInfo struct {
	ModuleName string          `json:"moduleName"`
	ModuleCode string          `json:"moduleCode"`
	ClassName  string          `json:"className"`
	Trimester  enums.Trimester `json:"trimester,omitempty"`
	Intake     enums.Intake    `json:"intake,omitempty"`
}

// FacilitatorInfo identifies the facilitator a manager alert is about.
type FacilitatorInfo struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

func marshalMetadata(meta map[string]any) (json.RawMessage, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal notification metadata")
	}
	return data, nil
}

// NewFacilitatorReminder builds the weekly submission reminder for a
// facilitator. The record starts pending; delivery is the queue's job.
func NewFacilitatorReminder(facilitatorID, allocationID uuid.UUID, weekNumber int, course CourseInfo) (*models.Notification, error) {
	if facilitatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "facilitator id required")
	}
	if allocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation id required")
	}
	if weekNumber < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "week number must be positive")
	}

	metadata, err := marshalMetadata(map[string]any{
		"courseInfo":   course,
		"reminderType": "weekly_submission",
	})
	if err != nil {
		return nil, err
	}

	return &models.Notification{
		Type:         enums.NotificationTypeFacilitatorReminder,
		RecipientID:  facilitatorID,
		AllocationID: &allocationID,
		WeekNumber:   &weekNumber,
		Status:       enums.NotificationStatusPending,
		Title:        "Weekly Activity Log Reminder",
		Message:      fmt.Sprintf("Please submit your weekly activity log for Week %d of %s (%s).", weekNumber, course.ModuleName, course.ClassName),
		Metadata:     metadata,
	}, nil
}

var managerAlertTitles = map[enums.AlertType]string{
	enums.AlertTypeMissingSubmission: "Missing Activity Log Submission",
	enums.AlertTypeLateSubmission:    "Late Activity Log Submission",
	enums.AlertTypeComplianceWarning: "Compliance Warning",
}

func managerAlertMessage(alertType enums.AlertType, facilitatorEmail string, weekNumber int) string {
	switch alertType {
	case enums.AlertTypeMissingSubmission:
		return fmt.Sprintf("%s has not submitted their activity log for Week %d.", facilitatorEmail, weekNumber)
	case enums.AlertTypeLateSubmission:
		return fmt.Sprintf("%s submitted their activity log for Week %d after the deadline.", facilitatorEmail, weekNumber)
	default:
		return fmt.Sprintf("%s has multiple missing submissions and requires attention.", facilitatorEmail)
	}
}

// NewManagerAlert builds a compliance alert addressed to a manager about a
// facilitator. weekNumber is required except for compliance warnings, which
// summarize several weeks. extraMetadata entries land alongside the standard
// keys (missedWeeks on compliance warnings, for example).
func NewManagerAlert(managerID uuid.UUID, facilitator FacilitatorInfo, allocationID *uuid.UUID, weekNumber *int, alertType enums.AlertType, extraMetadata map[string]any) (*models.Notification, error) {
	if managerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "manager id required")
	}
	if facilitator.ID == uuid.Nil || facilitator.Email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "facilitator info required")
	}
	if !alertType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown alert type %q", alertType))
	}
	week := 0
	if weekNumber != nil {
		week = *weekNumber
	}
	if alertType != enums.AlertTypeComplianceWarning && week < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "week number required for this alert type")
	}

	meta := map[string]any{
		"facilitatorInfo": facilitator,
		"alertType":       alertType,
		"severity":        alertType.Severity(),
	}
	for k, v := range extraMetadata {
		meta[k] = v
	}
	metadata, err := marshalMetadata(meta)
	if err != nil {
		return nil, err
	}

	return &models.Notification{
		Type:         enums.NotificationTypeManagerAlert,
		RecipientID:  managerID,
		AllocationID: allocationID,
		WeekNumber:   weekNumber,
		Status:       enums.NotificationStatusPending,
		Title:        managerAlertTitles[alertType],
		Message:      managerAlertMessage(alertType, facilitator.Email, week),
		Metadata:     metadata,
	}, nil
}

// NewDeadlineWarning builds the end-of-week deadline warning sent to a
// facilitator who has not yet submitted the current week's log.
func NewDeadlineWarning(facilitatorID, allocationID uuid.UUID, weekNumber int, course CourseInfo) (*models.Notification, error) {
	if facilitatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "facilitator id required")
	}
	if allocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation id required")
	}
	if weekNumber < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "week number must be positive")
	}

	metadata, err := marshalMetadata(map[string]any{
		"courseInfo": CourseInfo{
			ModuleName: course.ModuleName,
			ModuleCode: course.ModuleCode,
			ClassName:  course.ClassName,
		},
		"deadlineType":  "weekly_submission",
		"daysRemaining": 3,
	})
	if err != nil {
		return nil, err
	}

	return &models.Notification{
		Type:         enums.NotificationTypeDeadlineWarning,
		RecipientID:  facilitatorID,
		AllocationID: &allocationID,
		WeekNumber:   &weekNumber,
		Status:       enums.NotificationStatusPending,
		Title:        "Activity Log Deadline Approaching",
		Message:      fmt.Sprintf("Reminder: Your activity log for Week %d of %s is due by end of this week.", weekNumber, course.ModuleName),
		Metadata:     metadata,
	}, nil
}
