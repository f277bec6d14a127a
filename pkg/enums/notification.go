package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeFacilitatorReminder NotificationType = "facilitator_reminder"
	NotificationTypeManagerAlert        NotificationType = "manager_alert"
	NotificationTypeDeadlineWarning     NotificationType = "deadline_warning"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeFacilitatorReminder,
	NotificationTypeManagerAlert,
	NotificationTypeDeadlineWarning,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationStatus maps to the notification_status enum in Postgres.
// Transitions are monotonic: pending is the only non-terminal state.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

var validNotificationStatuses = []NotificationStatus{
	NotificationStatusPending,
	NotificationStatusSent,
	NotificationStatusFailed,
}

// IsValid checks whether the given status matches the canonical enum.
func (n NotificationStatus) IsValid() bool {
	for _, candidate := range validNotificationStatuses {
		if candidate == n {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status can no longer change.
func (n NotificationStatus) IsTerminal() bool {
	return n == NotificationStatusSent || n == NotificationStatusFailed
}

// AlertType classifies manager alerts.
type AlertType string

const (
	AlertTypeMissingSubmission AlertType = "missing_submission"
	AlertTypeLateSubmission    AlertType = "late_submission"
	AlertTypeComplianceWarning AlertType = "compliance_warning"
)

var validAlertTypes = []AlertType{
	AlertTypeMissingSubmission,
	AlertTypeLateSubmission,
	AlertTypeComplianceWarning,
}

// IsValid checks whether the given alert type matches the canonical enum.
func (a AlertType) IsValid() bool {
	for _, candidate := range validAlertTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// Severity returns the metadata severity recorded for the alert type.
func (a AlertType) Severity() string {
	if a == AlertTypeComplianceWarning {
		return "high"
	}
	return "medium"
}

// ParseAlertType converts raw strings into AlertType.
func ParseAlertType(value string) (AlertType, error) {
	for _, candidate := range validAlertTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid alert type %q", value)
}
