package enums

import "fmt"

// TaskStatus maps to the task_status enum in Postgres, tracking per-task
// progress inside a weekly activity log.
type TaskStatus string

const (
	TaskStatusDone       TaskStatus = "Done"
	TaskStatusPending    TaskStatus = "Pending"
	TaskStatusNotStarted TaskStatus = "Not Started"
)

var validTaskStatuses = []TaskStatus{
	TaskStatusDone,
	TaskStatusPending,
	TaskStatusNotStarted,
}

// IsValid checks whether the given status matches the canonical enum.
func (t TaskStatus) IsValid() bool {
	for _, candidate := range validTaskStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTaskStatus converts raw strings into TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	for _, candidate := range validTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", value)
}
