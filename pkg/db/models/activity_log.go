package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/pkg/enums"
)

// ActivityLog is a facilitator's weekly record of grading/attendance/
// moderation status for one course offering. At most one log exists per
// (allocation, week).
type ActivityLog struct {
	ID                  uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AllocationID        uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:ux_activity_logs_allocation_week"`
	WeekNumber          int              `gorm:"not null;uniqueIndex:ux_activity_logs_allocation_week"`
	Attendance          json.RawMessage  `gorm:"type:jsonb"`
	FormativeOneGrading enums.TaskStatus `gorm:"type:task_status;not null;default:'Not Started'"`
	FormativeTwoGrading enums.TaskStatus `gorm:"type:task_status;not null;default:'Not Started'"`
	SummativeGrading    enums.TaskStatus `gorm:"type:task_status;not null;default:'Not Started'"`
	CourseModeration    enums.TaskStatus `gorm:"type:task_status;not null;default:'Not Started'"`
	IntranetSync        enums.TaskStatus `gorm:"type:task_status;not null;default:'Not Started'"`
	GradeBookStatus     enums.TaskStatus `gorm:"type:task_status;not null;default:'Not Started'"`
	CreatedAt           time.Time        `gorm:"type:timestamptz;default:now()"`
	UpdatedAt           time.Time        `gorm:"type:timestamptz;default:now()"`

	CourseOffering CourseOffering `gorm:"foreignKey:AllocationID"`
}
