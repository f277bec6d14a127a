package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/pkg/enums"
)

// Notification is the durable record of one reminder/alert/warning and its
// delivery lifecycle. Status only moves forward: pending -> sent | failed.
type Notification struct {
	ID           uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Type         enums.NotificationType   `gorm:"type:notification_type;not null;index"`
	RecipientID  uuid.UUID                `gorm:"type:uuid;not null;index"`
	AllocationID *uuid.UUID               `gorm:"type:uuid;index:ix_notifications_allocation_week"`
	WeekNumber   *int                     `gorm:"index:ix_notifications_allocation_week"`
	Title        string                   `gorm:"type:text;not null"`
	Message      string                   `gorm:"type:text;not null"`
	Status       enums.NotificationStatus `gorm:"type:notification_status;not null;default:'pending';index"`
	ScheduledFor *time.Time               `gorm:"type:timestamptz;index"`
	SentAt       *time.Time               `gorm:"type:timestamptz"`
	Metadata     json.RawMessage          `gorm:"type:jsonb"`
	CreatedAt    time.Time                `gorm:"type:timestamptz;default:now()"`
	UpdatedAt    time.Time                `gorm:"type:timestamptz;default:now()"`

	Recipient      User            `gorm:"foreignKey:RecipientID"`
	CourseOffering *CourseOffering `gorm:"foreignKey:AllocationID"`
}
