package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/pkg/enums"
)

// User carries the minimal identity fields the notification engine reads.
type User struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string     `gorm:"type:text;not null;uniqueIndex"`
	Role      enums.Role `gorm:"type:user_role;not null"`
	CreatedAt time.Time  `gorm:"type:timestamptz;default:now()"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;default:now()"`
}
