package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/pkg/enums"
)

// CourseOffering is a module taught to a class/cohort in a trimester and
// intake, optionally assigned a facilitator. The notification engine calls
// this an allocation.
type CourseOffering struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ModuleID      uuid.UUID       `gorm:"type:uuid;not null"`
	ClassID       uuid.UUID       `gorm:"type:uuid;not null"`
	CohortID      uuid.UUID       `gorm:"type:uuid;not null"`
	Trimester     enums.Trimester `gorm:"type:trimester;not null"`
	Intake        enums.Intake    `gorm:"type:intake;not null"`
	FacilitatorID *uuid.UUID      `gorm:"type:uuid;index"`
	CreatedAt     time.Time       `gorm:"type:timestamptz;default:now()"`
	UpdatedAt     time.Time       `gorm:"type:timestamptz;default:now()"`

	Module      Module `gorm:"foreignKey:ModuleID"`
	Class       Class  `gorm:"foreignKey:ClassID"`
	Cohort      Cohort `gorm:"foreignKey:CohortID"`
	Facilitator *User  `gorm:"foreignKey:FacilitatorID"`
}
