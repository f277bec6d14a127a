package notifications

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kosisookeke/course-management/pkg/enums"
)

func TestNewFacilitatorReminder(t *testing.T) {
	facilitatorID := uuid.New()
	allocationID := uuid.New()
	course := CourseInfo{
		ModuleName: "Advanced Backend Development",
		ModuleCode: "ABD-301",
		ClassName:  "2026S",
		Trimester:  enums.TrimesterOne,
		Intake:     enums.IntakeHT1,
	}

	n, err := NewFacilitatorReminder(facilitatorID, allocationID, 5, course)
	require.NoError(t, err)

	assert.Equal(t, enums.NotificationTypeFacilitatorReminder, n.Type)
	assert.Equal(t, facilitatorID, n.RecipientID)
	require.NotNil(t, n.AllocationID)
	assert.Equal(t, allocationID, *n.AllocationID)
	require.NotNil(t, n.WeekNumber)
	assert.Equal(t, 5, *n.WeekNumber)
	assert.Equal(t, enums.NotificationStatusPending, n.Status)
	assert.Equal(t, "Weekly Activity Log Reminder", n.Title)
	assert.Equal(t, "Please submit your weekly activity log for Week 5 of Advanced Backend Development (2026S).", n.Message)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(n.Metadata, &meta))
	assert.Equal(t, "weekly_submission", meta["reminderType"])
	courseMeta, ok := meta["courseInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ABD-301", courseMeta["moduleCode"])
}

func TestNewFacilitatorReminderValidation(t *testing.T) {
	_, err := NewFacilitatorReminder(uuid.Nil, uuid.New(), 1, CourseInfo{})
	assert.Error(t, err)

	_, err = NewFacilitatorReminder(uuid.New(), uuid.Nil, 1, CourseInfo{})
	assert.Error(t, err)

	_, err = NewFacilitatorReminder(uuid.New(), uuid.New(), 0, CourseInfo{})
	assert.Error(t, err)
}

func TestNewManagerAlertMessagesAndSeverity(t *testing.T) {
	managerID := uuid.New()
	facilitator := FacilitatorInfo{ID: uuid.New(), Email: "facilitator@example.edu"}
	allocationID := uuid.New()
	week := 7

	cases := []struct {
		alertType enums.AlertType
		title     string
		message   string
		severity  string
	}{
		{
			alertType: enums.AlertTypeMissingSubmission,
			title:     "Missing Activity Log Submission",
			message:   "facilitator@example.edu has not submitted their activity log for Week 7.",
			severity:  "medium",
		},
		{
			alertType: enums.AlertTypeLateSubmission,
			title:     "Late Activity Log Submission",
			message:   "facilitator@example.edu submitted their activity log for Week 7 after the deadline.",
			severity:  "medium",
		},
		{
			alertType: enums.AlertTypeComplianceWarning,
			title:     "Compliance Warning",
			message:   "facilitator@example.edu has multiple missing submissions and requires attention.",
			severity:  "high",
		},
	}

	for _, tc := range cases {
		t.Run(string(tc.alertType), func(t *testing.T) {
			n, err := NewManagerAlert(managerID, facilitator, &allocationID, &week, tc.alertType, nil)
			require.NoError(t, err)

			assert.Equal(t, enums.NotificationTypeManagerAlert, n.Type)
			assert.Equal(t, tc.title, n.Title)
			assert.Equal(t, tc.message, n.Message)

			var meta map[string]any
			require.NoError(t, json.Unmarshal(n.Metadata, &meta))
			assert.Equal(t, tc.severity, meta["severity"])
			assert.Equal(t, string(tc.alertType), meta["alertType"])
		})
	}
}

func TestNewManagerAlertExtraMetadata(t *testing.T) {
	n, err := NewManagerAlert(uuid.New(), FacilitatorInfo{ID: uuid.New(), Email: "f@example.edu"}, nil, nil, enums.AlertTypeComplianceWarning, map[string]any{
		"missedWeeks": []int{3, 5},
	})
	require.NoError(t, err)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(n.Metadata, &meta))
	assert.Contains(t, meta, "missedWeeks")
	assert.Contains(t, meta, "facilitatorInfo")
}

func TestNewManagerAlertValidation(t *testing.T) {
	facilitator := FacilitatorInfo{ID: uuid.New(), Email: "f@example.edu"}
	week := 2

	_, err := NewManagerAlert(uuid.Nil, facilitator, nil, &week, enums.AlertTypeMissingSubmission, nil)
	assert.Error(t, err)

	_, err = NewManagerAlert(uuid.New(), FacilitatorInfo{}, nil, &week, enums.AlertTypeMissingSubmission, nil)
	assert.Error(t, err)

	_, err = NewManagerAlert(uuid.New(), facilitator, nil, &week, enums.AlertType("bogus"), nil)
	assert.Error(t, err)

	// Week is mandatory unless the alert summarizes several weeks.
	_, err = NewManagerAlert(uuid.New(), facilitator, nil, nil, enums.AlertTypeMissingSubmission, nil)
	assert.Error(t, err)

	_, err = NewManagerAlert(uuid.New(), facilitator, nil, nil, enums.AlertTypeComplianceWarning, nil)
	assert.NoError(t, err)
}

func TestNewDeadlineWarning(t *testing.T) {
	facilitatorID := uuid.New()
	allocationID := uuid.New()

	n, err := NewDeadlineWarning(facilitatorID, allocationID, 9, CourseInfo{
		ModuleName: "Data Engineering",
		ModuleCode: "DE-210",
		ClassName:  "2026J",
	})
	require.NoError(t, err)

	assert.Equal(t, enums.NotificationTypeDeadlineWarning, n.Type)
	assert.Equal(t, "Activity Log Deadline Approaching", n.Title)
	assert.Equal(t, "Reminder: Your activity log for Week 9 of Data Engineering is due by end of this week.", n.Message)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(n.Metadata, &meta))
	assert.Equal(t, "weekly_submission", meta["deadlineType"])
	assert.Equal(t, float64(3), meta["daysRemaining"])
}
