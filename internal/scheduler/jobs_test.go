package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/internal/notifications"
	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/pkg/academic"
	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/enums"
)

var (
	testMonday   = time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	testTuesday  = time.Date(2026, 9, 8, 10, 0, 0, 0, time.UTC)
	testThursday = time.Date(2026, 9, 10, 8, 0, 0, 0, time.UTC)
)

type fakeAllocations struct {
	offerings []models.CourseOffering
	err       error
}

func (f *fakeAllocations) ListWithFacilitator(context.Context) ([]models.CourseOffering, error) {
	return f.offerings, f.err
}

type fakeLogs struct {
	weeks map[uuid.UUID][]int
	err   error
}

func (f *fakeLogs) Exists(_ context.Context, allocationID uuid.UUID, weekNumber int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, week := range f.weeks[allocationID] {
		if week == weekNumber {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLogs) ListByAllocationAndWeekRange(_ context.Context, allocationID uuid.UUID, fromWeek, toWeek int) ([]models.ActivityLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	var logs []models.ActivityLog
	for _, week := range f.weeks[allocationID] {
		if week >= fromWeek && week <= toWeek {
			logs = append(logs, models.ActivityLog{AllocationID: allocationID, WeekNumber: week})
		}
	}
	return logs, nil
}

type fakeUsers struct {
	managers []models.User
	err      error
}

func (f *fakeUsers) ListByRole(_ context.Context, role enums.Role) ([]models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if role != enums.RoleManager {
		return nil, nil
	}
	return f.managers, nil
}

type queuedReminder struct {
	facilitatorID uuid.UUID
	allocationID  uuid.UUID
	week          int
}

type queuedAlert struct {
	managerID   uuid.UUID
	facilitator notifications.FacilitatorInfo
	week        *int
	alertType   enums.AlertType
	extra       map[string]any
}

type queuedWarning struct {
	facilitatorID uuid.UUID
	allocationID  uuid.UUID
	week          int
}

type fakeQueueService struct {
	reminders []queuedReminder
	alerts    []queuedAlert
	warnings  []queuedWarning
	err       error
}

func (f *fakeQueueService) QueueFacilitatorReminder(_ context.Context, facilitatorID, allocationID uuid.UUID, weekNumber int, _ time.Duration) (*models.Notification, *queue.Job, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.reminders = append(f.reminders, queuedReminder{facilitatorID: facilitatorID, allocationID: allocationID, week: weekNumber})
	return &models.Notification{}, &queue.Job{ID: "job"}, nil
}

func (f *fakeQueueService) QueueManagerAlert(_ context.Context, managerID uuid.UUID, facilitator notifications.FacilitatorInfo, _ *uuid.UUID, weekNumber *int, alertType enums.AlertType, extraMetadata map[string]any, _ time.Duration) (*models.Notification, *queue.Job, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.alerts = append(f.alerts, queuedAlert{managerID: managerID, facilitator: facilitator, week: weekNumber, alertType: alertType, extra: extraMetadata})
	return &models.Notification{}, &queue.Job{ID: "job"}, nil
}

func (f *fakeQueueService) QueueDeadlineWarning(_ context.Context, facilitatorID, allocationID uuid.UUID, weekNumber int, _ notifications.CourseInfo, _ time.Duration) (*models.Notification, *queue.Job, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.warnings = append(f.warnings, queuedWarning{facilitatorID: facilitatorID, allocationID: allocationID, week: weekNumber})
	return &models.Notification{}, &queue.Job{ID: "job"}, nil
}

func testOffering(facilitatorEmail string) models.CourseOffering {
	facilitatorID := uuid.New()
	return models.CourseOffering{
		ID:            uuid.New(),
		FacilitatorID: &facilitatorID,
		Facilitator:   &models.User{ID: facilitatorID, Email: facilitatorEmail, Role: enums.RoleFacilitator},
		Module:        models.Module{ID: uuid.New(), Name: "Systems Design", Code: "SD-400"},
		Class:         models.Class{ID: uuid.New(), Name: "2026S"},
	}
}

func TestWeeklyReminderJobQueuesOnlyMissing(t *testing.T) {
	submitted := testOffering("submitted@example.edu")
	missing := testOffering("missing@example.edu")
	currentWeek := academic.WeekOf(testMonday)

	allocations := &fakeAllocations{offerings: []models.CourseOffering{submitted, missing}}
	logs := &fakeLogs{weeks: map[uuid.UUID][]int{submitted.ID: {currentWeek}}}
	queueSvc := &fakeQueueService{}

	jobIface, err := NewWeeklyReminderJob(WeeklyReminderJobParams{
		Logger:       testLogger(),
		Allocations:  allocations,
		ActivityLogs: logs,
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewWeeklyReminderJob: %v", err)
	}
	job := jobIface.(*weeklyReminderJob)
	job.now = func() time.Time { return testMonday }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(queueSvc.reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(queueSvc.reminders))
	}
	got := queueSvc.reminders[0]
	if got.allocationID != missing.ID {
		t.Fatalf("expected reminder for missing offering, got %s", got.allocationID)
	}
	if got.facilitatorID != *missing.FacilitatorID {
		t.Fatalf("wrong facilitator: %s", got.facilitatorID)
	}
	if got.week != currentWeek {
		t.Fatalf("expected week %d, got %d", currentWeek, got.week)
	}
}

func TestWeeklyReminderJobSkipsOffDays(t *testing.T) {
	queueSvc := &fakeQueueService{}
	jobIface, err := NewWeeklyReminderJob(WeeklyReminderJobParams{
		Logger:       testLogger(),
		Allocations:  &fakeAllocations{offerings: []models.CourseOffering{testOffering("f@example.edu")}},
		ActivityLogs: &fakeLogs{},
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewWeeklyReminderJob: %v", err)
	}
	job := jobIface.(*weeklyReminderJob)
	job.now = func() time.Time { return testTuesday }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(queueSvc.reminders) != 0 {
		t.Fatalf("expected no reminders on Tuesday, got %d", len(queueSvc.reminders))
	}
}

func TestWeeklyReminderJobContinuesPastQueueErrors(t *testing.T) {
	offering := testOffering("f@example.edu")
	queueSvc := &fakeQueueService{err: errors.New("redis down")}
	jobIface, err := NewWeeklyReminderJob(WeeklyReminderJobParams{
		Logger:       testLogger(),
		Allocations:  &fakeAllocations{offerings: []models.CourseOffering{offering}},
		ActivityLogs: &fakeLogs{},
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewWeeklyReminderJob: %v", err)
	}
	job := jobIface.(*weeklyReminderJob)
	job.now = func() time.Time { return testMonday }

	// Per-offering enqueue failures are logged, not fatal.
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestComplianceScanJobAlertsManagers(t *testing.T) {
	currentWeek := academic.WeekOf(testTuesday)
	lastWeek := currentWeek - 1

	// Missed only last week: missing_submission, no warning.
	singleMiss := testOffering("single@example.edu")
	// Missed two of the last four weeks: missing_submission plus warning.
	repeatMiss := testOffering("repeat@example.edu")

	logs := &fakeLogs{weeks: map[uuid.UUID][]int{
		singleMiss.ID: {currentWeek - 4, currentWeek - 3, currentWeek - 2},
		repeatMiss.ID: {currentWeek - 4, currentWeek - 2},
	}}
	managers := []models.User{
		{ID: uuid.New(), Email: "m1@example.edu", Role: enums.RoleManager},
		{ID: uuid.New(), Email: "m2@example.edu", Role: enums.RoleManager},
	}
	queueSvc := &fakeQueueService{}

	jobIface, err := NewComplianceScanJob(ComplianceScanJobParams{
		Logger:       testLogger(),
		Allocations:  &fakeAllocations{offerings: []models.CourseOffering{singleMiss, repeatMiss}},
		ActivityLogs: logs,
		Users:        &fakeUsers{managers: managers},
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewComplianceScanJob: %v", err)
	}
	job := jobIface.(*complianceScanJob)
	job.now = func() time.Time { return testTuesday }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 2 offerings missing last week x 2 managers, plus 1 warning x 2 managers.
	var missingAlerts, warnings []queuedAlert
	for _, alert := range queueSvc.alerts {
		switch alert.alertType {
		case enums.AlertTypeMissingSubmission:
			missingAlerts = append(missingAlerts, alert)
		case enums.AlertTypeComplianceWarning:
			warnings = append(warnings, alert)
		default:
			t.Fatalf("unexpected alert type %s", alert.alertType)
		}
	}
	if len(missingAlerts) != 4 {
		t.Fatalf("expected 4 missing submission alerts, got %d", len(missingAlerts))
	}
	for _, alert := range missingAlerts {
		if alert.week == nil || *alert.week != lastWeek {
			t.Fatalf("missing submission alert should target week %d", lastWeek)
		}
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 compliance warnings, got %d", len(warnings))
	}
	for _, warning := range warnings {
		if warning.facilitator.Email != "repeat@example.edu" {
			t.Fatalf("warning about wrong facilitator: %s", warning.facilitator.Email)
		}
		if warning.week == nil || *warning.week != currentWeek {
			t.Fatalf("compliance warning should target week %d", currentWeek)
		}
		missed, ok := warning.extra["missedWeeks"].([]int)
		if !ok {
			t.Fatalf("expected missedWeeks metadata, got %v", warning.extra)
		}
		want := fmt.Sprintf("%v", []int{currentWeek - 3, lastWeek})
		if fmt.Sprintf("%v", missed) != want {
			t.Fatalf("expected missed weeks %s, got %v", want, missed)
		}
	}
}

func TestComplianceScanJobSkipsOffDays(t *testing.T) {
	queueSvc := &fakeQueueService{}
	jobIface, err := NewComplianceScanJob(ComplianceScanJobParams{
		Logger:       testLogger(),
		Allocations:  &fakeAllocations{offerings: []models.CourseOffering{testOffering("f@example.edu")}},
		ActivityLogs: &fakeLogs{},
		Users:        &fakeUsers{managers: []models.User{{ID: uuid.New(), Role: enums.RoleManager}}},
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewComplianceScanJob: %v", err)
	}
	job := jobIface.(*complianceScanJob)
	job.now = func() time.Time { return testMonday }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(queueSvc.alerts) != 0 {
		t.Fatalf("expected no alerts on Monday, got %d", len(queueSvc.alerts))
	}
}

func TestComplianceScanJobWithoutManagers(t *testing.T) {
	queueSvc := &fakeQueueService{}
	jobIface, err := NewComplianceScanJob(ComplianceScanJobParams{
		Logger:       testLogger(),
		Allocations:  &fakeAllocations{offerings: []models.CourseOffering{testOffering("f@example.edu")}},
		ActivityLogs: &fakeLogs{},
		Users:        &fakeUsers{},
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewComplianceScanJob: %v", err)
	}
	job := jobIface.(*complianceScanJob)
	job.now = func() time.Time { return testTuesday }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(queueSvc.alerts) != 0 {
		t.Fatalf("expected no alerts without managers, got %d", len(queueSvc.alerts))
	}
}

func TestDeadlineWarningJobWarnsOnThursday(t *testing.T) {
	currentWeek := academic.WeekOf(testThursday)
	submitted := testOffering("submitted@example.edu")
	missing := testOffering("missing@example.edu")

	logs := &fakeLogs{weeks: map[uuid.UUID][]int{submitted.ID: {currentWeek}}}
	queueSvc := &fakeQueueService{}

	jobIface, err := NewDeadlineWarningJob(DeadlineWarningJobParams{
		Logger:       testLogger(),
		Allocations:  &fakeAllocations{offerings: []models.CourseOffering{submitted, missing}},
		ActivityLogs: logs,
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewDeadlineWarningJob: %v", err)
	}
	job := jobIface.(*deadlineWarningJob)
	job.now = func() time.Time { return testThursday }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(queueSvc.warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(queueSvc.warnings))
	}
	if queueSvc.warnings[0].allocationID != missing.ID {
		t.Fatalf("warning for wrong offering")
	}
	if queueSvc.warnings[0].week != currentWeek {
		t.Fatalf("expected week %d, got %d", currentWeek, queueSvc.warnings[0].week)
	}
}

func TestDeadlineWarningJobSkipsOffDays(t *testing.T) {
	queueSvc := &fakeQueueService{}
	jobIface, err := NewDeadlineWarningJob(DeadlineWarningJobParams{
		Logger:       testLogger(),
		Allocations:  &fakeAllocations{offerings: []models.CourseOffering{testOffering("f@example.edu")}},
		ActivityLogs: &fakeLogs{},
		Queue:        queueSvc,
	})
	if err != nil {
		t.Fatalf("NewDeadlineWarningJob: %v", err)
	}
	job := jobIface.(*deadlineWarningJob)
	job.now = func() time.Time { return testMonday }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(queueSvc.warnings) != 0 {
		t.Fatalf("expected no warnings on Monday, got %d", len(queueSvc.warnings))
	}
}

type fakeHygieneTarget struct {
	stats     map[string]queue.Stats
	cleaned   int
	cleanErr  error
	lastAge   time.Duration
	cleanRuns int
}

func (f *fakeHygieneTarget) QueueStats(context.Context) (map[string]queue.Stats, error) {
	return f.stats, nil
}

func (f *fakeHygieneTarget) CleanOldJobs(_ context.Context, maxAge time.Duration) (int, error) {
	f.cleanRuns++
	f.lastAge = maxAge
	return f.cleaned, f.cleanErr
}

func TestQueueHygieneJobCleansWithConfiguredAge(t *testing.T) {
	target := &fakeHygieneTarget{
		stats:   map[string]queue.Stats{"facilitatorReminders": {Completed: 3}},
		cleaned: 7,
	}
	job, err := NewQueueHygieneJob(QueueHygieneJobParams{
		Logger: testLogger(),
		Queue:  target,
		MaxAge: 12 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewQueueHygieneJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if target.cleanRuns != 1 {
		t.Fatalf("expected one clean run, got %d", target.cleanRuns)
	}
	if target.lastAge != 12*time.Hour {
		t.Fatalf("expected 12h max age, got %s", target.lastAge)
	}
}

func TestQueueHygieneJobPropagatesCleanErrors(t *testing.T) {
	job, err := NewQueueHygieneJob(QueueHygieneJobParams{
		Logger: testLogger(),
		Queue:  &fakeHygieneTarget{cleanErr: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewQueueHygieneJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeReaper struct {
	lastCutoff time.Time
	deleted    int64
	err        error
	calls      int
}

func (f *fakeReaper) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.lastCutoff = cutoff
	return f.deleted, f.err
}

func TestNotificationRetentionJobUsesCutoff(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	reaper := &fakeReaper{deleted: 42}
	jobIface, err := NewNotificationRetentionJob(NotificationRetentionJobParams{
		Logger:     testLogger(),
		Repository: reaper,
	})
	if err != nil {
		t.Fatalf("NewNotificationRetentionJob: %v", err)
	}
	job := jobIface.(*notificationRetentionJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expected := now.Add(-notificationRetentionDays * 24 * time.Hour)
	if !reaper.lastCutoff.Equal(expected) {
		t.Fatalf("expected cutoff %s, got %s", expected, reaper.lastCutoff)
	}
	if reaper.calls != 1 {
		t.Fatalf("expected one call, got %d", reaper.calls)
	}
}

func TestNotificationRetentionJobPropagatesErrors(t *testing.T) {
	jobIface, err := NewNotificationRetentionJob(NotificationRetentionJobParams{
		Logger:     testLogger(),
		Repository: &fakeReaper{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewNotificationRetentionJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
