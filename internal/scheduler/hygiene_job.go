package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

const defaultJobMaxAge = 24 * time.Hour

type hygieneTarget interface {
	QueueStats(ctx context.Context) (map[string]queue.Stats, error)
	CleanOldJobs(ctx context.Context, maxAge time.Duration) (int, error)
}

// QueueHygieneJobParams wires the hourly queue hygiene trigger.
type QueueHygieneJobParams struct {
	Logger *logger.Logger
	Queue  hygieneTarget
	MaxAge time.Duration
}

// NewQueueHygieneJob builds the trigger that reports queue stats and trims
// finished jobs past the retention window. Runs every cycle.
func NewQueueHygieneJob(params QueueHygieneJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("notification queue service required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultJobMaxAge
	}
	return &queueHygieneJob{
		logg:   params.Logger,
		queue:  params.Queue,
		maxAge: maxAge,
	}, nil
}

type queueHygieneJob struct {
	logg   *logger.Logger
	queue  hygieneTarget
	maxAge time.Duration
}

func (j *queueHygieneJob) Name() string { return "queue-hygiene" }

func (j *queueHygieneJob) Run(ctx context.Context) error {
	stats, err := j.queue.QueueStats(ctx)
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}
	for name, qs := range stats {
		statsCtx := j.logg.WithFields(ctx, map[string]any{
			"queue":     name,
			"waiting":   qs.Waiting,
			"active":    qs.Active,
			"completed": qs.Completed,
			"failed":    qs.Failed,
			"delayed":   qs.Delayed,
		})
		j.logg.Info(statsCtx, "queue statistics")
	}

	cleaned, err := j.queue.CleanOldJobs(ctx, j.maxAge)
	if err != nil {
		return fmt.Errorf("clean old jobs: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"max_age":      j.maxAge.String(),
		"jobs_cleaned": cleaned,
	})
	j.logg.Info(logCtx, "queue hygiene complete")
	return nil
}
