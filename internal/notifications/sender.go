package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Kosisookeke/course-management/pkg/db/models"
	pkgerrors "github.com/Kosisookeke/course-management/pkg/errors"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

// Sender delivers one notification to its recipient through some channel.
type Sender interface {
	Send(ctx context.Context, notification *models.Notification) error
}

type logSender struct {
	logg *logger.Logger
}

// NewLogSender returns a Sender that writes the notification to the log.
// It stands in for a real email/SMS/push provider.
func NewLogSender(logg *logger.Logger) Sender {
	return &logSender{logg: logg}
}

func (s *logSender) Send(ctx context.Context, notification *models.Notification) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"notification_id": notification.ID.String(),
		"type":            string(notification.Type),
		"recipient":       notification.Recipient.Email,
		"title":           notification.Title,
	})
	s.logg.Info(logCtx, "notification sent")
	return nil
}

type breakerSender struct {
	inner Sender
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerSender wraps a Sender with a circuit breaker so a struggling
// delivery channel fails fast instead of burning every job's retry budget.
func NewBreakerSender(inner Sender, logg *logger.Logger) Sender {
	settings := gobreaker.Settings{
		Name:        "notification-sender",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logCtx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(logCtx, "sender circuit state changed")
		},
	}
	return &breakerSender{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (s *breakerSender) Send(ctx context.Context, notification *models.Notification) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.inner.Send(ctx, notification)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return pkgerrors.Wrap(pkgerrors.CodeSendFailed, err, "delivery channel unavailable")
		}
		return err
	}
	return nil
}
