package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-result-api/internal/models"
	"github.com/noah-isme/lab-result-api/pkg/config"
	"github.com/noah-isme/lab-result-api/pkg/jobs"
)

// NotificationDispatcher hands committed result events to downstream systems.
// Dispatch never reports failure to the caller.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification models.ResultNotification)
}

// NotificationPublisher delivers one notification.
type NotificationPublisher interface {
	Publish(ctx context.Context, notification models.ResultNotification) error
}

// QueueNotificationDispatcher publishes notifications from a background worker queue.
type QueueNotificationDispatcher struct {
	queue     *jobs.Queue[models.ResultNotification]
	publisher NotificationPublisher
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewQueueNotificationDispatcher constructs the dispatcher. Call Start before use.
func NewQueueNotificationDispatcher(publisher NotificationPublisher, cfg config.NotificationsConfig, metrics *MetricsService, logger *zap.Logger) *QueueNotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &QueueNotificationDispatcher{publisher: publisher, metrics: metrics, logger: logger}
	d.queue = jobs.NewQueue[models.ResultNotification]("result-notifications", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return d
}

// Start launches the workers.
func (d *QueueNotificationDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for in-flight deliveries to finish.
func (d *QueueNotificationDispatcher) Stop() {
	d.queue.Stop()
}

// Dispatch enqueues the notification without blocking the request.
func (d *QueueNotificationDispatcher) Dispatch(ctx context.Context, notification models.ResultNotification) {
	err := d.queue.TryEnqueue(jobs.Job[models.ResultNotification]{ID: notification.ID, Kind: string(notification.Type), Payload: notification})
	if err != nil {
		d.metrics.RecordNotification(string(notification.Type), "dropped")
		d.logger.Warn("result notification dropped",
			zap.String("notification_id", notification.ID),
			zap.String("result_id", notification.ResultID),
			zap.String("type", string(notification.Type)),
			zap.Error(err),
		)
		return
	}
	d.metrics.RecordNotification(string(notification.Type), "queued")
}

func (d *QueueNotificationDispatcher) handle(ctx context.Context, job jobs.Job[models.ResultNotification]) error {
	if err := d.publisher.Publish(ctx, job.Payload); err != nil {
		d.metrics.RecordNotification(job.Kind, "failed")
		return fmt.Errorf("publish notification %s: %w", job.ID, err)
	}
	d.metrics.RecordNotification(job.Kind, "delivered")
	return nil
}

// LogNotificationDispatcher only logs notifications; used when delivery is disabled.
type LogNotificationDispatcher struct {
	logger *zap.Logger
}

// NewLogNotificationDispatcher constructs the dispatcher.
func NewLogNotificationDispatcher(logger *zap.Logger) *LogNotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationDispatcher{logger: logger}
}

// Dispatch logs the notification.
func (d *LogNotificationDispatcher) Dispatch(ctx context.Context, notification models.ResultNotification) {
	d.logger.Info("result notification",
		zap.String("type", string(notification.Type)),
		zap.String("result_id", notification.ResultID),
		zap.String("status", string(notification.Status)),
	)
}
