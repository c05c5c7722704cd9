package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/pkg/jobs"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
)

const (
	jobTypeBlockingConflict = "conflict.blocking"
	jobTypeConflictReminder = "conflict.reminder"
)

// ConflictNotification is the payload handed to the delivery collaborator.
type ConflictNotification struct {
	ConflictID  string    `json:"conflict_id"`
	ScheduleID  string    `json:"schedule_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	Title       string    `json:"title"`
	ImpactScore int       `json:"impact_score"`
	Reminder    bool      `json:"reminder"`
	DetectedAt  time.Time `json:"detected_at"`
}

func notificationFor(c models.ScheduleConflict, reminder bool) ConflictNotification {
	return ConflictNotification{
		ConflictID:  c.ID,
		ScheduleID:  c.ScheduleID,
		Type:        string(c.ConflictType),
		Severity:    string(c.Severity),
		Status:      string(c.Status),
		Title:       c.Title,
		ImpactScore: c.ImpactScore,
		Reminder:    reminder,
		DetectedAt:  c.CreatedAt,
	}
}

// Notifier delivers a notification to the outside world.
type Notifier interface {
	Notify(ctx context.Context, n ConflictNotification) error
}

type listPusher interface {
	Push(ctx context.Context, key string, value interface{}) error
}

// RedisNotifier publishes notifications onto a Redis list consumed by the delivery service.
type RedisNotifier struct {
	list listPusher
	key  string
}

// NewRedisNotifier constructs the publisher.
func NewRedisNotifier(list listPusher, key string) *RedisNotifier {
	return &RedisNotifier{list: list, key: key}
}

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, notification ConflictNotification) error {
	return n.list.Push(ctx, n.key, notification)
}

// LogNotifier writes notifications to the log. Used when Redis is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs the notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, notification ConflictNotification) error {
	n.logger.Info("blocking conflict notification",
		zap.String("conflict_id", notification.ConflictID),
		zap.String("schedule_id", notification.ScheduleID),
		zap.String("severity", notification.Severity),
		zap.Bool("reminder", notification.Reminder),
	)
	return nil
}

type notificationStore interface {
	ListUnnotifiedBlocking(ctx context.Context, cutoff time.Time, limit int) ([]models.ScheduleConflict, error)
	MarkNotified(ctx context.Context, id string, at time.Time) error
}

// NotificationConfig tunes dispatch.
type NotificationConfig struct {
	Workers          int
	Retries          int
	RemindersEnabled bool
	ReminderSchedule string
	ReminderAge      time.Duration
	ReminderBatch    int
}

// NotificationService dispatches blocking conflicts asynchronously and runs the reminder sweep.
type NotificationService struct {
	notifier Notifier
	store    notificationStore
	metrics  *MetricsService
	logger   *zap.Logger
	clock    Clock
	cfg      NotificationConfig
	queue    *jobs.Queue
	cron     *cron.Cron
}

// NewNotificationService wires the queue around notifier.
func NewNotificationService(notifier Notifier, store notificationStore, metrics *MetricsService, logger *zap.Logger, clock Clock, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if cfg.ReminderAge <= 0 {
		cfg.ReminderAge = 24 * time.Hour
	}
	if cfg.ReminderBatch <= 0 {
		cfg.ReminderBatch = 100
	}
	s := &NotificationService{notifier: notifier, store: store, metrics: metrics, logger: logger, clock: clock, cfg: cfg}
	s.queue = jobs.NewQueue("conflict-notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		Logger:     logger,
	})
	return s
}

// Start launches the workers and, when enabled, the reminder schedule.
func (s *NotificationService) Start(ctx context.Context) error {
	s.queue.Start(ctx)
	if !s.cfg.RemindersEnabled {
		return nil
	}
	cronLog := logger.Cron(s.logger)
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(s.cfg.ReminderSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := s.SweepReminders(sweepCtx); err != nil {
			s.logger.Warn("conflict reminder sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule conflict reminders: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("conflict reminders scheduled", zap.String("schedule", s.cfg.ReminderSchedule))
	return nil
}

// Stop halts the reminder schedule and drains the workers.
func (s *NotificationService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.queue.Stop()
}

// NotifyBlocking enqueues every blocking conflict. A full queue drops the notification; the reminder sweep catches it later.
func (s *NotificationService) NotifyBlocking(conflicts []models.ScheduleConflict) {
	for _, c := range conflicts {
		if !c.IsGating() {
			continue
		}
		s.enqueue(jobTypeBlockingConflict, notificationFor(c, false))
	}
}

// SweepReminders re-enqueues open blocking conflicts that have not been notified within the reminder age.
func (s *NotificationService) SweepReminders(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-s.cfg.ReminderAge)
	conflicts, err := s.store.ListUnnotifiedBlocking(ctx, cutoff, s.cfg.ReminderBatch)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, c := range conflicts {
		if s.enqueue(jobTypeConflictReminder, notificationFor(c, true)) {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Info("conflict reminders queued", zap.Int("count", queued))
	}
	return queued, nil
}

func (s *NotificationService) enqueue(jobType string, n ConflictNotification) bool {
	if err := s.queue.TryEnqueue(jobs.Job{Type: jobType, Payload: n}); err != nil {
		s.metrics.RecordNotification("dropped")
		s.logger.Warn("conflict notification dropped", zap.String("conflict_id", n.ConflictID), zap.Error(err))
		return false
	}
	return true
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(ConflictNotification)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.metrics.RecordNotification("failed")
		return err
	}
	s.metrics.RecordNotification("delivered")
	if s.store != nil {
		if err := s.store.MarkNotified(ctx, n.ConflictID, s.clock.Now()); err != nil {
			s.logger.Warn("mark conflict notified failed", zap.String("conflict_id", n.ConflictID), zap.Error(err))
		}
	}
	return nil
}
