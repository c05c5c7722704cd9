package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

type recordingNotifier struct {
	mu       sync.Mutex
	received []ConflictNotification
	failures int
}

func (n *recordingNotifier) Notify(ctx context.Context, notification ConflictNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("delivery unavailable")
	}
	n.received = append(n.received, notification)
	return nil
}

func (n *recordingNotifier) snapshot() []ConflictNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ConflictNotification(nil), n.received...)
}

type notificationStoreStub struct {
	mu       sync.Mutex
	pending  []models.ScheduleConflict
	cutoff   time.Time
	notified map[string]time.Time
}

func (s *notificationStoreStub) ListUnnotifiedBlocking(ctx context.Context, cutoff time.Time, limit int) ([]models.ScheduleConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoff = cutoff
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *notificationStoreStub) MarkNotified(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified == nil {
		s.notified = make(map[string]time.Time)
	}
	s.notified[id] = at
	return nil
}

func (s *notificationStoreStub) notifiedAt(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.notified[id]
	return at, ok
}

func gatingConflict(id string) models.ScheduleConflict {
	c := pendingConflict(models.SeverityCritical)
	c.ID = id
	return c
}

func TestNotificationServiceDeliversOnlyGatingConflicts(t *testing.T) {
	notifier := &recordingNotifier{}
	store := &notificationStoreStub{}
	svc := NewNotificationService(notifier, store, nil, zap.NewNop(), fixedClock{now: fixedNow}, NotificationConfig{Workers: 1})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	low := pendingConflict(models.SeverityLow)
	low.ID = "c-low"
	resolved := gatingConflict("c-resolved")
	resolved.Status = models.ConflictStatusResolved

	svc.NotifyBlocking([]models.ScheduleConflict{gatingConflict("c-1"), low, resolved})

	require.Eventually(t, func() bool {
		_, ok := store.notifiedAt("c-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	received := notifier.snapshot()
	require.Len(t, received, 1)
	assert.Equal(t, "c-1", received[0].ConflictID)
	assert.Equal(t, string(models.SeverityCritical), received[0].Severity)
	assert.False(t, received[0].Reminder)

	at, _ := store.notifiedAt("c-1")
	assert.Equal(t, fixedNow, at)
}

func TestNotificationServiceRetriesFailedDelivery(t *testing.T) {
	notifier := &recordingNotifier{failures: 1}
	store := &notificationStoreStub{}
	svc := NewNotificationService(notifier, store, nil, zap.NewNop(), fixedClock{now: fixedNow}, NotificationConfig{Workers: 1, Retries: 2})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	svc.NotifyBlocking([]models.ScheduleConflict{gatingConflict("c-1")})

	require.Eventually(t, func() bool {
		_, ok := store.notifiedAt("c-1")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
	assert.Len(t, notifier.snapshot(), 1)
}

func TestNotificationServiceSweepRemindersRequeues(t *testing.T) {
	notifier := &recordingNotifier{}
	store := &notificationStoreStub{pending: []models.ScheduleConflict{gatingConflict("c-1"), gatingConflict("c-2"), gatingConflict("c-3")}}
	svc := NewNotificationService(notifier, store, nil, zap.NewNop(), fixedClock{now: fixedNow}, NotificationConfig{
		Workers:       1,
		ReminderAge:   2 * time.Hour,
		ReminderBatch: 2,
	})
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	queued, err := svc.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, fixedNow.Add(-2*time.Hour), store.cutoff)

	require.Eventually(t, func() bool { return len(notifier.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	for _, n := range notifier.snapshot() {
		assert.True(t, n.Reminder)
	}
}

func TestNotificationServiceDropsBeforeStart(t *testing.T) {
	notifier := &recordingNotifier{}
	store := &notificationStoreStub{pending: []models.ScheduleConflict{gatingConflict("c-1")}}
	svc := NewNotificationService(notifier, store, nil, zap.NewNop(), fixedClock{now: fixedNow}, NotificationConfig{})

	svc.NotifyBlocking([]models.ScheduleConflict{gatingConflict("c-1")})
	queued, err := svc.SweepReminders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Empty(t, notifier.snapshot())
}

func TestNotificationServiceRejectsBadReminderSchedule(t *testing.T) {
	svc := NewNotificationService(&recordingNotifier{}, nil, nil, zap.NewNop(), nil, NotificationConfig{
		RemindersEnabled: true,
		ReminderSchedule: "every now and then",
	})
	err := svc.Start(context.Background())
	require.Error(t, err)
	svc.Stop()
}

type listPusherStub struct {
	key    string
	values []interface{}
}

func (l *listPusherStub) Push(ctx context.Context, key string, value interface{}) error {
	l.key = key
	l.values = append(l.values, value)
	return nil
}

func TestRedisNotifierPushesOntoList(t *testing.T) {
	list := &listPusherStub{}
	notifier := NewRedisNotifier(list, "timetable:notifications")

	require.NoError(t, notifier.Notify(context.Background(), notificationFor(gatingConflict("c-1"), true)))
	assert.Equal(t, "timetable:notifications", list.key)
	require.Len(t, list.values, 1)
	assert.Equal(t, "c-1", list.values[0].(ConflictNotification).ConflictID)
}
