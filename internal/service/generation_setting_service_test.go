package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type settingStoreStub struct {
	items map[string]models.ScheduleGenerationSetting
}

func (s *settingStoreStub) FindByInstitution(ctx context.Context, institutionID string) (*models.ScheduleGenerationSetting, error) {
	setting, ok := s.items[institutionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &setting, nil
}

func (s *settingStoreStub) Upsert(ctx context.Context, setting *models.ScheduleGenerationSetting) error {
	if s.items == nil {
		s.items = make(map[string]models.ScheduleGenerationSetting)
	}
	s.items[setting.InstitutionID] = *setting
	return nil
}

func TestGenerationSettingServiceFallsBackToDefault(t *testing.T) {
	svc := NewGenerationSettingService(&settingStoreStub{}, nil, zap.NewNop(), exampleSetting())

	view, err := svc.Get(context.Background(), "inst-9")
	require.NoError(t, err)
	assert.True(t, view.IsDefault)
	assert.Equal(t, "inst-9", view.Setting.InstitutionID)
	assert.Len(t, view.Grid.LessonSlots(), 30)
}

func TestGenerationSettingServiceUpdate(t *testing.T) {
	store := &settingStoreStub{}
	cache := newMemoryCacheStub()
	svc := NewGenerationSettingService(store, NewCacheService(cache, nil, time.Minute, zap.NewNop(), true), zap.NewNop(), exampleSetting())

	setting := exampleSetting()
	setting.InstitutionID = "spoofed"
	setting.DailyPeriods = 8

	view, err := svc.Update(context.Background(), "inst-1", setting)
	require.NoError(t, err)
	assert.False(t, view.IsDefault)
	assert.Equal(t, 8, store.items["inst-1"].DailyPeriods)
	assert.NotContains(t, store.items, "spoofed")
	assert.Equal(t, []string{"templates:inst-1:*"}, cache.invalidated)

	stored, err := svc.Get(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.False(t, stored.IsDefault)
	assert.Len(t, stored.Grid.LessonSlotsForDay(1), 8)
}

func TestGenerationSettingServiceRejectsInvalidGrid(t *testing.T) {
	store := &settingStoreStub{}
	svc := NewGenerationSettingService(store, nil, zap.NewNop(), exampleSetting())

	setting := exampleSetting()
	setting.DailyPeriods = 0
	setting.WorkingDays = models.IntList{1, 1}

	_, err := svc.Update(context.Background(), "inst-1", setting)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConfigurationInvalid.Code, appErr.Code)
	assert.NotEmpty(t, appErr.Details)
	assert.Empty(t, store.items)

	_, err = svc.Get(context.Background(), " ")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
