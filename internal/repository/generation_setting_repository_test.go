package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

func TestGenerationSettingRepositoryFindByInstitution(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationSettingRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "institution_id", "working_days", "daily_periods", "period_duration_minutes",
		"break_periods", "lunch_break_period", "first_period_start", "break_duration_minutes", "lunch_duration_minutes",
		"generation_preferences", "created_at", "updated_at"}).
		AddRow("set-1", "inst-1", []byte(`[1,2,3,4,5]`), 8, 45, []byte(`[3]`), 5, "07:30", 10, 30,
			[]byte(`{"max_consecutive_hours":3}`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedule_generation_settings WHERE institution_id = $1")).
		WithArgs("inst-1").
		WillReturnRows(rows)

	setting, err := repo.FindByInstitution(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntList{1, 2, 3, 4, 5}, setting.WorkingDays)
	require.NotNil(t, setting.LunchBreakPeriod)
	assert.Equal(t, 5, *setting.LunchBreakPeriod)
	assert.Equal(t, 3, setting.GenerationPreferences.MaxConsecutiveHours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationSettingRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationSettingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (institution_id) DO UPDATE")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	setting := &models.ScheduleGenerationSetting{InstitutionID: "inst-1", WorkingDays: models.IntList{1, 2, 3}, DailyPeriods: 6}
	require.NoError(t, repo.Upsert(context.Background(), setting))
	assert.NotEmpty(t, setting.ID)
	assert.False(t, setting.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
