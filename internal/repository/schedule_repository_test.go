package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

func TestScheduleRepositoryCreateVersioned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) + 1 FROM schedules")).
		WithArgs("inst-1", "2026").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedules")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	schedule := &models.Schedule{InstitutionID: "inst-1", AcademicYearID: "2026", CreatedBy: "admin-1"}
	require.NoError(t, repo.CreateVersioned(context.Background(), nil, schedule))

	assert.Equal(t, 3, schedule.Version)
	assert.NotEmpty(t, schedule.ID)
	assert.Equal(t, models.ScheduleStatusDraft, schedule.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreateVersionedRequiresScope(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()

	err := NewScheduleRepository(db).CreateVersioned(context.Background(), nil, &models.Schedule{InstitutionID: "inst-1"})
	assert.Error(t, err)
}

func TestScheduleRepositoryListByInstitutionYear(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "institution_id", "academic_year_id", "version", "status", "template_id", "statistics", "created_by", "created_at", "updated_at"}).
		AddRow("sched-2", "inst-1", "2026", 2, "draft", nil, []byte(`{"total_sessions":30}`), "admin-1", now, now).
		AddRow("sched-1", "inst-1", "2026", 1, "archived", nil, []byte(`{}`), "admin-1", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY version DESC")).
		WithArgs("inst-1", "2026").
		WillReturnRows(rows)

	schedules, err := repo.ListByInstitutionYear(context.Background(), "inst-1", "2026")
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, 2, schedules[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryUpdateStatisticsMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET statistics")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatistics(context.Background(), nil, "missing", models.GenerationStatistics{})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
