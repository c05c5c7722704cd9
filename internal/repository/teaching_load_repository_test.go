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

func TestTeachingLoadRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingLoadRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE institution_id = $1 AND academic_year_id = $2 AND scheduling_status = ANY($3) ORDER BY priority_level ASC, id ASC")).
		WithArgs("inst-1", "2026", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "institution_id", "weekly_hours", "scheduling_status"}).
			AddRow("l1", "inst-1", 4, "ready"))

	loads, err := repo.List(context.Background(), models.TeachingLoadFilter{
		InstitutionID:  "inst-1",
		AcademicYearID: "2026",
		Statuses:       []models.LoadStatus{models.LoadStatusReady},
	})
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, 4, loads[0].WeeklyHours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingLoadRepositoryMarkScheduled(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingLoadRepository(db)

	at := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("SET scheduling_status = $1, is_scheduled = TRUE")).
		WithArgs(models.LoadStatusScheduled, "sched-1", at, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.MarkScheduled(context.Background(), nil, []string{"l1", "l2"}, "sched-1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingLoadRepositoryResetStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingLoadRepository(db)

	require.NoError(t, repo.ResetStatus(context.Background(), nil, "inst-1", nil))

	mock.ExpectExec(regexp.QuoteMeta("WHERE institution_id = $3 AND id = ANY($4)")).
		WithArgs(models.LoadStatusPending, sqlmock.AnyArg(), "inst-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.ResetStatus(context.Background(), nil, "inst-1", []string{"gone"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeachingLoadRepositoryUpdateStatusScopedToInstitution(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeachingLoadRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE teaching_loads SET scheduling_status = $1, updated_at = $2 WHERE institution_id = $3 AND id = ANY($4)")).
		WithArgs(models.LoadStatusReady, sqlmock.AnyArg(), "inst-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), nil, "inst-2", []string{"l9"}, models.LoadStatusReady))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomRepositoryListByInstitution(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRoomRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM rooms WHERE institution_id = $1 AND is_active = TRUE ORDER BY id")).
		WithArgs("inst-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "institution_id", "name", "capacity", "has_projector", "has_computer", "has_lab_equipment"}).
			AddRow("r-1", "inst-1", "Lab 1", 32, true, true, true))

	rooms, err := repo.ListByInstitution(context.Background(), "inst-1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.True(t, rooms[0].Supports(true, true, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}
