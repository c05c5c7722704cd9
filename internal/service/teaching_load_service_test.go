package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func newLoadFixture() (*TeachingLoadService, *loadRepoStub) {
	loads := &loadRepoStub{items: []models.TeachingLoad{
		{ID: "l1", InstitutionID: "inst-1", TeacherID: "t1", SubjectID: "math", ClassID: "c1", WeeklyHours: 4},
		{ID: "l2", InstitutionID: "inst-1", TeacherID: "t1", SubjectID: "bio", ClassID: "c2", WeeklyHours: 2},
		{ID: "l3", InstitutionID: "inst-2", TeacherID: "t9", SubjectID: "art", ClassID: "c9", WeeklyHours: 2},
	}}
	return NewTeachingLoadService(loads, nil, zap.NewNop()), loads
}

func TestTeachingLoadServiceListRequiresInstitution(t *testing.T) {
	svc, _ := newLoadFixture()

	_, err := svc.List(context.Background(), models.TeachingLoadFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	loads, err := svc.List(context.Background(), models.TeachingLoadFilter{InstitutionID: "inst-1"})
	require.NoError(t, err)
	assert.Len(t, loads, 2)
}

func TestTeachingLoadServiceStatistics(t *testing.T) {
	svc, _ := newLoadFixture()

	stats, err := svc.Statistics(context.Background(), models.TeachingLoadFilter{InstitutionID: "inst-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalLoads)
	assert.Equal(t, 6, stats.TotalWeeklyHours)
	assert.Equal(t, 1, stats.UniqueTeachers)
	assert.Equal(t, 2, stats.UniqueSubjects)
	assert.Equal(t, 6, stats.TeacherHours["t1"])
}

func TestTeachingLoadServiceStatusWriteBack(t *testing.T) {
	svc, loads := newLoadFixture()
	ctx := context.Background()

	require.NoError(t, svc.MarkReady(ctx, dto.TeachingLoadStatusRequest{InstitutionID: "inst-1", TeachingLoadIDs: []string{"l1", "l2", "l1"}}))
	assert.Equal(t, models.LoadStatusReady, loads.statuses["l1"])
	assert.Equal(t, models.LoadStatusReady, loads.statuses["l2"])

	require.NoError(t, svc.ResetStatus(ctx, dto.TeachingLoadStatusRequest{InstitutionID: "inst-1", TeachingLoadIDs: []string{"l2"}}))
	assert.Equal(t, models.LoadStatusPending, loads.statuses["l2"])

	err := svc.MarkReady(ctx, dto.TeachingLoadStatusRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTeachingLoadServiceStatusIgnoresOtherInstitutions(t *testing.T) {
	svc, loads := newLoadFixture()
	ctx := context.Background()

	err := svc.ResetStatus(ctx, dto.TeachingLoadStatusRequest{InstitutionID: "inst-1", TeachingLoadIDs: []string{"l3"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	_, touched := loads.statuses["l3"]
	assert.False(t, touched)

	require.NoError(t, svc.MarkReady(ctx, dto.TeachingLoadStatusRequest{InstitutionID: "inst-1", TeachingLoadIDs: []string{"l1", "l3"}}))
	assert.Equal(t, models.LoadStatusReady, loads.statuses["l1"])
	_, touched = loads.statuses["l3"]
	assert.False(t, touched)
}
