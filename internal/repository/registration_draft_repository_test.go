package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/erp-registration-api/internal/models"
)

func newRegistrationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var registrationDraftColumnNames = []string{
	"id", "student_id", "school_id", "course_ids", "registration_kind", "academic_year", "notes",
	"current_step", "completed_steps", "enrollment_id", "semester_registration_id", "course_registrations",
	"last_error", "claim_token", "submitting_until", "version", "created_at", "updated_at",
}

func TestRegistrationDraftRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_drafts")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.RegistrationDraftRecord{
		StudentID:        "stu-1",
		CourseIDs:        pq.StringArray{},
		RegistrationKind: models.RegistrationKindNewSemester,
		CurrentStep:      models.StepSchoolSelection,
	}
	require.NoError(t, repo.Create(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, 1, record.Version)
	assert.JSONEq(t, `[]`, string(record.CourseRegistrations))

	now := time.Now()
	rows := sqlmock.NewRows(registrationDraftColumnNames).
		AddRow(record.ID, "stu-1", "sch-eng", "{c1,c2}", "NEW_SEMESTER", "2024-25", nil,
			"REVIEW", "{enrollment}", "enr-1", nil, `[]`, nil, "claim-1", now.Add(time.Minute), 3, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_drafts WHERE id = $1")).
		WithArgs(record.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	require.NotNil(t, found.SchoolID)
	assert.Equal(t, "sch-eng", *found.SchoolID)
	assert.Equal(t, pq.StringArray{"c1", "c2"}, found.CourseIDs)
	assert.Equal(t, pq.StringArray{"enrollment"}, found.CompletedSteps)
	assert.Equal(t, 3, found.Version)
	require.NotNil(t, found.ClaimToken)
	assert.Equal(t, "claim-1", *found.ClaimToken)
	require.NotNil(t, found.SubmittingUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryFindMissing(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_drafts WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(registrationDraftColumnNames))

	_, err := repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(registrationDraftColumnNames).
		AddRow("draft-2", "stu-1", nil, "{}", "NEW_SEMESTER", "", nil,
			"SCHOOL_SELECTION", "{}", nil, nil, `[]`, nil, nil, nil, 1, now, now).
		AddRow("draft-1", "stu-1", "sch-eng", "{c1}", "NEW_SEMESTER", "2024-25", nil,
			"REVIEW", "{}", nil, nil, `[]`, nil, nil, nil, 4, now, now.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 ORDER BY updated_at DESC")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	records, err := repo.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "draft-2", records[0].ID)
	assert.Nil(t, records[0].SchoolID)
	assert.Nil(t, records[1].ClaimToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryUpdateBumpsVersion(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	record := &models.RegistrationDraftRecord{ID: "draft-1", Version: 2, CurrentStep: models.StepCourseSelection}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_drafts SET")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil, "draft-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), record))
	assert.Equal(t, 3, record.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryUpdateDetectsStaleVersion(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	record := &models.RegistrationDraftRecord{ID: "draft-1", Version: 2}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_drafts SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(submitting_until >= NOW(), FALSE)")).
		WithArgs("draft-1").
		WillReturnRows(sqlmock.NewRows([]string{"leased"}).AddRow(false))

	err := repo.Update(context.Background(), record)
	require.ErrorIs(t, err, ErrStaleDraft)
	assert.Equal(t, 2, record.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryUpdateMissingDraft(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registration_drafts SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(submitting_until >= NOW(), FALSE)")).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"leased"}))

	err := repo.Update(context.Background(), &models.RegistrationDraftRecord{ID: "gone", Version: 1})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryUpdateRefusesLeasedDraft(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	token := "claim-2"
	until := time.Now().Add(time.Minute)
	record := &models.RegistrationDraftRecord{ID: "draft-1", Version: 4, ClaimToken: &token, SubmittingUntil: &until}
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $15 AND version = $16 AND (submitting_until IS NULL OR submitting_until < NOW())")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(submitting_until >= NOW(), FALSE)")).
		WithArgs("draft-1").
		WillReturnRows(sqlmock.NewRows([]string{"leased"}).AddRow(true))

	err := repo.Update(context.Background(), record)
	require.ErrorIs(t, err, ErrDraftClaimed)
	assert.Equal(t, 4, record.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryUpdateClaimedReleasesLease(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	record := &models.RegistrationDraftRecord{ID: "draft-1", Version: 5, CurrentStep: models.StepConfirmation}
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $15 AND version = $16 AND claim_token = $17")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil, "draft-1", 5, "claim-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateClaimed(context.Background(), record, "claim-1"))
	assert.Equal(t, 6, record.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationDraftRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationDraftRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registration_drafts")).
		WithArgs("draft-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registration_drafts")).
		WithArgs("draft-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "draft-1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "draft-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationEventRepositoryCreateAndList(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	repo := NewRegistrationEventRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_events")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &models.RegistrationEvent{DraftID: "draft-1", StudentID: "stu-1", Type: models.RegistrationEventStarted, Step: models.StepSchoolSelection}
	require.NoError(t, repo.Create(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.JSONEq(t, `{}`, string(event.Payload))

	rows := sqlmock.NewRows([]string{"id", "draft_id", "student_id", "event_type", "step", "payload", "created_at"}).
		AddRow(event.ID, "draft-1", "stu-1", "STARTED", "SCHOOL_SELECTION", `{}`, time.Now()).
		AddRow("evt-2", "draft-1", "stu-1", "ADVANCED", "COURSE_SELECTION", `{"from":"SCHOOL_SELECTION"}`, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM registration_events WHERE draft_id = $1")).
		WithArgs("draft-1").
		WillReturnRows(rows)

	events, err := repo.ListByDraft(context.Background(), "draft-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.RegistrationEventAdvanced, events[1].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}
