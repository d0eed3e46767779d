package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/erp-registration-api/internal/dto"
	"github.com/noah-isme/erp-registration-api/internal/models"
	"github.com/noah-isme/erp-registration-api/internal/service"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
)

type registrationServiceMock struct {
	draft       *models.RegistrationDraft
	drafts      []models.RegistrationDraft
	outcome     *service.AdvanceOutcome
	cancel      *service.CancelOutcome
	err         error
	lastID      string
	lastCourse  string
	lastStudent string
	startReq    dto.StartRegistrationRequest
}

func (m *registrationServiceMock) Start(ctx context.Context, req dto.StartRegistrationRequest) (*models.RegistrationDraft, error) {
	m.startReq = req
	return m.draft, m.err
}

func (m *registrationServiceMock) Get(ctx context.Context, id string) (*models.RegistrationDraft, error) {
	m.lastID = id
	return m.draft, m.err
}

func (m *registrationServiceMock) ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDraft, error) {
	m.lastStudent = studentID
	return m.drafts, m.err
}

func (m *registrationServiceMock) SelectSchool(ctx context.Context, id string, req dto.SelectSchoolRequest) (*models.RegistrationDraft, error) {
	m.lastID = id
	return m.draft, m.err
}

func (m *registrationServiceMock) ToggleCourse(ctx context.Context, id, courseID string) (*models.RegistrationDraft, error) {
	m.lastID = id
	m.lastCourse = courseID
	return m.draft, m.err
}

func (m *registrationServiceMock) SetMetadata(ctx context.Context, id string, req dto.RegistrationMetadataRequest) (*models.RegistrationDraft, error) {
	m.lastID = id
	return m.draft, m.err
}

func (m *registrationServiceMock) Advance(ctx context.Context, id string) (*service.AdvanceOutcome, error) {
	m.lastID = id
	return m.outcome, m.err
}

func (m *registrationServiceMock) Submit(ctx context.Context, id string) (*service.AdvanceOutcome, error) {
	m.lastID = id
	return m.outcome, m.err
}

func (m *registrationServiceMock) Retreat(ctx context.Context, id string) (*models.RegistrationDraft, error) {
	m.lastID = id
	return m.draft, m.err
}

func (m *registrationServiceMock) Cancel(ctx context.Context, id string) (*service.CancelOutcome, error) {
	m.lastID = id
	return m.cancel, m.err
}

func (m *registrationServiceMock) Events(ctx context.Context, id string) ([]models.RegistrationEvent, error) {
	return []models.RegistrationEvent{}, m.err
}

func newRegistrationRouter(mock *registrationServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewRegistrationHandler(mock)
	group := router.Group("/registrations")
	group.POST("", h.Start)
	group.GET("/:id", h.Get)
	group.PUT("/:id/school", h.SelectSchool)
	group.POST("/:id/courses/:courseId/toggle", h.ToggleCourse)
	group.POST("/:id/advance", h.Advance)
	group.POST("/:id/submit", h.Submit)
	group.DELETE("/:id", h.Cancel)
	router.GET("/students/:studentId/registrations", h.ListByStudent)
	return router
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestRegistrationHandlerStart(t *testing.T) {
	mock := &registrationServiceMock{draft: &models.RegistrationDraft{ID: "d-1", StudentID: "stu-1", CurrentStep: models.StepSchoolSelection}}
	router := newRegistrationRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/registrations", bytes.NewBufferString(`{"studentId":"stu-1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "stu-1", mock.startReq.StudentID)
	var draft models.RegistrationDraft
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &draft))
	assert.Equal(t, "d-1", draft.ID)
}

func TestRegistrationHandlerListByStudent(t *testing.T) {
	mock := &registrationServiceMock{drafts: []models.RegistrationDraft{
		{ID: "d-2", StudentID: "stu-1", CurrentStep: models.StepReview},
		{ID: "d-1", StudentID: "stu-1", CurrentStep: models.StepSchoolSelection},
	}}
	router := newRegistrationRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/students/stu-1/registrations", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", mock.lastStudent)
	var drafts []models.RegistrationDraft
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &drafts))
	require.Len(t, drafts, 2)
	assert.Equal(t, "d-2", drafts[0].ID)
}

func TestRegistrationHandlerInvalidBody(t *testing.T) {
	router := newRegistrationRouter(&registrationServiceMock{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/registrations/d-1/school", bytes.NewBufferString(`{"schoolId":`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, w).Error.Code)
}

func TestRegistrationHandlerToggleCourse(t *testing.T) {
	mock := &registrationServiceMock{draft: &models.RegistrationDraft{ID: "d-1"}}
	router := newRegistrationRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/registrations/d-1/courses/eng-101/toggle", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "d-1", mock.lastID)
	assert.Equal(t, "eng-101", mock.lastCourse)
}

func TestRegistrationHandlerAdvanceViolations(t *testing.T) {
	mock := &registrationServiceMock{outcome: &service.AdvanceOutcome{
		Draft:      models.RegistrationDraft{ID: "d-1", CurrentStep: models.StepCourseSelection},
		Violations: []models.Violation{{Code: models.ViolationEmptySelection, Message: "select at least one course"}},
	}}
	router := newRegistrationRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/registrations/d-1/advance", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var payload dto.AdvanceResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &payload))
	assert.False(t, payload.Moved)
	require.Len(t, payload.Violations, 1)
	assert.Equal(t, models.ViolationEmptySelection, payload.Violations[0].Code)
}

func TestRegistrationHandlerAdvanceMoved(t *testing.T) {
	mock := &registrationServiceMock{outcome: &service.AdvanceOutcome{
		Draft: models.RegistrationDraft{ID: "d-1", CurrentStep: models.StepMetadataEntry},
		Moved: true,
	}}
	router := newRegistrationRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/registrations/d-1/advance", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload dto.AdvanceResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &payload))
	assert.True(t, payload.Moved)
	assert.NotNil(t, payload.Violations)
	assert.Equal(t, models.StepMetadataEntry, payload.Draft.CurrentStep)
}

func TestRegistrationHandlerSubmitFailure(t *testing.T) {
	result := models.SubmissionResult{}.WithEnrollment("enr-1").WithSemesterRegistration("sem-1").WithCourseRegistration("a", "reg-a")
	subErr := &service.SubmissionError{
		Kind:         service.SubmissionCourseRegistrationFailed,
		Courses:      []service.CourseFailure{{CourseID: "b", Reason: service.ConflictReasonCapacity, Message: "full", Err: appErrors.ErrCapacityConflict}},
		Result:       result,
		TotalCourses: 2,
		Err:          appErrors.ErrCapacityConflict,
	}
	mock := &registrationServiceMock{
		outcome: &service.AdvanceOutcome{Draft: models.RegistrationDraft{ID: "d-1", CurrentStep: models.StepReview, Result: &result}},
		err:     subErr,
	}
	router := newRegistrationRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/registrations/d-1/submit", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadGateway, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrSubmissionFailed.Code, env.Error.Code)
	assert.Equal(t, subErr.Summary(), env.Error.Message)

	var payload dto.AdvanceResponse
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.NotNil(t, payload.Failure)
	assert.Equal(t, "COURSE_REGISTRATION_FAILED", payload.Failure.Kind)
	assert.True(t, payload.Failure.RequiresReselection)
	assert.Equal(t, []string{"course:a", "enrollment", "semester_registration"}, payload.Failure.CompletedSteps)
	assert.Equal(t, "b", payload.Failure.Courses[0].CourseID)
}

func TestRegistrationHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		method string
		path   string
		status int
	}{
		{name: "not found", err: appErrors.Clone(appErrors.ErrNotFound, "registration not found"), method: http.MethodGet, path: "/registrations/x", status: http.StatusNotFound},
		{name: "in flight", err: appErrors.ErrOperationInFlight, method: http.MethodPost, path: "/registrations/x/advance", status: http.StatusConflict},
		{name: "catalog down", err: appErrors.ErrCatalogUnavailable, method: http.MethodPost, path: "/registrations/x/submit", status: http.StatusServiceUnavailable},
		{name: "confirmed", err: appErrors.ErrIllegalTransition, method: http.MethodDelete, path: "/registrations/x", status: http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newRegistrationRouter(&registrationServiceMock{err: tc.err})
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(tc.method, tc.path, nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRegistrationHandlerCancelWarning(t *testing.T) {
	mock := &registrationServiceMock{cancel: &service.CancelOutcome{DraftID: "d-1", PartialRemoteState: true, Warning: "records already created in the ERP are kept: enrollment enr-1"}}
	router := newRegistrationRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/registrations/d-1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var outcome service.CancelOutcome
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &outcome))
	assert.True(t, outcome.PartialRemoteState)
	assert.Contains(t, outcome.Warning, "enr-1")
}
