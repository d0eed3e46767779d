package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/erp-registration-api/internal/models"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/storage"
)

type confirmedDraftStub struct {
	drafts map[string]models.RegistrationDraft
}

func (s confirmedDraftStub) Get(ctx context.Context, id string) (*models.RegistrationDraft, error) {
	draft, ok := s.drafts[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	return &draft, nil
}

func confirmedDraft() models.RegistrationDraft {
	draft := readyDraft(offering("10", 4), offering("11", 3))
	result := models.SubmissionResult{}.
		WithEnrollment("enr-1").
		WithSemesterRegistration("sem-1").
		WithCourseRegistration("11", "reg-11").
		WithCourseRegistration("10", "reg-10")
	draft.Result = &result
	draft.CurrentStep = models.StepConfirmation
	draft.UpdatedAt = time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC)
	return draft
}

func newConfirmationFixture(t *testing.T, drafts ...models.RegistrationDraft) *ConfirmationService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	index := map[string]models.RegistrationDraft{}
	for _, draft := range drafts {
		index[draft.ID] = draft
	}
	return NewConfirmationService(confirmedDraftStub{drafts: index}, store, storage.NewSignedURLSigner("secret", time.Hour), nil)
}

func TestConfirmationSummary(t *testing.T) {
	draft := confirmedDraft()
	svc := newConfirmationFixture(t, draft)

	summary, err := svc.Summary(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "enr-1", summary.EnrollmentID)
	assert.Equal(t, "Engineering", summary.SchoolName)
	assert.Equal(t, 7, summary.TotalCredits)
	require.Len(t, summary.Courses, 2)
	assert.Equal(t, "10", summary.Courses[0].CourseID)
	assert.Equal(t, "reg-10", summary.Courses[0].RegistrationID)
	assert.Equal(t, "reg-11", summary.Courses[1].RegistrationID)
}

func TestConfirmationRequiresConfirmedDraft(t *testing.T) {
	pending := readyDraft(offering("10", 4))
	svc := newConfirmationFixture(t, pending)

	_, err := svc.Summary(context.Background(), pending.ID)
	assert.ErrorIs(t, err, appErrors.ErrRegistrationPending)
	_, err = svc.Summary(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestConfirmationRender(t *testing.T) {
	draft := confirmedDraft()
	svc := newConfirmationFixture(t, draft)
	ctx := context.Background()

	doc, err := svc.Render(ctx, draft.ID, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", doc.ContentType)
	assert.True(t, strings.HasSuffix(doc.Filename, ".csv"))
	body := string(doc.Body)
	assert.Contains(t, body, "Enrollment,enr-1")
	assert.Contains(t, body, "C10,Course 10,4,reg-10")

	doc, err = svc.Render(ctx, draft.ID, ConfirmationFormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc.Body, []byte("%PDF")))

	_, err = svc.Render(ctx, draft.ID, "xml")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestConfirmationSlipRoundTrip(t *testing.T) {
	draft := confirmedDraft()
	svc := newConfirmationFixture(t, draft)

	token, expiresAt, err := svc.IssueSlip(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	file, name, err := svc.OpenSlip(token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "registration-"+draft.ID+".pdf", name)
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF")))

	_, _, err = svc.OpenSlip(token + "x")
	assert.ErrorIs(t, err, appErrors.ErrInvalidSlipToken)
}
