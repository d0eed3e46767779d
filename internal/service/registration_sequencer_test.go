package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/erp-registration-api/internal/models"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/jobs"
)

type courseRefresherStub struct {
	courses []models.CourseOffering
	err     error
	calls   int
}

func (s *courseRefresherStub) RefreshCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, error) {
	s.calls++
	return s.courses, s.err
}

func newTestSequencer(writer RegistrationWriter, refresher CourseRefresher) *StepSequencer {
	return NewStepSequencer(NewSelectionValidator(DefaultCreditPolicy()), newTestOrchestrator(writer), refresher, NewMetricsService(), nil)
}

func atStep(draft models.RegistrationDraft, step models.RegistrationStep) models.RegistrationDraft {
	draft.CurrentStep = step
	return draft
}

func TestAdvanceBlockedByViolations(t *testing.T) {
	sequencer := newTestSequencer(&erpWriterStub{}, &courseRefresherStub{})
	draft := atStep(SelectSchool(StartRegistration("stu-1"), engineering), models.StepCourseSelection)

	outcome, err := sequencer.Advance(context.Background(), draft)
	require.NoError(t, err)
	assert.False(t, outcome.Moved)
	assert.Equal(t, models.StepCourseSelection, outcome.Draft.CurrentStep)
	assert.Equal(t, []models.ViolationCode{models.ViolationEmptySelection}, models.ViolationCodes(outcome.Violations))

	again, err := sequencer.Advance(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, outcome, again)
}

func TestAdvanceWalksWizard(t *testing.T) {
	sequencer := newTestSequencer(&erpWriterStub{}, &courseRefresherStub{courses: []models.CourseOffering{offering("a", 3)}})
	draft := readyDraft(offering("a", 3))

	for _, want := range []models.RegistrationStep{models.StepCourseSelection, models.StepMetadataEntry, models.StepReview, models.StepConfirmation} {
		outcome, err := sequencer.Advance(context.Background(), draft)
		require.NoError(t, err)
		require.True(t, outcome.Moved)
		assert.Empty(t, outcome.Violations)
		assert.Equal(t, want, outcome.Draft.CurrentStep)
		draft = outcome.Draft
	}
	require.NotNil(t, draft.Result)
	assert.Equal(t, "enr-1", draft.Result.EnrollmentID)
	assert.False(t, sequencer.InFlight(draft.ID))

	_, err := sequencer.Advance(context.Background(), draft)
	assert.ErrorIs(t, err, appErrors.ErrIllegalTransition)
}

func TestAdvanceFromReviewRechecksCatalog(t *testing.T) {
	writer := &erpWriterStub{}
	refresher := &courseRefresherStub{courses: []models.CourseOffering{offering("a", 3), {ID: "b", TotalCredits: 2, SchoolID: engineering.ID, Withdrawn: true}}}
	sequencer := newTestSequencer(writer, refresher)
	draft := atStep(readyDraft(offering("a", 3), offering("b", 2)), models.StepReview)

	outcome, err := sequencer.Advance(context.Background(), draft)
	require.NoError(t, err)
	assert.False(t, outcome.Moved)
	assert.Equal(t, 1, refresher.calls)
	require.Len(t, outcome.Violations, 1)
	assert.Equal(t, models.ViolationCourseUnavailable, outcome.Violations[0].Code)
	assert.Equal(t, []string{"b"}, outcome.Violations[0].CourseIDs)
	assert.Empty(t, writer.enrollments)
}

func TestAdvanceFromReviewCatalogUnavailable(t *testing.T) {
	sequencer := newTestSequencer(&erpWriterStub{}, &courseRefresherStub{err: errors.New("dial tcp: refused")})
	draft := atStep(readyDraft(offering("a", 3)), models.StepReview)

	outcome, err := sequencer.Advance(context.Background(), draft)
	assert.ErrorIs(t, err, appErrors.ErrCatalogUnavailable)
	assert.Equal(t, models.StepReview, outcome.Draft.CurrentStep)
}

func TestSubmitFailureKeepsReviewAndRecordsResult(t *testing.T) {
	writer := &erpWriterStub{courseErrs: map[string]error{"b": appErrors.Clone(appErrors.ErrCapacityConflict, "full")}}
	refresher := &courseRefresherStub{courses: []models.CourseOffering{offering("a", 3), offering("b", 2)}}
	sequencer := newTestSequencer(writer, refresher)
	draft := atStep(readyDraft(offering("a", 3), offering("b", 2)), models.StepReview)

	outcome, err := sequencer.Submit(context.Background(), draft)
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.False(t, outcome.Moved)
	assert.Equal(t, models.StepReview, outcome.Draft.CurrentStep)
	require.NotNil(t, outcome.Draft.Result)
	assert.True(t, outcome.Draft.Result.Has(models.CourseSubmissionStep("a")))
	assert.Equal(t, subErr.Summary(), outcome.Draft.LastError)

	writer.courseErrs = nil
	retried, err := sequencer.Submit(context.Background(), outcome.Draft)
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmation, retried.Draft.CurrentStep)
	assert.Empty(t, retried.Draft.LastError)
	requests := writer.courseRequestIDs()
	require.Len(t, requests, 3)
	assert.ElementsMatch(t, []string{"a", "b"}, requests[:2])
	assert.Equal(t, "b", requests[2])
}

func TestSubmitRequiresReview(t *testing.T) {
	sequencer := newTestSequencer(&erpWriterStub{}, &courseRefresherStub{})
	_, err := sequencer.Submit(context.Background(), readyDraft(offering("a", 3)))
	assert.ErrorIs(t, err, appErrors.ErrIllegalTransition)
}

func TestAdvanceSingleFlightPerDraft(t *testing.T) {
	writer := &erpWriterStub{blockCourses: make(chan struct{}), courseStarted: make(chan string, 1)}
	refresher := &courseRefresherStub{courses: []models.CourseOffering{offering("a", 3)}}
	sequencer := NewStepSequencer(nil, NewSubmissionOrchestrator(writer, nil, nil, nil), refresher, nil, nil)
	draft := atStep(readyDraft(offering("a", 3)), models.StepReview)

	done := make(chan error, 1)
	go func() {
		_, err := sequencer.Advance(context.Background(), draft)
		done <- err
	}()

	select {
	case <-writer.courseStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not start")
	}
	assert.True(t, sequencer.InFlight(draft.ID))

	_, err := sequencer.Advance(context.Background(), draft)
	assert.ErrorIs(t, err, appErrors.ErrOperationInFlight)
	_, err = sequencer.Retreat(draft)
	assert.ErrorIs(t, err, appErrors.ErrOperationInFlight)

	other := atStep(readyDraft(offering("a", 3)), models.StepCourseSelection)
	moved, err := sequencer.Advance(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, moved.Moved)

	close(writer.blockCourses)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not finish")
	}
	assert.False(t, sequencer.InFlight(draft.ID))
}

func TestCancelStopsRunningSubmission(t *testing.T) {
	writer := &erpWriterStub{blockCourses: make(chan struct{}), courseStarted: make(chan string, 1)}
	refresher := &courseRefresherStub{courses: []models.CourseOffering{offering("a", 3)}}
	dispatcher := jobs.NewDispatcher("test", jobs.DispatcherConfig{Workers: 1})
	sequencer := NewStepSequencer(nil, NewSubmissionOrchestrator(writer, dispatcher, nil, nil), refresher, nil, nil)
	draft := atStep(readyDraft(offering("a", 3)), models.StepReview)

	done := make(chan error, 1)
	go func() {
		_, err := sequencer.Advance(context.Background(), draft)
		done <- err
	}()
	<-writer.courseStarted

	outcome, err := sequencer.Cancel(draft)
	require.NoError(t, err)
	assert.True(t, outcome.SubmissionInFlight)
	assert.Contains(t, outcome.Warning, "still running")

	select {
	case err := <-done:
		var subErr *SubmissionError
		require.ErrorAs(t, err, &subErr)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("submission ignored cancellation")
	}
	assert.False(t, sequencer.InFlight(draft.ID))
}

func TestCancelReportsPartialRemoteState(t *testing.T) {
	sequencer := newTestSequencer(&erpWriterStub{}, &courseRefresherStub{})
	draft := atStep(readyDraft(offering("a", 3)), models.StepReview)

	clean, err := sequencer.Cancel(draft)
	require.NoError(t, err)
	assert.False(t, clean.PartialRemoteState)
	assert.Empty(t, clean.Warning)

	result := models.SubmissionResult{}.WithEnrollment("enr-9")
	draft.Result = &result
	partial, err := sequencer.Cancel(draft)
	require.NoError(t, err)
	assert.True(t, partial.PartialRemoteState)
	assert.Contains(t, partial.Warning, "enrollment enr-9")

	_, err = sequencer.Cancel(atStep(draft, models.StepConfirmation))
	assert.ErrorIs(t, err, appErrors.ErrIllegalTransition)
}

func TestRetreat(t *testing.T) {
	sequencer := newTestSequencer(&erpWriterStub{}, &courseRefresherStub{})

	back, err := sequencer.Retreat(atStep(StartRegistration("stu-1"), models.StepMetadataEntry))
	require.NoError(t, err)
	assert.Equal(t, models.StepCourseSelection, back.CurrentStep)

	_, err = sequencer.Retreat(StartRegistration("stu-1"))
	assert.ErrorIs(t, err, appErrors.ErrIllegalTransition)
	_, err = sequencer.Retreat(atStep(StartRegistration("stu-1"), models.StepConfirmation))
	assert.ErrorIs(t, err, appErrors.ErrIllegalTransition)
}
