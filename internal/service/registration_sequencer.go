package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/erp-registration-api/internal/models"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/logger"
)

// CourseRefresher bypasses caches to read the current offerings of a school.
type CourseRefresher interface {
	RefreshCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, error)
}

type registrationSubmitter interface {
	Submit(ctx context.Context, draft models.RegistrationDraft, prior *models.SubmissionResult, progress SubmissionProgress) (models.SubmissionResult, *SubmissionError)
}

// AdvanceOutcome is the result of an advance attempt. Moved is false when violations
// kept the draft on its current step.
type AdvanceOutcome struct {
	Draft      models.RegistrationDraft `json:"draft"`
	Violations []models.Violation       `json:"violations"`
	Moved      bool                     `json:"moved"`
}

// AdvanceOption customises a single advance call.
type AdvanceOption func(*advanceOptions)

type advanceOptions struct {
	progress SubmissionProgress
}

// WithSubmissionProgress observes the remote writes made while advancing out of review.
func WithSubmissionProgress(progress SubmissionProgress) AdvanceOption {
	return func(o *advanceOptions) {
		o.progress = progress
	}
}

type flight struct {
	cancel context.CancelFunc
}

// StepSequencer drives a draft through the wizard steps. At most one advance or submit
// runs per draft at a time; a second one is refused with ErrOperationInFlight.
type StepSequencer struct {
	validator *SelectionValidator
	submitter registrationSubmitter
	courses   CourseRefresher
	metrics   *MetricsService
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]*flight
}

// NewStepSequencer wires the sequencer.
func NewStepSequencer(validator *SelectionValidator, submitter registrationSubmitter, courses CourseRefresher, metrics *MetricsService, log *zap.Logger) *StepSequencer {
	if validator == nil {
		validator = NewSelectionValidator(DefaultCreditPolicy())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StepSequencer{
		validator: validator,
		submitter: submitter,
		courses:   courses,
		metrics:   metrics,
		logger:    log,
		inFlight:  make(map[string]*flight),
	}
}

// Advance validates the current step and moves forward when it passes. Advancing out
// of review refreshes the catalog and submits the draft.
func (s *StepSequencer) Advance(ctx context.Context, draft models.RegistrationDraft, opts ...AdvanceOption) (AdvanceOutcome, error) {
	from := draft.CurrentStep
	if from.Index() < 0 || from.Terminal() {
		return AdvanceOutcome{Draft: draft, Violations: []models.Violation{}},
			appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot advance from %s", from))
	}

	ctx, release, ok := s.begin(ctx, draft.ID)
	if !ok {
		return AdvanceOutcome{Draft: draft, Violations: []models.Violation{}}, appErrors.ErrOperationInFlight
	}
	defer release()

	if from == models.StepReview {
		return s.submit(ctx, draft, collectOptions(opts))
	}

	violations := s.validator.ValidateStep(from, draft)
	if len(violations) > 0 {
		s.metrics.ObserveTransition(from, from, outcomeRejected)
		s.metrics.ObserveViolations(violations)
		return AdvanceOutcome{Draft: draft, Violations: violations}, nil
	}

	next := draft.Clone()
	next.CurrentStep = models.RegistrationSteps[from.Index()+1]
	s.metrics.ObserveTransition(from, next.CurrentStep, outcomeSucceeded)
	return AdvanceOutcome{Draft: next, Violations: violations, Moved: true}, nil
}

// Submit advances a draft that is on the review step. It is the retry entry point after
// a failed submission.
func (s *StepSequencer) Submit(ctx context.Context, draft models.RegistrationDraft, opts ...AdvanceOption) (AdvanceOutcome, error) {
	if draft.CurrentStep != models.StepReview {
		return AdvanceOutcome{Draft: draft, Violations: []models.Violation{}},
			appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot submit from %s", draft.CurrentStep))
	}
	return s.Advance(ctx, draft, opts...)
}

// Retreat moves the draft one step back. Nothing is validated.
func (s *StepSequencer) Retreat(draft models.RegistrationDraft) (models.RegistrationDraft, error) {
	from := draft.CurrentStep
	if from.Index() <= 0 || from.Terminal() {
		return draft, appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot go back from %s", from))
	}
	if s.InFlight(draft.ID) {
		return draft, appErrors.ErrOperationInFlight
	}
	next := draft.Clone()
	next.CurrentStep = models.RegistrationSteps[from.Index()-1]
	s.metrics.ObserveTransition(from, next.CurrentStep, outcomeSucceeded)
	return next, nil
}

// Cancel abandons the draft. Records already created in the ERP are not removed; the
// outcome says so. A submission running for the draft is told to stop dispatching.
func (s *StepSequencer) Cancel(draft models.RegistrationDraft) (CancelOutcome, error) {
	if draft.CurrentStep.Terminal() {
		return CancelOutcome{DraftID: draft.ID}, appErrors.Clone(appErrors.ErrIllegalTransition, "a confirmed registration cannot be cancelled")
	}

	inFlight := s.abort(draft.ID)
	result := draft.Submission()
	outcome := CancelOutcome{
		DraftID:            draft.ID,
		PartialRemoteState: !result.Empty(),
		SubmissionInFlight: inFlight,
		Result:             result,
	}

	var warnings []string
	if outcome.PartialRemoteState {
		warnings = append(warnings, fmt.Sprintf("records already created in the ERP are kept: %s", describeSubmission(result)))
	}
	if inFlight {
		warnings = append(warnings, "a submission was still running; requests it had already sent may complete in the ERP")
	}
	outcome.Warning = strings.Join(warnings, "; ")

	if outcome.Warning != "" {
		logger.ForDraft(s.logger, draft.ID, draft.StudentID).Warn("registration cancelled with remote records",
			zap.Strings("completed_steps", result.CompletedSteps.Strings()),
			zap.Bool("submission_in_flight", inFlight),
		)
	}
	return outcome, nil
}

// InFlight reports whether an advance or submit is running for draftID.
func (s *StepSequencer) InFlight(draftID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[draftID]
	return ok
}

func (s *StepSequencer) submit(ctx context.Context, draft models.RegistrationDraft, opts advanceOptions) (AdvanceOutcome, error) {
	if draft.SelectedSchool == nil {
		violations := s.validator.ValidateForSubmission(draft)
		s.metrics.ObserveTransition(models.StepReview, models.StepReview, outcomeRejected)
		s.metrics.ObserveViolations(violations)
		return AdvanceOutcome{Draft: draft, Violations: violations}, nil
	}
	if s.courses == nil || s.submitter == nil {
		return AdvanceOutcome{Draft: draft, Violations: []models.Violation{}},
			appErrors.Clone(appErrors.ErrInternal, "registration submission is not configured")
	}

	fresh, err := s.courses.RefreshCourses(ctx, draft.SelectedSchool.ID)
	if err != nil {
		if !errors.Is(err, appErrors.ErrCatalogUnavailable) {
			err = appErrors.Wrap(err, appErrors.ErrCatalogUnavailable.Code, appErrors.ErrCatalogUnavailable.Status, appErrors.ErrCatalogUnavailable.Message)
		}
		return AdvanceOutcome{Draft: draft, Violations: []models.Violation{}}, err
	}

	checked, unavailable := RecheckOfferings(draft, fresh)
	violations := append(s.validator.ValidateForSubmission(checked), unavailable...)
	if len(violations) > 0 {
		s.metrics.ObserveTransition(models.StepReview, models.StepReview, outcomeRejected)
		s.metrics.ObserveViolations(violations)
		return AdvanceOutcome{Draft: checked, Violations: violations}, nil
	}

	result, subErr := s.submitter.Submit(ctx, checked, checked.Result, opts.progress)
	next := checked.Clone()
	next.Result = &result
	if subErr != nil {
		next.LastError = subErr.Summary()
		s.metrics.ObserveTransition(models.StepReview, models.StepReview, outcomeFailed)
		return AdvanceOutcome{Draft: next, Violations: violations}, subErr
	}

	next.LastError = ""
	next.CurrentStep = models.StepConfirmation
	s.metrics.ObserveTransition(models.StepReview, models.StepConfirmation, outcomeSucceeded)
	return AdvanceOutcome{Draft: next, Violations: violations, Moved: true}, nil
}

func (s *StepSequencer) begin(ctx context.Context, draftID string) (context.Context, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[draftID]; busy {
		return ctx, func() {}, false
	}

	ctx, cancel := context.WithCancel(ctx)
	current := &flight{cancel: cancel}
	s.inFlight[draftID] = current
	return ctx, func() {
		s.mu.Lock()
		if s.inFlight[draftID] == current {
			delete(s.inFlight, draftID)
		}
		s.mu.Unlock()
		cancel()
	}, true
}

// abort cancels the running operation for draftID. The guard entry stays until the
// operation returns so no second one can start while the first winds down.
func (s *StepSequencer) abort(draftID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.inFlight[draftID]
	if !ok {
		return false
	}
	current.cancel()
	return true
}

func collectOptions(opts []AdvanceOption) advanceOptions {
	var out advanceOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

func describeSubmission(result models.SubmissionResult) string {
	parts := make([]string, 0, 3)
	if result.EnrollmentID != "" {
		parts = append(parts, "enrollment "+result.EnrollmentID)
	}
	if result.SemesterRegistrationID != "" {
		parts = append(parts, "semester registration "+result.SemesterRegistrationID)
	}
	if n := len(result.CourseRegistrations); n > 0 {
		parts = append(parts, fmt.Sprintf("%d course registration(s)", n))
	}
	return strings.Join(parts, ", ")
}
