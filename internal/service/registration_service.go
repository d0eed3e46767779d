package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/erp-registration-api/internal/dto"
	"github.com/noah-isme/erp-registration-api/internal/models"
	"github.com/noah-isme/erp-registration-api/internal/repository"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/logger"
)

type draftStore interface {
	Create(ctx context.Context, record *models.RegistrationDraftRecord) error
	FindByID(ctx context.Context, id string) (*models.RegistrationDraftRecord, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDraftRecord, error)
	Update(ctx context.Context, record *models.RegistrationDraftRecord) error
	UpdateClaimed(ctx context.Context, record *models.RegistrationDraftRecord, token string) error
	Delete(ctx context.Context, id string) error
}

type registrationEventStore interface {
	Create(ctx context.Context, event *models.RegistrationEvent) error
	ListByDraft(ctx context.Context, draftID string) ([]models.RegistrationEvent, error)
}

type catalogLookup interface {
	FindSchool(ctx context.Context, schoolID string) (*models.School, error)
	FindCourse(ctx context.Context, schoolID, courseID string) (*models.CourseOffering, error)
	ListCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, bool, error)
}

// RegistrationServiceConfig tunes the service.
type RegistrationServiceConfig struct {
	SubmissionTimeout time.Duration
}

// RegistrationService persists drafts between wizard requests and runs the workflow on them.
type RegistrationService struct {
	drafts    draftStore
	events    registrationEventStore
	catalog   catalogLookup
	sequencer *StepSequencer
	validate  *validator.Validate
	cfg       RegistrationServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistrationService wires the registration workflow.
func NewRegistrationService(drafts draftStore, events registrationEventStore, catalog catalogLookup, sequencer *StepSequencer, validate *validator.Validate, cfg RegistrationServiceConfig, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubmissionTimeout <= 0 {
		cfg.SubmissionTimeout = time.Minute
	}
	return &RegistrationService{
		drafts:    drafts,
		events:    events,
		catalog:   catalog,
		sequencer: sequencer,
		validate:  validate,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a new draft.
func (s *RegistrationService) Start(ctx context.Context, req dto.StartRegistrationRequest) (*models.RegistrationDraft, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	draft := StartRegistration(req.StudentID)
	record, err := draftToRecord(draft)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode registration")
	}
	if err := s.drafts.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create registration")
	}
	draft.Version = record.Version
	s.emit(ctx, draft, models.RegistrationEventStarted, nil)
	return &draft, nil
}

// Get returns the draft with fresh catalog snapshots.
func (s *RegistrationService) Get(ctx context.Context, id string) (*models.RegistrationDraft, error) {
	draft, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// SelectSchool points the draft at a school from the catalog.
func (s *RegistrationService) SelectSchool(ctx context.Context, id string, req dto.SelectSchoolRequest) (*models.RegistrationDraft, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}
	draft, err := s.loadMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if SchoolLocked(draft) && draft.SelectedSchool != nil && draft.SelectedSchool.ID != req.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrRegistrationLocked, "the program enrollment for this school already exists")
	}
	school, err := s.catalog.FindSchool(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}
	next := SelectSchool(draft, *school)
	if err := s.save(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// ToggleCourse adds or removes a course of the selected school.
func (s *RegistrationService) ToggleCourse(ctx context.Context, id, courseID string) (*models.RegistrationDraft, error) {
	draft, err := s.loadMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.SelectedSchool == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "select a school before choosing courses")
	}
	if CourseLocked(draft, courseID) {
		return nil, appErrors.Clone(appErrors.ErrRegistrationLocked, "this course is already registered")
	}

	var next models.RegistrationDraft
	if draft.HasCourse(courseID) {
		next = DeselectCourse(draft, courseID)
	} else {
		course, err := s.catalog.FindCourse(ctx, draft.SelectedSchool.ID, courseID)
		if err != nil {
			return nil, err
		}
		next = SelectCourse(draft, *course)
	}
	if err := s.save(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// SetMetadata records the metadata step.
func (s *RegistrationService) SetMetadata(ctx context.Context, id string, req dto.RegistrationMetadataRequest) (*models.RegistrationDraft, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid metadata payload")
	}
	draft, err := s.loadMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	meta := RegistrationMetadata{
		Kind:         models.RegistrationKind(req.RegistrationKind),
		AcademicYear: req.AcademicYear,
		Notes:        req.Notes,
	}
	if meta.Kind == "" {
		meta.Kind = draft.RegistrationKind
	}
	if MetadataLocked(draft) {
		kind := models.RegistrationKind(strings.ToUpper(strings.TrimSpace(string(meta.Kind))))
		if kind != draft.RegistrationKind || strings.TrimSpace(meta.AcademicYear) != draft.AcademicYear {
			return nil, appErrors.Clone(appErrors.ErrRegistrationLocked, "the semester registration already carries kind and academic year")
		}
	}
	next := SetMetadata(draft, meta)
	if err := s.save(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Advance validates the current step and moves forward. From review it submits.
func (s *RegistrationService) Advance(ctx context.Context, id string) (*AdvanceOutcome, error) {
	draft, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.CurrentStep == models.StepReview {
		return s.submit(ctx, draft)
	}

	outcome, err := s.sequencer.Advance(ctx, draft)
	if err != nil {
		return nil, err
	}
	if !outcome.Moved {
		s.emit(ctx, draft, models.RegistrationEventRejected, map[string]interface{}{"violations": models.ViolationCodes(outcome.Violations)})
		return &outcome, nil
	}
	if err := s.save(ctx, &outcome.Draft); err != nil {
		return nil, err
	}
	s.emit(ctx, outcome.Draft, models.RegistrationEventAdvanced, map[string]interface{}{"from": draft.CurrentStep})
	return &outcome, nil
}

// Submit sends a draft on the review step to the ERP. It also retries a failed submission.
func (s *RegistrationService) Submit(ctx context.Context, id string) (*AdvanceOutcome, error) {
	draft, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.CurrentStep != models.StepReview {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition, "only a registration under review can be submitted")
	}
	return s.submit(ctx, draft)
}

// Retreat moves the draft one step back.
func (s *RegistrationService) Retreat(ctx context.Context, id string) (*models.RegistrationDraft, error) {
	draft, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.sequencer.Retreat(draft)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, &next); err != nil {
		return nil, err
	}
	s.emit(ctx, next, models.RegistrationEventRetreated, map[string]interface{}{"from": draft.CurrentStep})
	return &next, nil
}

// Cancel discards the draft. It works without the catalog; ERP records are never removed.
func (s *RegistrationService) Cancel(ctx context.Context, id string) (*CancelOutcome, error) {
	record, err := s.findRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	draft, err := draftFromRecord(record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode registration")
	}
	outcome, err := s.sequencer.Cancel(draft)
	if err != nil {
		return nil, err
	}
	if err := s.drafts.Delete(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete registration")
	}
	s.emit(ctx, draft, models.RegistrationEventCancelled, map[string]interface{}{
		"partial_remote_state": outcome.PartialRemoteState,
		"completed_steps":      outcome.Result.CompletedSteps.Strings(),
	})
	return &outcome, nil
}

// ListByStudent returns the drafts of a student, newest first, so the wizard can be resumed.
func (s *RegistrationService) ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDraft, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	records, err := s.drafts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	drafts := make([]models.RegistrationDraft, 0, len(records))
	for i := range records {
		draft, err := draftFromRecord(&records[i])
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode registration")
		}
		draft, err = s.hydrate(ctx, draft)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// Events returns the audit trail of a draft.
func (s *RegistrationService) Events(ctx context.Context, id string) ([]models.RegistrationEvent, error) {
	if s.events == nil {
		return []models.RegistrationEvent{}, nil
	}
	events, err := s.events.ListByDraft(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration events")
	}
	return events, nil
}

// submissionLease is the claim a submission holds on its draft in the store. Other
// replicas cannot claim or edit the draft until it is released or expires.
type submissionLease struct {
	token string
	until time.Time
}

func (s *RegistrationService) submit(ctx context.Context, draft models.RegistrationDraft) (*AdvanceOutcome, error) {
	if s.sequencer.InFlight(draft.ID) {
		return nil, appErrors.ErrOperationInFlight
	}
	// The lease outlives the saga timeout so the final save still holds it.
	lease := &submissionLease{token: uuid.NewString(), until: s.now().Add(2 * s.cfg.SubmissionTimeout)}
	if err := s.persist(ctx, &draft, lease, ""); err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.ErrOperationInFlight
		}
		return nil, err
	}

	log := logger.ForDraft(s.logger, draft.ID, draft.StudentID)
	// The saga outlives the request so a dropped client does not strand half a submission.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmissionTimeout)
	defer cancel()

	var mu sync.Mutex
	working := draft
	progress := func(result models.SubmissionResult) {
		mu.Lock()
		defer mu.Unlock()
		snapshot := working.Clone()
		snapshot.Result = &result
		if err := s.persist(runCtx, &snapshot, lease, lease.token); err != nil {
			log.Warn("failed to persist submission progress", zap.Strings("completed_steps", result.CompletedSteps.Strings()), zap.Error(err))
			return
		}
		working = snapshot
		s.emit(runCtx, snapshot, models.RegistrationEventStepSubmitted, map[string]interface{}{"completed_steps": result.CompletedSteps.Strings()})
	}

	outcome, err := s.sequencer.Advance(runCtx, draft, WithSubmissionProgress(progress))

	mu.Lock()
	outcome.Draft.Version = working.Version
	mu.Unlock()

	var subErr *SubmissionError
	switch {
	case errors.As(err, &subErr):
		if saveErr := s.persist(runCtx, &outcome.Draft, nil, lease.token); saveErr != nil {
			if !errors.Is(saveErr, appErrors.ErrNotFound) {
				return nil, saveErr
			}
			logRemoteState(log, "registration removed while its submission failed", subErr.Result)
			return &outcome, subErr
		}
		s.emit(runCtx, outcome.Draft, models.RegistrationEventSubmissionError, map[string]interface{}{
			"kind":           subErr.Kind,
			"failed_courses": subErr.FailedCourseIDs(),
		})
		return &outcome, subErr
	case err != nil:
		mu.Lock()
		released := working.Clone()
		mu.Unlock()
		if releaseErr := s.persist(runCtx, &released, nil, lease.token); releaseErr != nil {
			log.Warn("failed to release submission lease", zap.Error(releaseErr))
		}
		return nil, err
	case !outcome.Moved:
		if saveErr := s.persist(runCtx, &outcome.Draft, nil, lease.token); saveErr != nil {
			return nil, saveErr
		}
		s.emit(runCtx, outcome.Draft, models.RegistrationEventRejected, map[string]interface{}{"violations": models.ViolationCodes(outcome.Violations)})
		return &outcome, nil
	}

	if err := s.persist(runCtx, &outcome.Draft, nil, lease.token); err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			logRemoteState(log, "registration removed while its submission completed", outcome.Draft.Submission())
		}
		return nil, err
	}
	s.emit(runCtx, outcome.Draft, models.RegistrationEventConfirmed, map[string]interface{}{
		"enrollment_id":            outcome.Draft.Submission().EnrollmentID,
		"semester_registration_id": outcome.Draft.Submission().SemesterRegistrationID,
	})
	return &outcome, nil
}

// logRemoteState records ERP records that no draft refers to any more.
func logRemoteState(log *zap.Logger, msg string, result models.SubmissionResult) {
	courses := make([]string, 0, len(result.CourseRegistrations))
	for _, ref := range result.CourseRegistrations {
		courses = append(courses, ref.CourseID)
	}
	log.Warn(msg,
		zap.String("enrollment_id", result.EnrollmentID),
		zap.String("semester_registration_id", result.SemesterRegistrationID),
		zap.Strings("course_ids", courses),
		zap.Strings("completed_steps", result.CompletedSteps.Strings()),
	)
}

func (s *RegistrationService) findRecord(ctx context.Context, id string) (*models.RegistrationDraftRecord, error) {
	record, err := s.drafts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return record, nil
}

func (s *RegistrationService) load(ctx context.Context, id string) (models.RegistrationDraft, error) {
	record, err := s.findRecord(ctx, id)
	if err != nil {
		return models.RegistrationDraft{}, err
	}
	draft, err := draftFromRecord(record)
	if err != nil {
		return models.RegistrationDraft{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode registration")
	}
	return s.hydrate(ctx, draft)
}

func (s *RegistrationService) hydrate(ctx context.Context, draft models.RegistrationDraft) (models.RegistrationDraft, error) {
	if draft.SelectedSchool == nil {
		return draft, nil
	}

	schoolID := draft.SelectedSchool.ID
	school, err := s.catalog.FindSchool(ctx, schoolID)
	if err != nil && !errors.Is(err, appErrors.ErrNotFound) {
		return models.RegistrationDraft{}, err
	}
	if school == nil {
		school = &models.School{ID: schoolID}
	}
	var courses []models.CourseOffering
	if len(draft.SelectedCourses) > 0 {
		courses, _, err = s.catalog.ListCourses(ctx, schoolID)
		if err != nil && !errors.Is(err, appErrors.ErrNotFound) {
			return models.RegistrationDraft{}, err
		}
	}
	return hydrateDraft(draft, school, courses), nil
}

// loadMutable refuses edits while a submission runs and after confirmation.
func (s *RegistrationService) loadMutable(ctx context.Context, id string) (models.RegistrationDraft, error) {
	if s.sequencer.InFlight(id) {
		return models.RegistrationDraft{}, appErrors.ErrOperationInFlight
	}
	draft, err := s.load(ctx, id)
	if err != nil {
		return models.RegistrationDraft{}, err
	}
	if draft.CurrentStep.Terminal() {
		return models.RegistrationDraft{}, appErrors.Clone(appErrors.ErrIllegalTransition, "a confirmed registration cannot be changed")
	}
	return draft, nil
}

// save writes the draft guarded by its version and refreshes the version in place.
func (s *RegistrationService) save(ctx context.Context, draft *models.RegistrationDraft) error {
	return s.persist(ctx, draft, nil, "")
}

// persist stores the draft with lease as its submission lease. A non-empty holder
// writes on behalf of the submission owning that claim; otherwise the write fails while
// another submission holds an unexpired lease.
func (s *RegistrationService) persist(ctx context.Context, draft *models.RegistrationDraft, lease *submissionLease, holder string) error {
	draft.UpdatedAt = s.now()
	record, err := draftToRecord(*draft)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode registration")
	}
	if lease != nil {
		token, until := lease.token, lease.until
		record.ClaimToken = &token
		record.SubmittingUntil = &until
	}
	if holder == "" {
		err = s.drafts.Update(ctx, record)
	} else {
		err = s.drafts.UpdateClaimed(ctx, record, holder)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDraftClaimed):
			return appErrors.ErrOperationInFlight
		case errors.Is(err, repository.ErrStaleDraft):
			return appErrors.Clone(appErrors.ErrConflict, "registration was changed by another request")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save registration")
		}
	}
	draft.Version = record.Version
	return nil
}

func (s *RegistrationService) emit(ctx context.Context, draft models.RegistrationDraft, kind models.RegistrationEventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	event := &models.RegistrationEvent{
		ID:        uuid.NewString(),
		DraftID:   draft.ID,
		StudentID: draft.StudentID,
		Type:      kind,
		Step:      draft.CurrentStep,
		CreatedAt: s.now(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = raw
		}
	}
	if err := s.events.Create(ctx, event); err != nil {
		s.logger.Warn("failed to persist registration event", zap.String("draft_id", draft.ID), zap.String("type", string(kind)), zap.Error(err))
	}
}
