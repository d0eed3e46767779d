package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/erp-registration-api/internal/models"
	"github.com/noah-isme/erp-registration-api/pkg/jobs"
	"github.com/noah-isme/erp-registration-api/pkg/logger"
)

const enrollmentStatusActive = "ACTIVE"

// RegistrationWriter issues the remote ERP writes of a submission.
type RegistrationWriter interface {
	CreateEnrollment(ctx context.Context, req models.EnrollmentRequest) (*models.Enrollment, error)
	CreateSemesterRegistration(ctx context.Context, req models.SemesterRegistrationRequest) (*models.SemesterRegistration, error)
	CreateCourseRegistration(ctx context.Context, req models.CourseRegistrationRequest) (*models.CourseRegistration, error)
}

// SubmissionProgress observes each successful remote write. Calls are serialised and
// each call sees a result that includes every earlier one.
type SubmissionProgress func(models.SubmissionResult)

// SubmissionOrchestrator runs the enrollment, semester registration and course
// registration writes for a validated draft. Steps already recorded in the prior
// result are skipped so a retry only sends what is still missing.
type SubmissionOrchestrator struct {
	writer     RegistrationWriter
	dispatcher *jobs.Dispatcher
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewSubmissionOrchestrator builds the orchestrator. A nil dispatcher sends course registrations one by one.
func NewSubmissionOrchestrator(writer RegistrationWriter, dispatcher *jobs.Dispatcher, metrics *MetricsService, log *zap.Logger) *SubmissionOrchestrator {
	if dispatcher == nil {
		dispatcher = jobs.NewDispatcher("course-registrations", jobs.DispatcherConfig{Workers: 1, Logger: log})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SubmissionOrchestrator{writer: writer, dispatcher: dispatcher, metrics: metrics, logger: log}
}

// Submit sends the draft to the ERP. On failure the returned error carries the partial
// result; the first return value always equals that result.
func (o *SubmissionOrchestrator) Submit(ctx context.Context, draft models.RegistrationDraft, prior *models.SubmissionResult, progress SubmissionProgress) (models.SubmissionResult, *SubmissionError) {
	started := time.Now()
	log := logger.ForDraft(o.logger, draft.ID, draft.StudentID)

	result := models.SubmissionResult{}
	if prior != nil {
		result = prior.Clone()
	}
	total := len(draft.SelectedCourses)

	fail := func(kind SubmissionFailureKind, err error, courses []CourseFailure) (models.SubmissionResult, *SubmissionError) {
		o.metrics.ObserveSubmission(false, time.Since(started))
		log.Warn("registration submission failed",
			zap.String("kind", string(kind)),
			zap.Strings("completed_steps", result.CompletedSteps.Strings()),
			zap.Error(err),
		)
		return result, &SubmissionError{Kind: kind, Courses: courses, Result: result, TotalCourses: total, Err: err}
	}

	if draft.SelectedSchool == nil {
		return fail(SubmissionEnrollmentFailed, errors.New("draft has no selected school"), nil)
	}

	if !result.Has(models.SubmissionStepEnrollment) {
		enrollment, err := o.writer.CreateEnrollment(ctx, enrollmentRequest(draft))
		o.metrics.ObserveSubmissionStep(models.SubmissionStepEnrollment, err == nil)
		if err != nil {
			return fail(SubmissionEnrollmentFailed, err, nil)
		}
		result = result.WithEnrollment(enrollment.ID)
		report(progress, result)
	}

	if !result.Has(models.SubmissionStepSemesterRegistration) {
		registration, err := o.writer.CreateSemesterRegistration(ctx, semesterRegistrationRequest(draft))
		o.metrics.ObserveSubmissionStep(models.SubmissionStepSemesterRegistration, err == nil)
		if err != nil {
			return fail(SubmissionSemesterRegistrationFailed, err, nil)
		}
		result = result.WithSemesterRegistration(registration.ID)
		report(progress, result)
	}

	failures := o.registerCourses(ctx, draft, &result, progress)
	result = result.OrderedBy(draft.SelectedCourses)
	if len(failures) > 0 {
		errs := make([]error, 0, len(failures))
		for _, failure := range failures {
			errs = append(errs, failure.Err)
		}
		return fail(SubmissionCourseRegistrationFailed, errors.Join(errs...), failures)
	}

	o.metrics.ObserveSubmission(true, time.Since(started))
	log.Info("registration submitted",
		zap.String("enrollment_id", result.EnrollmentID),
		zap.String("semester_registration_id", result.SemesterRegistrationID),
		zap.Int("courses", len(result.CourseRegistrations)),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

// registerCourses dispatches the pending course registrations concurrently. Every
// dispatched request is awaited; a failing course never cancels its siblings.
func (o *SubmissionOrchestrator) registerCourses(ctx context.Context, draft models.RegistrationDraft, result *models.SubmissionResult, progress SubmissionProgress) []CourseFailure {
	pending := result.PendingCourses(draft.SelectedCourses)
	if len(pending) == 0 {
		return nil
	}

	semesterRegistrationID := result.SemesterRegistrationID
	var mu sync.Mutex
	tasks := make([]jobs.Task, 0, len(pending))
	for _, course := range pending {
		course := course
		tasks = append(tasks, jobs.Task{
			ID: course.ID,
			Run: func(ctx context.Context) error {
				req := courseRegistrationRequest(draft, semesterRegistrationID, course)
				registration, err := o.writer.CreateCourseRegistration(ctx, req)
				o.metrics.ObserveSubmissionStep(models.CourseSubmissionStep(course.ID), err == nil)
				if err != nil {
					return err
				}

				mu.Lock()
				defer mu.Unlock()
				*result = result.WithCourseRegistration(course.ID, registration.ID)
				report(progress, *result)
				return nil
			},
		})
	}

	var failures []CourseFailure
	for _, outcome := range o.dispatcher.Run(ctx, tasks) {
		if outcome.Err != nil {
			failures = append(failures, newCourseFailure(outcome.ID, outcome.Err))
		}
	}
	return failures
}

func report(progress SubmissionProgress, result models.SubmissionResult) {
	if progress != nil {
		progress(result.Clone())
	}
}

func enrollmentRequest(draft models.RegistrationDraft) models.EnrollmentRequest {
	school := draft.SelectedSchool
	details := map[string]string{"school_name": school.Name}
	if school.Code != "" {
		details["school_code"] = school.Code
	}
	return models.EnrollmentRequest{
		StudentID:        draft.StudentID,
		ProgramID:        school.ID,
		BatchYear:        batchYear(draft.AcademicYear),
		EnrollmentStatus: enrollmentStatusActive,
		AdmissionDetails: details,
	}
}

func semesterRegistrationRequest(draft models.RegistrationDraft) models.SemesterRegistrationRequest {
	return models.SemesterRegistrationRequest{
		StudentID:        draft.StudentID,
		SemesterID:       draft.AcademicYear,
		AcademicYear:     draft.AcademicYear,
		RegistrationKind: draft.RegistrationKind,
		TotalCredits:     draft.TotalCredits,
	}
}

func courseRegistrationRequest(draft models.RegistrationDraft, semesterRegistrationID string, course models.CourseOffering) models.CourseRegistrationRequest {
	return models.CourseRegistrationRequest{
		StudentID:              draft.StudentID,
		CourseID:               course.ID,
		SemesterRegistrationID: semesterRegistrationID,
		RegistrationKind:       draft.RegistrationKind,
		AdditionalInfo:         draft.AdditionalNotes,
	}
}

// batchYear takes the starting year of an academic year label such as 2024-25.
func batchYear(academicYear string) int {
	if len(academicYear) < 4 {
		return 0
	}
	year, err := strconv.Atoi(academicYear[:4])
	if err != nil {
		return 0
	}
	return year
}
