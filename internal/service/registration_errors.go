package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/erp-registration-api/internal/dto"
	"github.com/noah-isme/erp-registration-api/internal/models"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
)

// SubmissionFailureKind names the saga step that stopped a submission.
type SubmissionFailureKind string

const (
	SubmissionEnrollmentFailed           SubmissionFailureKind = "ENROLLMENT_FAILED"
	SubmissionSemesterRegistrationFailed SubmissionFailureKind = "SEMESTER_REGISTRATION_FAILED"
	SubmissionCourseRegistrationFailed   SubmissionFailureKind = "COURSE_REGISTRATION_FAILED"
)

// ConflictReason classifies why a course registration was refused.
type ConflictReason string

const (
	ConflictReasonCapacity ConflictReason = "capacity"
	ConflictReasonOther    ConflictReason = "other"
)

// CourseFailure describes one course registration that did not succeed.
type CourseFailure struct {
	CourseID string
	Reason   ConflictReason
	Message  string
	Err      error
}

// SubmissionError reports a partially or wholly failed submission. Result always
// carries every remote write that did succeed so a retry can resume from it.
type SubmissionError struct {
	Kind         SubmissionFailureKind
	Courses      []CourseFailure
	Result       models.SubmissionResult
	TotalCourses int
	Err          error
}

func newCourseFailure(courseID string, err error) CourseFailure {
	reason := ConflictReasonOther
	if errors.Is(err, appErrors.ErrCapacityConflict) {
		reason = ConflictReasonCapacity
	}
	message := "course registration failed"
	if err != nil {
		message = appErrors.FromError(err).Message
	}
	return CourseFailure{CourseID: courseID, Reason: reason, Message: message, Err: err}
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Summary(), e.Err)
	}
	return e.Summary()
}

func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets callers match a submission failure against the predefined error.
func (e *SubmissionError) Is(target error) bool {
	return target == appErrors.ErrSubmissionFailed
}

// Summary is the user facing sentence describing what succeeded and what did not.
func (e *SubmissionError) Summary() string {
	switch e.Kind {
	case SubmissionEnrollmentFailed:
		return "program enrollment failed; no registration records were created"
	case SubmissionSemesterRegistrationFailed:
		return "program enrollment succeeded but semester registration failed; no courses were submitted"
	case SubmissionCourseRegistrationFailed:
		summary := fmt.Sprintf("enrollment and semester registration succeeded; %d of %d courses could not be registered", len(e.Courses), e.TotalCourses)
		if full := e.capacityFailures(); full > 0 {
			summary += fmt.Sprintf(" (%d no longer have seats)", full)
		}
		return summary
	default:
		return "registration submission failed"
	}
}

// FailedCourseIDs lists the courses that were not registered, in draft order.
func (e *SubmissionError) FailedCourseIDs() []string {
	ids := make([]string, 0, len(e.Courses))
	for _, course := range e.Courses {
		ids = append(ids, course.CourseID)
	}
	return ids
}

// RequiresReselection reports whether some course lost its seats, which a plain retry cannot fix.
func (e *SubmissionError) RequiresReselection() bool {
	return e.capacityFailures() > 0
}

// View renders the failure for API responses.
func (e *SubmissionError) View() dto.SubmissionFailure {
	courses := make([]dto.CourseFailureView, 0, len(e.Courses))
	for _, course := range e.Courses {
		courses = append(courses, dto.CourseFailureView{
			CourseID: course.CourseID,
			Reason:   string(course.Reason),
			Message:  course.Message,
		})
	}
	return dto.SubmissionFailure{
		Kind:                string(e.Kind),
		Summary:             e.Summary(),
		Courses:             courses,
		CompletedSteps:      e.Result.CompletedSteps.Strings(),
		RequiresReselection: e.RequiresReselection(),
	}
}

func (e *SubmissionError) capacityFailures() int {
	count := 0
	for _, course := range e.Courses {
		if course.Reason == ConflictReasonCapacity {
			count++
		}
	}
	return count
}

// CancelOutcome tells the caller what cancelling a draft left behind.
type CancelOutcome struct {
	DraftID            string                  `json:"draft_id"`
	PartialRemoteState bool                    `json:"partial_remote_state"`
	SubmissionInFlight bool                    `json:"submission_in_flight"`
	Result             models.SubmissionResult `json:"submission"`
	Warning            string                  `json:"warning,omitempty"`
}
