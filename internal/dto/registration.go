package dto

import (
	"time"

	"github.com/noah-isme/erp-registration-api/internal/models"
)

// StartRegistrationRequest opens a new draft for a student.
type StartRegistrationRequest struct {
	StudentID string `json:"studentId" validate:"required,max=64"`
}

// SelectSchoolRequest picks the school of a draft.
type SelectSchoolRequest struct {
	SchoolID string `json:"schoolId" validate:"required,max=64"`
}

// RegistrationMetadataRequest carries the metadata step. Format problems are reported as
// violations on advance, so only sizes are checked here.
type RegistrationMetadataRequest struct {
	RegistrationKind string `json:"registrationKind" validate:"omitempty,max=32"`
	AcademicYear     string `json:"academicYear" validate:"max=16"`
	Notes            string `json:"notes" validate:"max=2000"`
}

// CourseFailureView describes one failed course registration.
type CourseFailureView struct {
	CourseID string `json:"courseId"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

// SubmissionFailure is returned alongside the draft when submission stops part way.
type SubmissionFailure struct {
	Kind                string              `json:"kind"`
	Summary             string              `json:"summary"`
	Courses             []CourseFailureView `json:"courses"`
	CompletedSteps      []string            `json:"completedSteps"`
	RequiresReselection bool                `json:"requiresReselection"`
}

// AdvanceResponse reports the draft after an advance or submit attempt.
type AdvanceResponse struct {
	Draft      models.RegistrationDraft `json:"draft"`
	Moved      bool                     `json:"moved"`
	Violations []models.Violation       `json:"violations"`
	Failure    *SubmissionFailure       `json:"failure,omitempty"`
}

// ConfirmationCourse is one registered course line.
type ConfirmationCourse struct {
	CourseID       string `json:"courseId"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Credits        int    `json:"credits"`
	RegistrationID string `json:"registrationId"`
}

// ConfirmationSummary is the read-only view of a confirmed registration.
type ConfirmationSummary struct {
	DraftID                string               `json:"draftId"`
	StudentID              string               `json:"studentId"`
	SchoolID               string               `json:"schoolId"`
	SchoolName             string               `json:"schoolName"`
	RegistrationKind       string               `json:"registrationKind"`
	AcademicYear           string               `json:"academicYear"`
	EnrollmentID           string               `json:"enrollmentId"`
	SemesterRegistrationID string               `json:"semesterRegistrationId"`
	TotalCredits           int                  `json:"totalCredits"`
	Courses                []ConfirmationCourse `json:"courses"`
	ConfirmedAt            time.Time            `json:"confirmedAt"`
}

// SlipLink is a time limited download link for a confirmation slip.
type SlipLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
