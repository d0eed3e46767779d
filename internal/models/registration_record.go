package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// RegistrationDraftRecord is the flat persisted layout of a draft used for save/resume.
// Course snapshots are not stored; resume rebuilds them from CourseIDs.
// ClaimToken and SubmittingUntil hold the submission lease of the replica running the saga.
type RegistrationDraftRecord struct {
	ID                     string           `db:"id"`
	StudentID              string           `db:"student_id"`
	SchoolID               *string          `db:"school_id"`
	CourseIDs              pq.StringArray   `db:"course_ids"`
	RegistrationKind       RegistrationKind `db:"registration_kind"`
	AcademicYear           string           `db:"academic_year"`
	Notes                  *string          `db:"notes"`
	CurrentStep            RegistrationStep `db:"current_step"`
	CompletedSteps         pq.StringArray   `db:"completed_steps"`
	EnrollmentID           *string          `db:"enrollment_id"`
	SemesterRegistrationID *string          `db:"semester_registration_id"`
	CourseRegistrations    []byte           `db:"course_registrations"`
	LastError              *string          `db:"last_error"`
	ClaimToken             *string          `db:"claim_token"`
	SubmittingUntil        *time.Time       `db:"submitting_until"`
	Version                int              `db:"version"`
	CreatedAt              time.Time        `db:"created_at"`
	UpdatedAt              time.Time        `db:"updated_at"`
}

// RegistrationEventType enumerates audit trail entries of the workflow.
type RegistrationEventType string

const (
	RegistrationEventStarted         RegistrationEventType = "STARTED"
	RegistrationEventAdvanced        RegistrationEventType = "ADVANCED"
	RegistrationEventRetreated       RegistrationEventType = "RETREATED"
	RegistrationEventRejected        RegistrationEventType = "REJECTED"
	RegistrationEventStepSubmitted   RegistrationEventType = "STEP_SUBMITTED"
	RegistrationEventSubmissionError RegistrationEventType = "SUBMISSION_FAILED"
	RegistrationEventConfirmed       RegistrationEventType = "CONFIRMED"
	RegistrationEventCancelled       RegistrationEventType = "CANCELLED"
)

// RegistrationEvent is an append-only audit record for a draft.
type RegistrationEvent struct {
	ID        string                `db:"id" json:"id"`
	DraftID   string                `db:"draft_id" json:"draft_id"`
	StudentID string                `db:"student_id" json:"student_id"`
	Type      RegistrationEventType `db:"event_type" json:"type"`
	Step      RegistrationStep      `db:"step" json:"step"`
	Payload   json.RawMessage       `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time             `db:"created_at" json:"created_at"`
}
