package models

import (
	"sort"
	"strings"
	"time"
)

// RegistrationStep is a state of the registration wizard.
type RegistrationStep string

// Wizard states in their fixed order.
const (
	StepSchoolSelection RegistrationStep = "SCHOOL_SELECTION"
	StepCourseSelection RegistrationStep = "COURSE_SELECTION"
	StepMetadataEntry   RegistrationStep = "METADATA_ENTRY"
	StepReview          RegistrationStep = "REVIEW"
	StepConfirmation    RegistrationStep = "CONFIRMATION"
)

// RegistrationSteps lists the wizard states in order.
var RegistrationSteps = []RegistrationStep{
	StepSchoolSelection,
	StepCourseSelection,
	StepMetadataEntry,
	StepReview,
	StepConfirmation,
}

// Index returns the position of the step in the wizard or -1.
func (s RegistrationStep) Index() int {
	for i, step := range RegistrationSteps {
		if step == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no transition leaves the step.
func (s RegistrationStep) Terminal() bool {
	return s == StepConfirmation
}

// RegistrationKind describes what a registration attempt does to the student's semester.
type RegistrationKind string

const (
	RegistrationKindNewSemester        RegistrationKind = "NEW_SEMESTER"
	RegistrationKindCourseAddition     RegistrationKind = "COURSE_ADDITION"
	RegistrationKindCourseWithdrawal   RegistrationKind = "COURSE_WITHDRAWAL"
	RegistrationKindSemesterWithdrawal RegistrationKind = "SEMESTER_WITHDRAWAL"
)

// Valid reports whether the kind is one of the known values.
func (k RegistrationKind) Valid() bool {
	switch k {
	case RegistrationKindNewSemester,
		RegistrationKindCourseAddition,
		RegistrationKindCourseWithdrawal,
		RegistrationKindSemesterWithdrawal:
		return true
	}
	return false
}

// RegistrationDraft is the in-progress registration threaded through the wizard.
// Values are treated as immutable: mutators in the service package return new drafts.
type RegistrationDraft struct {
	ID               string            `json:"id"`
	StudentID        string            `json:"student_id"`
	SelectedSchool   *School           `json:"selected_school,omitempty"`
	SelectedCourses  []CourseOffering  `json:"selected_courses"`
	RegistrationKind RegistrationKind  `json:"registration_kind"`
	AcademicYear     string            `json:"academic_year"`
	AdditionalNotes  string            `json:"additional_notes,omitempty"`
	TotalCredits     int               `json:"total_credits"`
	CurrentStep      RegistrationStep  `json:"current_step"`
	Result           *SubmissionResult `json:"submission,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with the original.
func (d RegistrationDraft) Clone() RegistrationDraft {
	out := d
	if d.SelectedSchool != nil {
		school := *d.SelectedSchool
		out.SelectedSchool = &school
	}
	out.SelectedCourses = make([]CourseOffering, len(d.SelectedCourses))
	copy(out.SelectedCourses, d.SelectedCourses)
	if d.Result != nil {
		result := d.Result.Clone()
		out.Result = &result
	}
	return out
}

// CourseIDs returns selected course ids in display order.
func (d RegistrationDraft) CourseIDs() []string {
	ids := make([]string, 0, len(d.SelectedCourses))
	for _, course := range d.SelectedCourses {
		ids = append(ids, course.ID)
	}
	return ids
}

// HasCourse reports whether a course id is selected.
func (d RegistrationDraft) HasCourse(courseID string) bool {
	for _, course := range d.SelectedCourses {
		if course.ID == courseID {
			return true
		}
	}
	return false
}

// Submission returns the recorded submission progress, empty when nothing was submitted.
func (d RegistrationDraft) Submission() SubmissionResult {
	if d.Result == nil {
		return SubmissionResult{}
	}
	return d.Result.Clone()
}

// SubmissionStep tags a completed remote write.
type SubmissionStep string

const (
	SubmissionStepEnrollment           SubmissionStep = "enrollment"
	SubmissionStepSemesterRegistration SubmissionStep = "semester_registration"

	courseStepPrefix = "course:"
)

// CourseSubmissionStep tags the course registration for courseID.
func CourseSubmissionStep(courseID string) SubmissionStep {
	return SubmissionStep(courseStepPrefix + courseID)
}

// CourseID returns the course id carried by a course step tag.
func (s SubmissionStep) CourseID() (string, bool) {
	if !strings.HasPrefix(string(s), courseStepPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), courseStepPrefix), true
}

// StepSet is a sorted set of completed submission steps.
type StepSet []SubmissionStep

// Has reports membership.
func (s StepSet) Has(step SubmissionStep) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= step })
	return i < len(s) && s[i] == step
}

// With returns a new set including step.
func (s StepSet) With(step SubmissionStep) StepSet {
	if s.Has(step) {
		return append(StepSet(nil), s...)
	}
	out := make(StepSet, 0, len(s)+1)
	out = append(out, s...)
	out = append(out, step)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewStepSet normalises raw tags into a set.
func NewStepSet(raw []string) StepSet {
	var set StepSet
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		set = set.With(SubmissionStep(tag))
	}
	return set
}

// Strings returns the raw tags.
func (s StepSet) Strings() []string {
	out := make([]string, len(s))
	for i, step := range s {
		out[i] = string(step)
	}
	return out
}

// CourseRegistrationRef links a course to its remote registration record.
type CourseRegistrationRef struct {
	CourseID       string `json:"course_id"`
	RegistrationID string `json:"registration_id"`
}

// SubmissionResult records which remote writes of a submission succeeded.
type SubmissionResult struct {
	EnrollmentID           string                  `json:"enrollment_id,omitempty"`
	SemesterRegistrationID string                  `json:"semester_registration_id,omitempty"`
	CourseRegistrations    []CourseRegistrationRef `json:"course_registrations,omitempty"`
	CompletedSteps         StepSet                 `json:"completed_steps"`
}

// Clone returns a deep copy.
func (r SubmissionResult) Clone() SubmissionResult {
	out := r
	out.CourseRegistrations = append([]CourseRegistrationRef(nil), r.CourseRegistrations...)
	out.CompletedSteps = append(StepSet(nil), r.CompletedSteps...)
	return out
}

// Empty reports whether no remote write has been recorded.
func (r SubmissionResult) Empty() bool {
	return len(r.CompletedSteps) == 0
}

// Has reports whether step already completed.
func (r SubmissionResult) Has(step SubmissionStep) bool {
	return r.CompletedSteps.Has(step)
}

// WithEnrollment records the enrollment step.
func (r SubmissionResult) WithEnrollment(id string) SubmissionResult {
	out := r.Clone()
	out.EnrollmentID = id
	out.CompletedSteps = out.CompletedSteps.With(SubmissionStepEnrollment)
	return out
}

// WithSemesterRegistration records the semester registration step.
func (r SubmissionResult) WithSemesterRegistration(id string) SubmissionResult {
	out := r.Clone()
	out.SemesterRegistrationID = id
	out.CompletedSteps = out.CompletedSteps.With(SubmissionStepSemesterRegistration)
	return out
}

// WithCourseRegistration records one course registration.
func (r SubmissionResult) WithCourseRegistration(courseID, registrationID string) SubmissionResult {
	out := r.Clone()
	if out.Has(CourseSubmissionStep(courseID)) {
		return out
	}
	out.CourseRegistrations = append(out.CourseRegistrations, CourseRegistrationRef{CourseID: courseID, RegistrationID: registrationID})
	out.CompletedSteps = out.CompletedSteps.With(CourseSubmissionStep(courseID))
	return out
}

// CourseRegistrationID returns the remote id recorded for courseID.
func (r SubmissionResult) CourseRegistrationID(courseID string) (string, bool) {
	for _, ref := range r.CourseRegistrations {
		if ref.CourseID == courseID {
			return ref.RegistrationID, true
		}
	}
	return "", false
}

// CourseRegistrationIDs returns remote ids in recorded order.
func (r SubmissionResult) CourseRegistrationIDs() []string {
	ids := make([]string, 0, len(r.CourseRegistrations))
	for _, ref := range r.CourseRegistrations {
		ids = append(ids, ref.RegistrationID)
	}
	return ids
}

// PendingCourses returns the courses with no recorded registration, in input order.
func (r SubmissionResult) PendingCourses(courses []CourseOffering) []CourseOffering {
	pending := make([]CourseOffering, 0, len(courses))
	for _, course := range courses {
		if !r.Has(CourseSubmissionStep(course.ID)) {
			pending = append(pending, course)
		}
	}
	return pending
}

// CompleteFor reports whether every write needed for courses has succeeded.
func (r SubmissionResult) CompleteFor(courses []CourseOffering) bool {
	if !r.Has(SubmissionStepEnrollment) || !r.Has(SubmissionStepSemesterRegistration) {
		return false
	}
	return len(r.PendingCourses(courses)) == 0
}

// OrderedBy reorders course registrations to follow the given courses.
func (r SubmissionResult) OrderedBy(courses []CourseOffering) SubmissionResult {
	out := r.Clone()
	position := make(map[string]int, len(courses))
	for i, course := range courses {
		position[course.ID] = i
	}
	sort.SliceStable(out.CourseRegistrations, func(i, j int) bool {
		pi, iok := position[out.CourseRegistrations[i].CourseID]
		pj, jok := position[out.CourseRegistrations[j].CourseID]
		if iok != jok {
			return iok
		}
		return pi < pj
	})
	return out
}
