package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/erp-registration-api/internal/models"
)

// RegistrationMetadata is the data collected by the metadata step.
type RegistrationMetadata struct {
	Kind         models.RegistrationKind
	AcademicYear string
	Notes        string
}

// StartRegistration creates an empty draft positioned at school selection.
func StartRegistration(studentID string) models.RegistrationDraft {
	now := time.Now().UTC()
	return models.RegistrationDraft{
		ID:               uuid.NewString(),
		StudentID:        strings.TrimSpace(studentID),
		SelectedCourses:  []models.CourseOffering{},
		RegistrationKind: models.RegistrationKindNewSemester,
		CurrentStep:      models.StepSchoolSelection,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SelectSchool returns a draft pointing at school. Courses that do not belong to the
// new school are dropped so no cross-school selection survives a school change.
func SelectSchool(draft models.RegistrationDraft, school models.School) models.RegistrationDraft {
	next := draft.Clone()
	changing := next.SelectedSchool == nil || next.SelectedSchool.ID != school.ID
	if changing && SchoolLocked(draft) {
		return next
	}
	if changing {
		kept := make([]models.CourseOffering, 0, len(next.SelectedCourses))
		for _, course := range next.SelectedCourses {
			if course.SchoolID == school.ID {
				kept = append(kept, course)
			}
		}
		next.SelectedCourses = kept
	}
	selected := school
	next.SelectedSchool = &selected
	return withTotals(next)
}

// SelectCourse adds course when it is not selected yet. Selecting an already selected id
// and selecting a course from another school are both no-ops.
func SelectCourse(draft models.RegistrationDraft, course models.CourseOffering) models.RegistrationDraft {
	next := draft.Clone()
	if next.HasCourse(course.ID) {
		return next
	}
	if next.SelectedSchool == nil || course.SchoolID != next.SelectedSchool.ID {
		return next
	}
	next.SelectedCourses = append(next.SelectedCourses, course)
	return withTotals(next)
}

// DeselectCourse removes courseID unless it has already been registered remotely.
func DeselectCourse(draft models.RegistrationDraft, courseID string) models.RegistrationDraft {
	next := draft.Clone()
	if CourseLocked(draft, courseID) {
		return next
	}
	kept := next.SelectedCourses[:0]
	for _, course := range next.SelectedCourses {
		if course.ID != courseID {
			kept = append(kept, course)
		}
	}
	next.SelectedCourses = kept
	return withTotals(next)
}

// ToggleCourse removes a selected course or adds an unselected one.
func ToggleCourse(draft models.RegistrationDraft, course models.CourseOffering) models.RegistrationDraft {
	if draft.HasCourse(course.ID) {
		return DeselectCourse(draft, course.ID)
	}
	return SelectCourse(draft, course)
}

// SetMetadata records kind, academic year and notes. Kind and year are frozen once the
// semester registration exists remotely; notes stay editable.
func SetMetadata(draft models.RegistrationDraft, meta RegistrationMetadata) models.RegistrationDraft {
	next := draft.Clone()
	if !MetadataLocked(draft) {
		next.RegistrationKind = models.RegistrationKind(strings.ToUpper(strings.TrimSpace(string(meta.Kind))))
		next.AcademicYear = strings.TrimSpace(meta.AcademicYear)
	}
	next.AdditionalNotes = strings.TrimSpace(meta.Notes)
	return withTotals(next)
}

// SchoolLocked reports whether the program enrollment already exists for the draft's school.
func SchoolLocked(draft models.RegistrationDraft) bool {
	return draft.Submission().Has(models.SubmissionStepEnrollment)
}

// MetadataLocked reports whether the semester registration already carries kind and year.
func MetadataLocked(draft models.RegistrationDraft) bool {
	return draft.Submission().Has(models.SubmissionStepSemesterRegistration)
}

// CourseLocked reports whether courseID is already registered remotely.
func CourseLocked(draft models.RegistrationDraft, courseID string) bool {
	return draft.Submission().Has(models.CourseSubmissionStep(courseID))
}

// CreditSum adds the credit weights of courses.
func CreditSum(courses []models.CourseOffering) int {
	total := 0
	for _, course := range courses {
		total += course.TotalCredits
	}
	return total
}

func withTotals(draft models.RegistrationDraft) models.RegistrationDraft {
	draft.TotalCredits = CreditSum(draft.SelectedCourses)
	return draft
}
