package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/noah-isme/erp-registration-api/internal/models"
	"github.com/noah-isme/erp-registration-api/pkg/config"
)

var engineering = models.School{ID: "sch-1", Name: "Engineering", Code: "ENG"}

func offering(id string, credits int) models.CourseOffering {
	return models.CourseOffering{ID: id, Code: "C" + id, Name: "Course " + id, TotalCredits: credits, Kind: models.CourseKindCore, SchoolID: engineering.ID}
}

func readyDraft(courses ...models.CourseOffering) models.RegistrationDraft {
	draft := SelectSchool(StartRegistration("stu-1"), engineering)
	for _, course := range courses {
		draft = SelectCourse(draft, course)
	}
	return SetMetadata(draft, RegistrationMetadata{Kind: models.RegistrationKindNewSemester, AcademicYear: "2024-25"})
}

func TestValidateForSubmissionAcceptsCompleteDraft(t *testing.T) {
	draft := readyDraft(offering("10", 4), offering("11", 3))

	assert.Equal(t, 7, draft.TotalCredits)
	violations := NewSelectionValidator(DefaultCreditPolicy()).ValidateForSubmission(draft)
	require.NotNil(t, violations)
	assert.Empty(t, violations)
}

func TestValidateCourseStepEmptySelection(t *testing.T) {
	draft := SelectSchool(StartRegistration("stu-1"), engineering)

	violations := NewSelectionValidator(DefaultCreditPolicy()).ValidateCourseStep(draft)
	assert.Equal(t, []models.ViolationCode{models.ViolationEmptySelection}, models.ViolationCodes(violations))
}

func TestValidateMetadataStep(t *testing.T) {
	validator := NewSelectionValidator(DefaultCreditPolicy())
	tests := []struct {
		name string
		kind models.RegistrationKind
		year string
		want []models.ViolationCode
	}{
		{name: "valid", kind: models.RegistrationKindCourseAddition, year: "2024-25", want: []models.ViolationCode{}},
		{name: "malformed year", kind: models.RegistrationKindNewSemester, year: "2024", want: []models.ViolationCode{models.ViolationInvalidAcademicYearFormat}},
		{name: "empty year reports only missing value", kind: models.RegistrationKindNewSemester, year: "  ", want: []models.ViolationCode{models.ViolationEmptyAcademicYear}},
		{name: "unknown kind", kind: "SUMMER", year: "2024-25", want: []models.ViolationCode{models.ViolationUnknownRegistrationKind}},
		{name: "rule order", kind: "SUMMER", year: "24-25", want: []models.ViolationCode{models.ViolationInvalidAcademicYearFormat, models.ViolationUnknownRegistrationKind}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			draft := SetMetadata(StartRegistration("stu-1"), RegistrationMetadata{Kind: tc.kind, AcademicYear: tc.year})
			assert.Equal(t, tc.want, models.ViolationCodes(validator.ValidateMetadataStep(draft)))
		})
	}
}

func TestValidateCourseStepCreditCeilingFollowsKind(t *testing.T) {
	validator := NewSelectionValidator(DefaultCreditPolicy())
	draft := readyDraft(offering("a", 6), offering("b", 5), offering("c", 4))

	assert.Empty(t, validator.ValidateCourseStep(draft))

	addition := SetMetadata(draft, RegistrationMetadata{Kind: models.RegistrationKindCourseAddition, AcademicYear: "2024-25"})
	violations := validator.ValidateCourseStep(addition)
	require.Len(t, violations, 1)
	assert.Equal(t, models.ViolationCreditLoadExceeded, violations[0].Code)
	assert.Contains(t, violations[0].Message, "15")
}

func TestValidateCourseStepReportsCorruptSelections(t *testing.T) {
	validator := NewSelectionValidator(DefaultCreditPolicy())
	draft := readyDraft(offering("a", 0))
	foreign := models.CourseOffering{ID: "x", TotalCredits: 0, SchoolID: "other"}
	draft.SelectedCourses = append(draft.SelectedCourses, draft.SelectedCourses[0], foreign)

	violations := validator.ValidateCourseStep(draft)
	assert.Equal(t, []models.ViolationCode{
		models.ViolationDuplicateCourse,
		models.ViolationZeroCreditLoad,
		models.ViolationCrossSchoolCourse,
	}, models.ViolationCodes(violations))
	assert.Equal(t, []string{"a"}, violations[0].CourseIDs)
	assert.Equal(t, []string{"x"}, violations[2].CourseIDs)
}

func TestValidateStepIsDeterministic(t *testing.T) {
	validator := NewSelectionValidator(DefaultCreditPolicy())
	draft := StartRegistration("stu-1")
	draft.AcademicYear = "bad"

	first := validator.ValidateStep(models.StepReview, draft)
	second := validator.ValidateStep(models.StepReview, draft)
	assert.Equal(t, first, second)
	assert.Equal(t, []models.ViolationCode{
		models.ViolationMissingSchool,
		models.ViolationEmptySelection,
		models.ViolationInvalidAcademicYearFormat,
	}, models.ViolationCodes(first))
	assert.Empty(t, validator.ValidateStep(models.StepConfirmation, draft))
}

func TestCreditPolicyFromConfig(t *testing.T) {
	policy := CreditPolicyFromConfig(config.RegistrationConfig{MaxCreditsCourseAddition: 9})

	assert.Equal(t, 9, policy.Ceiling(models.RegistrationKindCourseAddition))
	assert.Equal(t, 24, policy.Ceiling(models.RegistrationKindNewSemester))
	assert.Equal(t, 24, policy.Ceiling("UNKNOWN"))
}

func TestRecheckOfferingsFlagsWithdrawnCourses(t *testing.T) {
	draft := readyDraft(offering("a", 3), offering("b", 3), offering("c", 3))
	registered := draft.Submission().WithEnrollment("enr").WithSemesterRegistration("sem").WithCourseRegistration("c", "reg-c")
	draft.Result = &registered

	full := 0
	fresh := []models.CourseOffering{offering("a", 4), offering("b", 3), offering("c", 3)}
	fresh[1].SeatsAvailable = &full
	fresh[2].Withdrawn = true

	checked, violations := RecheckOfferings(draft, fresh)
	require.Len(t, violations, 1)
	assert.Equal(t, models.ViolationCourseUnavailable, violations[0].Code)
	assert.Equal(t, []string{"b"}, violations[0].CourseIDs)
	assert.Equal(t, 10, checked.TotalCredits)
	assert.Equal(t, 9, draft.TotalCredits, "input draft must not change")

	_, violations = RecheckOfferings(draft, fresh[:1])
	require.Len(t, violations, 1)
	assert.Equal(t, []string{"b"}, violations[0].CourseIDs)
}

func TestSelectCourseIgnoresOtherSchools(t *testing.T) {
	draft := SelectSchool(StartRegistration("stu-1"), engineering)
	foreign := models.CourseOffering{ID: "x", TotalCredits: 3, SchoolID: "sch-2"}

	next := SelectCourse(draft, foreign)
	assert.Empty(t, next.SelectedCourses)
	assert.Empty(t, SelectCourse(StartRegistration("stu-1"), offering("a", 3)).SelectedCourses)
}

func TestSelectSchoolDropsCoursesOfPreviousSchool(t *testing.T) {
	draft := readyDraft(offering("a", 3))

	same := SelectSchool(draft, engineering)
	assert.Len(t, same.SelectedCourses, 1)

	other := SelectSchool(draft, models.School{ID: "sch-2", Name: "Sciences"})
	assert.Equal(t, "sch-2", other.SelectedSchool.ID)
	assert.Empty(t, other.SelectedCourses)
	assert.Zero(t, other.TotalCredits)
	assert.Len(t, draft.SelectedCourses, 1)
}

func TestSubmittedRecordsLockSelection(t *testing.T) {
	draft := readyDraft(offering("a", 3), offering("b", 2))
	result := draft.Submission().WithEnrollment("enr").WithSemesterRegistration("sem").WithCourseRegistration("a", "reg-a")
	draft.Result = &result

	assert.Equal(t, engineering.ID, SelectSchool(draft, models.School{ID: "sch-2"}).SelectedSchool.ID)

	meta := SetMetadata(draft, RegistrationMetadata{Kind: models.RegistrationKindCourseAddition, AcademicYear: "2025-26", Notes: "late"})
	assert.Equal(t, models.RegistrationKindNewSemester, meta.RegistrationKind)
	assert.Equal(t, "2024-25", meta.AcademicYear)
	assert.Equal(t, "late", meta.AdditionalNotes)

	assert.True(t, ToggleCourse(draft, offering("a", 3)).HasCourse("a"))
	assert.False(t, ToggleCourse(draft, offering("b", 2)).HasCourse("b"))
}

func TestSetMetadataNormalisesKind(t *testing.T) {
	draft := SetMetadata(StartRegistration("stu-1"), RegistrationMetadata{Kind: " course_addition ", AcademicYear: " 2024-25 "})
	assert.Equal(t, models.RegistrationKindCourseAddition, draft.RegistrationKind)
	assert.Equal(t, "2024-25", draft.AcademicYear)
}

func coursesGen() *rapid.Generator[[]models.CourseOffering] {
	return rapid.Custom(func(t *rapid.T) []models.CourseOffering {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		courses := make([]models.CourseOffering, 0, n)
		for i := 0; i < n; i++ {
			id := rapid.StringMatching(`[a-z]{1,3}[0-9]{1,3}`).Draw(t, "id")
			credits := rapid.IntRange(0, 8).Draw(t, "credits")
			courses = append(courses, offering(id, credits))
		}
		return courses
	})
}

func TestDraftTotalCreditsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		draft := SelectSchool(StartRegistration("stu-1"), engineering)
		for _, course := range coursesGen().Draw(t, "courses") {
			draft = ToggleCourse(draft, course)
		}

		if draft.TotalCredits != CreditSum(draft.SelectedCourses) {
			t.Fatalf("total credits %d, sum %d", draft.TotalCredits, CreditSum(draft.SelectedCourses))
		}
		seen := map[string]bool{}
		for _, course := range draft.SelectedCourses {
			if seen[course.ID] {
				t.Fatalf("course %s selected twice", course.ID)
			}
			seen[course.ID] = true
		}
	})
}

func TestToggleCourseTwiceRestoresSelection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		draft := SelectSchool(StartRegistration("stu-1"), engineering)
		for _, course := range coursesGen().Draw(t, "courses") {
			draft = SelectCourse(draft, course)
		}
		course := offering(rapid.StringMatching(`[a-z]{1,3}[0-9]{1,3}`).Draw(t, "toggled"), rapid.IntRange(0, 8).Draw(t, "credits"))
		wasSelected := draft.HasCourse(course.ID)
		for _, selected := range draft.SelectedCourses {
			if selected.ID == course.ID {
				course = selected
			}
		}

		again := ToggleCourse(ToggleCourse(draft, course), course)
		if !wasSelected {
			assert.Equal(t, draft.SelectedCourses, again.SelectedCourses)
		} else {
			assert.ElementsMatch(t, draft.CourseIDs(), again.CourseIDs())
		}
		assert.Equal(t, draft.TotalCredits, again.TotalCredits)
	})
}
