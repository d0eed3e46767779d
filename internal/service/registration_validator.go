package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/noah-isme/erp-registration-api/internal/models"
	"github.com/noah-isme/erp-registration-api/pkg/config"
)

var academicYearPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// CreditPolicy holds the maximum credit load per registration kind.
type CreditPolicy struct {
	ceilings map[models.RegistrationKind]int
}

// DefaultCreditPolicy mirrors the configuration defaults.
func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{ceilings: map[models.RegistrationKind]int{
		models.RegistrationKindNewSemester:        24,
		models.RegistrationKindCourseAddition:     12,
		models.RegistrationKindCourseWithdrawal:   24,
		models.RegistrationKindSemesterWithdrawal: 24,
	}}
}

// CreditPolicyFromConfig builds the policy from configured ceilings. Zero values fall back to defaults.
func CreditPolicyFromConfig(cfg config.RegistrationConfig) CreditPolicy {
	policy := DefaultCreditPolicy()
	overrides := map[models.RegistrationKind]int{
		models.RegistrationKindNewSemester:        cfg.MaxCreditsNewSemester,
		models.RegistrationKindCourseAddition:     cfg.MaxCreditsCourseAddition,
		models.RegistrationKindCourseWithdrawal:   cfg.MaxCreditsCourseWithdrawal,
		models.RegistrationKindSemesterWithdrawal: cfg.MaxCreditsSemesterWithdrawal,
	}
	for kind, ceiling := range overrides {
		if ceiling > 0 {
			policy.ceilings[kind] = ceiling
		}
	}
	return policy
}

// Ceiling returns the maximum credit load for kind. Unknown kinds use the new-semester ceiling.
func (p CreditPolicy) Ceiling(kind models.RegistrationKind) int {
	if ceiling, ok := p.ceilings[kind]; ok {
		return ceiling
	}
	return p.ceilings[models.RegistrationKindNewSemester]
}

type selectionRule func(draft models.RegistrationDraft) *models.Violation

// SelectionValidator checks the data gathered by each wizard step. Results are
// deterministic and listed in rule order.
type SelectionValidator struct {
	policy   CreditPolicy
	school   []selectionRule
	courses  []selectionRule
	metadata []selectionRule
}

// NewSelectionValidator wires the rule sets against policy.
func NewSelectionValidator(policy CreditPolicy) *SelectionValidator {
	v := &SelectionValidator{policy: policy}
	v.school = []selectionRule{requireSchool}
	v.courses = []selectionRule{
		requireCourses,
		rejectDuplicateCourses,
		requirePositiveCredits,
		v.enforceCreditCeiling,
		rejectCrossSchoolCourses,
	}
	v.metadata = []selectionRule{
		requireAcademicYear,
		requireKnownKind,
	}
	return v
}

// ValidateSchoolStep checks that a school is selected.
func (v *SelectionValidator) ValidateSchoolStep(draft models.RegistrationDraft) []models.Violation {
	return apply(v.school, draft)
}

// ValidateCourseStep checks the course selection.
func (v *SelectionValidator) ValidateCourseStep(draft models.RegistrationDraft) []models.Violation {
	return apply(v.courses, draft)
}

// ValidateMetadataStep checks academic year and registration kind.
func (v *SelectionValidator) ValidateMetadataStep(draft models.RegistrationDraft) []models.Violation {
	return apply(v.metadata, draft)
}

// ValidateForSubmission runs every rule set in wizard order.
func (v *SelectionValidator) ValidateForSubmission(draft models.RegistrationDraft) []models.Violation {
	violations := v.ValidateSchoolStep(draft)
	violations = append(violations, v.ValidateCourseStep(draft)...)
	violations = append(violations, v.ValidateMetadataStep(draft)...)
	return violations
}

// ValidateStep returns the violations that block leaving step.
func (v *SelectionValidator) ValidateStep(step models.RegistrationStep, draft models.RegistrationDraft) []models.Violation {
	switch step {
	case models.StepSchoolSelection:
		return v.ValidateSchoolStep(draft)
	case models.StepCourseSelection:
		return v.ValidateCourseStep(draft)
	case models.StepMetadataEntry:
		return v.ValidateMetadataStep(draft)
	case models.StepReview:
		return v.ValidateForSubmission(draft)
	default:
		return []models.Violation{}
	}
}

// RecheckOfferings refreshes the course snapshots in draft from fresh catalog data and
// reports selected courses that are no longer offered. Courses already registered
// remotely keep their place and are never flagged.
func RecheckOfferings(draft models.RegistrationDraft, fresh []models.CourseOffering) (models.RegistrationDraft, []models.Violation) {
	index := make(map[string]models.CourseOffering, len(fresh))
	for _, course := range fresh {
		index[course.ID] = course
	}

	next := draft.Clone()
	submission := draft.Submission()
	var unavailable []string
	for i, course := range next.SelectedCourses {
		current, ok := index[course.ID]
		if submission.Has(models.CourseSubmissionStep(course.ID)) {
			if ok {
				next.SelectedCourses[i] = current
			}
			continue
		}
		if !ok || !current.Offered() {
			unavailable = append(unavailable, course.ID)
			if ok {
				next.SelectedCourses[i] = current
			}
			continue
		}
		next.SelectedCourses[i] = current
	}
	next = withTotals(next)

	if len(unavailable) == 0 {
		return next, []models.Violation{}
	}
	return next, []models.Violation{{
		Code:      models.ViolationCourseUnavailable,
		Message:   fmt.Sprintf("%d selected course(s) are no longer offered: %s", len(unavailable), strings.Join(unavailable, ", ")),
		CourseIDs: unavailable,
	}}
}

func apply(rules []selectionRule, draft models.RegistrationDraft) []models.Violation {
	violations := make([]models.Violation, 0)
	for _, rule := range rules {
		if violation := rule(draft); violation != nil {
			violations = append(violations, *violation)
		}
	}
	return violations
}

func requireSchool(draft models.RegistrationDraft) *models.Violation {
	if draft.SelectedSchool != nil && strings.TrimSpace(draft.SelectedSchool.ID) != "" {
		return nil
	}
	return &models.Violation{Code: models.ViolationMissingSchool, Message: "select a school before continuing"}
}

func requireCourses(draft models.RegistrationDraft) *models.Violation {
	if len(draft.SelectedCourses) > 0 {
		return nil
	}
	return &models.Violation{Code: models.ViolationEmptySelection, Message: "select at least one course"}
}

func rejectDuplicateCourses(draft models.RegistrationDraft) *models.Violation {
	seen := make(map[string]struct{}, len(draft.SelectedCourses))
	var duplicates []string
	for _, course := range draft.SelectedCourses {
		if _, ok := seen[course.ID]; ok {
			duplicates = append(duplicates, course.ID)
			continue
		}
		seen[course.ID] = struct{}{}
	}
	if len(duplicates) == 0 {
		return nil
	}
	return &models.Violation{
		Code:      models.ViolationDuplicateCourse,
		Message:   "a course can only be selected once",
		CourseIDs: duplicates,
	}
}

func requirePositiveCredits(draft models.RegistrationDraft) *models.Violation {
	if len(draft.SelectedCourses) == 0 || CreditSum(draft.SelectedCourses) > 0 {
		return nil
	}
	return &models.Violation{Code: models.ViolationZeroCreditLoad, Message: "selected courses carry no credits"}
}

func (v *SelectionValidator) enforceCreditCeiling(draft models.RegistrationDraft) *models.Violation {
	total := CreditSum(draft.SelectedCourses)
	ceiling := v.policy.Ceiling(draft.RegistrationKind)
	if total <= ceiling {
		return nil
	}
	return &models.Violation{
		Code:    models.ViolationCreditLoadExceeded,
		Message: fmt.Sprintf("selected courses total %d credits; the limit for %s is %d", total, kindLabel(draft.RegistrationKind), ceiling),
	}
}

func rejectCrossSchoolCourses(draft models.RegistrationDraft) *models.Violation {
	if draft.SelectedSchool == nil {
		return nil
	}
	var foreign []string
	for _, course := range draft.SelectedCourses {
		if course.SchoolID != draft.SelectedSchool.ID {
			foreign = append(foreign, course.ID)
		}
	}
	if len(foreign) == 0 {
		return nil
	}
	return &models.Violation{
		Code:      models.ViolationCrossSchoolCourse,
		Message:   fmt.Sprintf("courses must belong to %s", draft.SelectedSchool.ID),
		CourseIDs: foreign,
	}
}

// An empty year reports only the missing value, not the format violation as well.
func requireAcademicYear(draft models.RegistrationDraft) *models.Violation {
	year := strings.TrimSpace(draft.AcademicYear)
	if year == "" {
		return &models.Violation{Code: models.ViolationEmptyAcademicYear, Message: "academic year is required"}
	}
	if !academicYearPattern.MatchString(year) {
		return &models.Violation{
			Code:    models.ViolationInvalidAcademicYearFormat,
			Message: fmt.Sprintf("academic year %q must look like 2024-25", year),
		}
	}
	return nil
}

func requireKnownKind(draft models.RegistrationDraft) *models.Violation {
	if draft.RegistrationKind.Valid() {
		return nil
	}
	return &models.Violation{
		Code:    models.ViolationUnknownRegistrationKind,
		Message: fmt.Sprintf("unknown registration kind %q", draft.RegistrationKind),
	}
}

func kindLabel(kind models.RegistrationKind) string {
	if kind.Valid() {
		return string(kind)
	}
	return string(models.RegistrationKindNewSemester)
}
