package models

// ViolationCode names a reason a step's data fails validation.
type ViolationCode string

const (
	ViolationMissingSchool             ViolationCode = "MISSING_SCHOOL"
	ViolationEmptySelection            ViolationCode = "EMPTY_SELECTION"
	ViolationCreditLoadExceeded        ViolationCode = "CREDIT_LOAD_EXCEEDED"
	ViolationCrossSchoolCourse         ViolationCode = "CROSS_SCHOOL_COURSE"
	ViolationDuplicateCourse           ViolationCode = "DUPLICATE_COURSE"
	ViolationZeroCreditLoad            ViolationCode = "ZERO_CREDIT_LOAD"
	ViolationEmptyAcademicYear         ViolationCode = "EMPTY_ACADEMIC_YEAR"
	ViolationInvalidAcademicYearFormat ViolationCode = "INVALID_ACADEMIC_YEAR_FORMAT"
	ViolationUnknownRegistrationKind   ViolationCode = "UNKNOWN_REGISTRATION_KIND"
	ViolationCourseUnavailable         ViolationCode = "COURSE_UNAVAILABLE"
)

// Violation is a single failed rule. Violations are data, never errors.
type Violation struct {
	Code      ViolationCode `json:"code"`
	Message   string        `json:"message"`
	CourseIDs []string      `json:"course_ids,omitempty"`
}

// ViolationCodes extracts the codes in order.
func ViolationCodes(violations []Violation) []ViolationCode {
	codes := make([]ViolationCode, 0, len(violations))
	for _, v := range violations {
		codes = append(codes, v.Code)
	}
	return codes
}
