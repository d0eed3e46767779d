package models

// CourseKind tags an offering's curricular role.
type CourseKind string

const (
	CourseKindCore       CourseKind = "CORE"
	CourseKindElective   CourseKind = "ELECTIVE"
	CourseKindPractical  CourseKind = "PRACTICAL"
	CourseKindProject    CourseKind = "PROJECT"
	CourseKindInternship CourseKind = "INTERNSHIP"
	CourseKindSeminar    CourseKind = "SEMINAR"
)

// School identifies an academic unit supplied by the catalog.
type School struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
}

// CourseOffering is a course available for registration within one school.
type CourseOffering struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	TotalCredits int        `json:"total_credits"`
	Kind         CourseKind `json:"course_kind"`
	SchoolID     string     `json:"school_id"`
	// SeatsAvailable is nil when the catalog does not publish capacity.
	SeatsAvailable *int `json:"seats_available,omitempty"`
	Withdrawn      bool `json:"withdrawn,omitempty"`
}

// Offered reports whether the course can still accept registrations.
func (c CourseOffering) Offered() bool {
	if c.Withdrawn {
		return false
	}
	return c.SeatsAvailable == nil || *c.SeatsAvailable > 0
}
