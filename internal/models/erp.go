package models

// EnrollmentRequest asks the ERP to ensure an active program enrollment.
type EnrollmentRequest struct {
	StudentID        string            `json:"student_id"`
	ProgramID        string            `json:"program_id"`
	BatchYear        int               `json:"batch_year"`
	EnrollmentStatus string            `json:"enrollment_status"`
	AdmissionDetails map[string]string `json:"admission_details,omitempty"`
}

// Enrollment is the ERP program enrollment record.
type Enrollment struct {
	ID               string `json:"id"`
	StudentID        string `json:"student_id"`
	ProgramID        string `json:"program_id"`
	BatchYear        int    `json:"batch_year"`
	EnrollmentStatus string `json:"enrollment_status"`
}

// SemesterRegistrationRequest creates a semester registration.
type SemesterRegistrationRequest struct {
	StudentID        string            `json:"student_id"`
	SemesterID       string            `json:"semester_id"`
	AcademicYear     string            `json:"academic_year"`
	RegistrationKind RegistrationKind  `json:"registration_kind"`
	TotalCredits     int               `json:"total_credits"`
	FeeDetails       map[string]string `json:"fee_details,omitempty"`
}

// SemesterRegistration is the ERP semester registration record.
type SemesterRegistration struct {
	ID               string           `json:"id"`
	StudentID        string           `json:"student_id"`
	SemesterID       string           `json:"semester_id"`
	AcademicYear     string           `json:"academic_year"`
	RegistrationKind RegistrationKind `json:"registration_kind"`
	TotalCredits     int              `json:"total_credits"`
}

// CourseRegistrationRequest registers one course under a semester registration.
type CourseRegistrationRequest struct {
	StudentID              string           `json:"student_id"`
	CourseID               string           `json:"course_id"`
	SemesterRegistrationID string           `json:"semester_registration_id"`
	RegistrationKind       RegistrationKind `json:"registration_kind"`
	AdditionalInfo         string           `json:"additional_info,omitempty"`
}

// CourseRegistration is the ERP course registration record.
type CourseRegistration struct {
	ID                     string `json:"id"`
	StudentID              string `json:"student_id"`
	CourseID               string `json:"course_id"`
	SemesterRegistrationID string `json:"semester_registration_id"`
}
