package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/erp-registration-api/internal/models"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
)

// MemoryERP is an in-process stand-in for the ERP used for local runs and demos.
// Seats are consumed by course registrations; a full course answers with a capacity conflict.
type MemoryERP struct {
	mu          sync.Mutex
	schools     []models.School
	courses     map[string][]models.CourseOffering
	enrollments map[string]models.Enrollment
	semesters   map[string]models.SemesterRegistration
	courseRegs  map[string]models.CourseRegistration
}

// NewMemoryERP builds the fake from explicit catalog data.
func NewMemoryERP(schools []models.School, courses []models.CourseOffering) *MemoryERP {
	m := &MemoryERP{
		schools:     append([]models.School(nil), schools...),
		courses:     make(map[string][]models.CourseOffering),
		enrollments: make(map[string]models.Enrollment),
		semesters:   make(map[string]models.SemesterRegistration),
		courseRegs:  make(map[string]models.CourseRegistration),
	}
	for _, course := range courses {
		m.courses[course.SchoolID] = append(m.courses[course.SchoolID], cloneOffering(course))
	}
	return m
}

// NewSeededMemoryERP returns a fake with a small demo catalog.
func NewSeededMemoryERP() *MemoryERP {
	seats := func(n int) *int { return &n }
	schools := []models.School{
		{ID: "sch-eng", Name: "School of Engineering", Code: "ENG", Type: "FACULTY"},
		{ID: "sch-sci", Name: "School of Sciences", Code: "SCI", Type: "FACULTY"},
		{ID: "sch-bus", Name: "School of Business", Code: "BUS", Type: "FACULTY"},
	}
	courses := []models.CourseOffering{
		{ID: "eng-101", Code: "ENG101", Name: "Engineering Mathematics I", TotalCredits: 4, Kind: models.CourseKindCore, SchoolID: "sch-eng", SeatsAvailable: seats(120)},
		{ID: "eng-110", Code: "ENG110", Name: "Engineering Drawing", TotalCredits: 3, Kind: models.CourseKindPractical, SchoolID: "sch-eng", SeatsAvailable: seats(40)},
		{ID: "eng-150", Code: "ENG150", Name: "Programming Fundamentals", TotalCredits: 4, Kind: models.CourseKindCore, SchoolID: "sch-eng", SeatsAvailable: seats(80)},
		{ID: "eng-210", Code: "ENG210", Name: "Circuit Analysis", TotalCredits: 4, Kind: models.CourseKindCore, SchoolID: "sch-eng", SeatsAvailable: seats(60)},
		{ID: "eng-290", Code: "ENG290", Name: "Design Project", TotalCredits: 6, Kind: models.CourseKindProject, SchoolID: "sch-eng", SeatsAvailable: seats(2)},
		{ID: "eng-300", Code: "ENG300", Name: "Engineering Ethics Seminar", TotalCredits: 2, Kind: models.CourseKindSeminar, SchoolID: "sch-eng"},
		{ID: "sci-101", Code: "SCI101", Name: "General Chemistry", TotalCredits: 4, Kind: models.CourseKindCore, SchoolID: "sch-sci", SeatsAvailable: seats(100)},
		{ID: "sci-120", Code: "SCI120", Name: "Physics Laboratory", TotalCredits: 2, Kind: models.CourseKindPractical, SchoolID: "sch-sci", SeatsAvailable: seats(24)},
		{ID: "sci-205", Code: "SCI205", Name: "Astronomy", TotalCredits: 3, Kind: models.CourseKindElective, SchoolID: "sch-sci", SeatsAvailable: seats(0)},
		{ID: "bus-101", Code: "BUS101", Name: "Principles of Accounting", TotalCredits: 3, Kind: models.CourseKindCore, SchoolID: "sch-bus", SeatsAvailable: seats(150)},
		{ID: "bus-240", Code: "BUS240", Name: "Industry Internship", TotalCredits: 8, Kind: models.CourseKindInternship, SchoolID: "sch-bus", SeatsAvailable: seats(10)},
	}
	return NewMemoryERP(schools, courses)
}

// ListSchools returns every school sorted by name.
func (m *MemoryERP) ListSchools(ctx context.Context) ([]models.School, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	schools := append([]models.School(nil), m.schools...)
	sort.Slice(schools, func(i, j int) bool { return schools[i].Name < schools[j].Name })
	return schools, nil
}

// ListCourses returns the offerings of one school with current seat counts.
func (m *MemoryERP) ListCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSchool(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
	}
	courses := make([]models.CourseOffering, 0, len(m.courses[schoolID]))
	for _, course := range m.courses[schoolID] {
		courses = append(courses, cloneOffering(course))
	}
	return courses, nil
}

// CreateEnrollment returns the existing enrollment for the student and program or creates one.
func (m *MemoryERP) CreateEnrollment(ctx context.Context, req models.EnrollmentRequest) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSchool(req.ProgramID) {
		return nil, appErrors.Clone(appErrors.ErrRemoteRejected, "unknown program")
	}
	key := req.StudentID + "|" + req.ProgramID
	if existing, ok := m.enrollments[key]; ok {
		return &existing, nil
	}
	enrollment := models.Enrollment{
		ID:               uuid.NewString(),
		StudentID:        req.StudentID,
		ProgramID:        req.ProgramID,
		BatchYear:        req.BatchYear,
		EnrollmentStatus: req.EnrollmentStatus,
	}
	m.enrollments[key] = enrollment
	return &enrollment, nil
}

// CreateSemesterRegistration creates a semester registration.
func (m *MemoryERP) CreateSemesterRegistration(ctx context.Context, req models.SemesterRegistrationRequest) (*models.SemesterRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	registration := models.SemesterRegistration{
		ID:               uuid.NewString(),
		StudentID:        req.StudentID,
		SemesterID:       req.SemesterID,
		AcademicYear:     req.AcademicYear,
		RegistrationKind: req.RegistrationKind,
		TotalCredits:     req.TotalCredits,
	}
	m.semesters[registration.ID] = registration
	return &registration, nil
}

// CreateCourseRegistration takes one seat of the course.
func (m *MemoryERP) CreateCourseRegistration(ctx context.Context, req models.CourseRegistrationRequest) (*models.CourseRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.semesters[req.SemesterRegistrationID]; !ok {
		return nil, appErrors.Clone(appErrors.ErrRemoteRejected, "unknown semester registration")
	}
	course := m.findCourse(req.CourseID)
	if course == nil || course.Withdrawn {
		return nil, appErrors.Clone(appErrors.ErrRemoteRejected, "course is not offered")
	}
	if course.SeatsAvailable != nil {
		if *course.SeatsAvailable <= 0 {
			return nil, appErrors.Clone(appErrors.ErrCapacityConflict, "course "+course.Code+" is full")
		}
		remaining := *course.SeatsAvailable - 1
		course.SeatsAvailable = &remaining
	}
	registration := models.CourseRegistration{
		ID:                     uuid.NewString(),
		StudentID:              req.StudentID,
		CourseID:               req.CourseID,
		SemesterRegistrationID: req.SemesterRegistrationID,
	}
	m.courseRegs[registration.ID] = registration
	return &registration, nil
}

func (m *MemoryERP) hasSchool(id string) bool {
	for _, school := range m.schools {
		if school.ID == id {
			return true
		}
	}
	return false
}

func (m *MemoryERP) findCourse(id string) *models.CourseOffering {
	for schoolID := range m.courses {
		for i := range m.courses[schoolID] {
			if m.courses[schoolID][i].ID == id {
				return &m.courses[schoolID][i]
			}
		}
	}
	return nil
}

func cloneOffering(course models.CourseOffering) models.CourseOffering {
	if course.SeatsAvailable != nil {
		seats := *course.SeatsAvailable
		course.SeatsAvailable = &seats
	}
	return course
}
