package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/noah-isme/erp-registration-api/internal/models"
)

// ERP resource paths relative to the configured base URL.
const (
	schoolsPath               = "/schools"
	schoolCoursesPathFmt      = "/schools/%s/courses"
	programEnrollmentsPath    = "/program-enrollments"
	semesterRegistrationsPath = "/semester-registrations"
	courseRegistrationsPath   = "/course-registrations"
)

type erpSchool struct {
	ID         string `json:"id"`
	SchoolName string `json:"school_name"`
	SchoolCode string `json:"school_code"`
	SchoolType string `json:"school_type"`
}

type erpCourse struct {
	ID             string `json:"id"`
	CourseCode     string `json:"course_code"`
	CourseName     string `json:"course_name"`
	TotalCredits   int    `json:"total_credits"`
	CourseType     string `json:"course_type"`
	SchoolID       string `json:"school_id"`
	SeatsAvailable *int   `json:"seats_available"`
	Status         string `json:"status"`
}

// ERPGateway reads the catalog from the ERP and creates registration records in it.
type ERPGateway struct {
	client *Client
}

// NewERPGateway wraps an HTTP client.
func NewERPGateway(client *Client) *ERPGateway {
	return &ERPGateway{client: client}
}

// ListSchools returns every school in the catalog.
func (g *ERPGateway) ListSchools(ctx context.Context) ([]models.School, error) {
	var raw []erpSchool
	if err := g.client.Get(ctx, schoolsPath, &raw); err != nil {
		return nil, err
	}
	schools := make([]models.School, 0, len(raw))
	for _, s := range raw {
		schools = append(schools, models.School{ID: s.ID, Name: s.SchoolName, Code: s.SchoolCode, Type: s.SchoolType})
	}
	return schools, nil
}

// ListCourses returns the offerings of one school.
func (g *ERPGateway) ListCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, error) {
	var raw []erpCourse
	if err := g.client.Get(ctx, fmt.Sprintf(schoolCoursesPathFmt, url.PathEscape(schoolID)), &raw); err != nil {
		return nil, err
	}
	courses := make([]models.CourseOffering, 0, len(raw))
	for _, c := range raw {
		owner := c.SchoolID
		if owner == "" {
			owner = schoolID
		}
		courses = append(courses, models.CourseOffering{
			ID:             c.ID,
			Code:           c.CourseCode,
			Name:           c.CourseName,
			TotalCredits:   c.TotalCredits,
			Kind:           models.CourseKind(strings.ToUpper(c.CourseType)),
			SchoolID:       owner,
			SeatsAvailable: c.SeatsAvailable,
			Withdrawn:      withdrawnStatus(c.Status),
		})
	}
	return courses, nil
}

// CreateEnrollment ensures the program enrollment of a student.
func (g *ERPGateway) CreateEnrollment(ctx context.Context, req models.EnrollmentRequest) (*models.Enrollment, error) {
	var out models.Enrollment
	if err := g.client.Post(ctx, programEnrollmentsPath, req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("erp returned an enrollment without id")
	}
	return &out, nil
}

// CreateSemesterRegistration opens the semester registration.
func (g *ERPGateway) CreateSemesterRegistration(ctx context.Context, req models.SemesterRegistrationRequest) (*models.SemesterRegistration, error) {
	var out models.SemesterRegistration
	if err := g.client.Post(ctx, semesterRegistrationsPath, req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("erp returned a semester registration without id")
	}
	return &out, nil
}

// CreateCourseRegistration registers one course.
func (g *ERPGateway) CreateCourseRegistration(ctx context.Context, req models.CourseRegistrationRequest) (*models.CourseRegistration, error) {
	var out models.CourseRegistration
	if err := g.client.Post(ctx, courseRegistrationsPath, req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("erp returned a course registration without id")
	}
	return &out, nil
}

func withdrawnStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "WITHDRAWN", "INACTIVE", "CLOSED", "CANCELLED":
		return true
	}
	return false
}
