package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/erp-registration-api/internal/models"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
)

const (
	catalogCachePrefix  = "catalog:"
	catalogSchoolsKey   = catalogCachePrefix + "schools"
	catalogCoursesKeyFn = catalogCachePrefix + "courses:%s"
)

// CatalogReader is the read-only source of schools and course offerings.
type CatalogReader interface {
	ListSchools(ctx context.Context) ([]models.School, error)
	ListCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, error)
}

// CatalogService serves catalog reads through the cache tiers.
type CatalogService struct {
	reader CatalogReader
	cache  *CacheService
	logger *zap.Logger
}

// NewCatalogService constructs the catalog lookup.
func NewCatalogService(reader CatalogReader, cache *CacheService, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{reader: reader, cache: cache, logger: logger}
}

// ListSchools returns every school. The boolean reports a cache hit.
func (s *CatalogService) ListSchools(ctx context.Context) ([]models.School, bool, error) {
	var schools []models.School
	if hit, _ := s.cache.Get(ctx, catalogSchoolsKey, &schools); hit {
		return schools, true, nil
	}

	schools, err := s.reader.ListSchools(ctx)
	if err != nil {
		return nil, false, catalogError(err, "list schools")
	}
	if schools == nil {
		schools = []models.School{}
	}
	_ = s.cache.Set(ctx, catalogSchoolsKey, schools)
	return schools, false, nil
}

// ListCourses returns the offerings of one school. The boolean reports a cache hit.
func (s *CatalogService) ListCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, bool, error) {
	key := fmt.Sprintf(catalogCoursesKeyFn, schoolID)
	var courses []models.CourseOffering
	if hit, _ := s.cache.Get(ctx, key, &courses); hit {
		return courses, true, nil
	}

	courses, err := s.RefreshCourses(ctx, schoolID)
	if err != nil {
		return nil, false, err
	}
	return courses, false, nil
}

// RefreshCourses reads offerings straight from the catalog and replaces the cached copy.
// Submission uses it so seat counts are current.
func (s *CatalogService) RefreshCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, error) {
	courses, err := s.reader.ListCourses(ctx, schoolID)
	if err != nil {
		return nil, catalogError(err, "list courses")
	}
	if courses == nil {
		courses = []models.CourseOffering{}
	}
	_ = s.cache.Set(ctx, fmt.Sprintf(catalogCoursesKeyFn, schoolID), courses)
	return courses, nil
}

// FindSchool looks a school up by id.
func (s *CatalogService) FindSchool(ctx context.Context, schoolID string) (*models.School, error) {
	schools, _, err := s.ListSchools(ctx)
	if err != nil {
		return nil, err
	}
	for _, school := range schools {
		if school.ID == schoolID {
			found := school
			return &found, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
}

// FindCourse looks a course up within a school.
func (s *CatalogService) FindCourse(ctx context.Context, schoolID, courseID string) (*models.CourseOffering, error) {
	courses, _, err := s.ListCourses(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	for _, course := range courses {
		if course.ID == courseID {
			found := course
			return &found, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "course is not offered by this school")
}

// Invalidate drops every cached catalog entry.
func (s *CatalogService) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, catalogCachePrefix)
}

func catalogError(err error, op string) error {
	if errors.Is(err, appErrors.ErrNotFound) || errors.Is(err, appErrors.ErrCatalogUnavailable) {
		return err
	}
	return appErrors.Wrap(fmt.Errorf("%s: %w", op, err), appErrors.ErrCatalogUnavailable.Code, appErrors.ErrCatalogUnavailable.Status, appErrors.ErrCatalogUnavailable.Message)
}
