package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/erp-registration-api/internal/middleware"
	"github.com/noah-isme/erp-registration-api/internal/models"
	"github.com/noah-isme/erp-registration-api/pkg/response"
)

type catalogService interface {
	ListSchools(ctx context.Context) ([]models.School, bool, error)
	ListCourses(ctx context.Context, schoolID string) ([]models.CourseOffering, bool, error)
	Invalidate(ctx context.Context) error
}

// CatalogHandler serves the read-only course catalog.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler builds the handler.
func NewCatalogHandler(service catalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// ListSchools godoc
// @Summary List schools
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /catalog/schools [get]
func (h *CatalogHandler) ListSchools(c *gin.Context) {
	schools, hit, err := h.service.ListSchools(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, schools, nil, middleware.ExtractMeta(c))
}

// ListCourses godoc
// @Summary List the course offerings of a school
// @Tags Catalog
// @Produce json
// @Param schoolId path string true "School ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /catalog/schools/{schoolId}/courses [get]
func (h *CatalogHandler) ListCourses(c *gin.Context) {
	courses, hit, err := h.service.ListCourses(c.Request.Context(), c.Param("schoolId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, courses, nil, middleware.ExtractMeta(c))
}

// Invalidate godoc
// @Summary Drop cached catalog data
// @Tags Catalog
// @Success 204
// @Router /catalog/cache [delete]
func (h *CatalogHandler) Invalidate(c *gin.Context) {
	if err := h.service.Invalidate(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
