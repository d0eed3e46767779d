package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/erp-registration-api/internal/dto"
	"github.com/noah-isme/erp-registration-api/internal/models"
	"github.com/noah-isme/erp-registration-api/internal/service"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/response"
)

type registrationService interface {
	Start(ctx context.Context, req dto.StartRegistrationRequest) (*models.RegistrationDraft, error)
	Get(ctx context.Context, id string) (*models.RegistrationDraft, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDraft, error)
	SelectSchool(ctx context.Context, id string, req dto.SelectSchoolRequest) (*models.RegistrationDraft, error)
	ToggleCourse(ctx context.Context, id, courseID string) (*models.RegistrationDraft, error)
	SetMetadata(ctx context.Context, id string, req dto.RegistrationMetadataRequest) (*models.RegistrationDraft, error)
	Advance(ctx context.Context, id string) (*service.AdvanceOutcome, error)
	Submit(ctx context.Context, id string) (*service.AdvanceOutcome, error)
	Retreat(ctx context.Context, id string) (*models.RegistrationDraft, error)
	Cancel(ctx context.Context, id string) (*service.CancelOutcome, error)
	Events(ctx context.Context, id string) ([]models.RegistrationEvent, error)
}

// RegistrationHandler exposes the registration wizard.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler builds the handler.
func NewRegistrationHandler(service registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// Start godoc
// @Summary Start a registration draft
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body dto.StartRegistrationRequest true "Student"
// @Success 201 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Start(c *gin.Context) {
	var req dto.StartRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	draft, err := h.service.Start(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, draft)
}

// Get godoc
// @Summary Resume a registration draft
// @Tags Registrations
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id} [get]
func (h *RegistrationHandler) Get(c *gin.Context) {
	draft, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// ListByStudent godoc
// @Summary List the registration drafts of a student
// @Tags Registrations
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/registrations [get]
func (h *RegistrationHandler) ListByStudent(c *gin.Context) {
	drafts, err := h.service.ListByStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drafts, nil)
}

// SelectSchool godoc
// @Summary Select the school of a draft
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.SelectSchoolRequest true "School"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id}/school [put]
func (h *RegistrationHandler) SelectSchool(c *gin.Context) {
	var req dto.SelectSchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid school payload"))
		return
	}
	draft, err := h.service.SelectSchool(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// ToggleCourse godoc
// @Summary Add or remove a course
// @Tags Registrations
// @Produce json
// @Param id path string true "Draft ID"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id}/courses/{courseId}/toggle [post]
func (h *RegistrationHandler) ToggleCourse(c *gin.Context) {
	draft, err := h.service.ToggleCourse(c.Request.Context(), c.Param("id"), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// SetMetadata godoc
// @Summary Record registration kind, academic year and notes
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.RegistrationMetadataRequest true "Metadata"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id}/metadata [put]
func (h *RegistrationHandler) SetMetadata(c *gin.Context) {
	var req dto.RegistrationMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid metadata payload"))
		return
	}
	draft, err := h.service.SetMetadata(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Advance godoc
// @Summary Validate the current step and move forward
// @Description Advancing from review submits the registration to the ERP.
// @Tags Registrations
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /registrations/{id}/advance [post]
func (h *RegistrationHandler) Advance(c *gin.Context) {
	outcome, err := h.service.Advance(c.Request.Context(), c.Param("id"))
	writeAdvance(c, outcome, err)
}

// Submit godoc
// @Summary Submit a draft under review, or retry a failed submission
// @Tags Registrations
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /registrations/{id}/submit [post]
func (h *RegistrationHandler) Submit(c *gin.Context) {
	outcome, err := h.service.Submit(c.Request.Context(), c.Param("id"))
	writeAdvance(c, outcome, err)
}

// Retreat godoc
// @Summary Move back one step
// @Tags Registrations
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id}/retreat [post]
func (h *RegistrationHandler) Retreat(c *gin.Context) {
	draft, err := h.service.Retreat(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Cancel godoc
// @Summary Cancel a registration draft
// @Description Records already created in the ERP are kept; the response warns about them.
// @Tags Registrations
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id} [delete]
func (h *RegistrationHandler) Cancel(c *gin.Context) {
	outcome, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Events godoc
// @Summary List the audit trail of a draft
// @Tags Registrations
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id}/events [get]
func (h *RegistrationHandler) Events(c *gin.Context) {
	events, err := h.service.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

func writeAdvance(c *gin.Context, outcome *service.AdvanceOutcome, err error) {
	var subErr *service.SubmissionError
	if errors.As(err, &subErr) {
		view := subErr.View()
		payload := dto.AdvanceResponse{Violations: []models.Violation{}, Failure: &view}
		if outcome != nil {
			payload.Draft = outcome.Draft
		}
		failure := appErrors.Wrap(subErr, appErrors.ErrSubmissionFailed.Code, appErrors.ErrSubmissionFailed.Status, subErr.Summary())
		response.ErrorWithData(c, failure, payload)
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := dto.AdvanceResponse{Draft: outcome.Draft, Moved: outcome.Moved, Violations: outcome.Violations}
	if payload.Violations == nil {
		payload.Violations = []models.Violation{}
	}
	status := http.StatusOK
	if !outcome.Moved {
		status = http.StatusUnprocessableEntity
	}
	response.JSON(c, status, payload, nil)
}
