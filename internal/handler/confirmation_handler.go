package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/erp-registration-api/internal/dto"
	"github.com/noah-isme/erp-registration-api/internal/service"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/response"
)

type confirmationService interface {
	Summary(ctx context.Context, id string) (*dto.ConfirmationSummary, error)
	Render(ctx context.Context, id, format string) (*service.ConfirmationDocument, error)
	IssueSlip(ctx context.Context, id string) (string, time.Time, error)
	OpenSlip(token string) (*os.File, string, error)
}

// ConfirmationHandler serves confirmed registrations and their slips.
type ConfirmationHandler struct {
	service      confirmationService
	downloadPath string
}

// NewConfirmationHandler builds the handler. downloadPath is the public route of Download.
func NewConfirmationHandler(service confirmationService, downloadPath string) *ConfirmationHandler {
	return &ConfirmationHandler{service: service, downloadPath: downloadPath}
}

// Get godoc
// @Summary Get the confirmation of a submitted registration
// @Tags Confirmation
// @Produce json
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Draft ID"
// @Param format query string false "json (default), csv or pdf"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/confirmation [get]
func (h *ConfirmationHandler) Get(c *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", service.ConfirmationFormatJSON)))
	if format == service.ConfirmationFormatJSON {
		summary, err := h.service.Summary(c.Request.Context(), c.Param("id"))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, summary, nil)
		return
	}

	doc, err := h.service.Render(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", doc.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

// IssueSlip godoc
// @Summary Create a time limited download link for the confirmation slip
// @Tags Confirmation
// @Produce json
// @Param id path string true "Draft ID"
// @Success 201 {object} response.Envelope
// @Router /registrations/{id}/slip [post]
func (h *ConfirmationHandler) IssueSlip(c *gin.Context) {
	token, expiresAt, err := h.service.IssueSlip(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.SlipLink{
		URL:       h.downloadPath + "?token=" + url.QueryEscape(token),
		ExpiresAt: expiresAt,
	})
}

// Download godoc
// @Summary Download a confirmation slip via signed token
// @Tags Confirmation
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /slips/download [get]
func (h *ConfirmationHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.service.OpenSlip(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read slip"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, nil)
}
