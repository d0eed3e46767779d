package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/erp-registration-api/internal/dto"
	"github.com/noah-isme/erp-registration-api/internal/models"
	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
	"github.com/noah-isme/erp-registration-api/pkg/export"
)

// Confirmation document formats.
const (
	ConfirmationFormatJSON = "json"
	ConfirmationFormatCSV  = "csv"
	ConfirmationFormatPDF  = "pdf"
)

type confirmedDraftSource interface {
	Get(ctx context.Context, id string) (*models.RegistrationDraft, error)
}

type slipStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type slipSigner interface {
	Generate(subject, relPath string) (string, time.Time, error)
	Parse(token string) (string, string, time.Time, error)
}

// ConfirmationDocument is a rendered confirmation ready to be sent.
type ConfirmationDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ConfirmationService renders confirmed registrations and issues slip download links.
type ConfirmationService struct {
	drafts  confirmedDraftSource
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	storage slipStorage
	signer  slipSigner
	logger  *zap.Logger
}

// NewConfirmationService constructs the service.
func NewConfirmationService(drafts confirmedDraftSource, storage slipStorage, signer slipSigner, logger *zap.Logger) *ConfirmationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmationService{
		drafts:  drafts,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		storage: storage,
		signer:  signer,
		logger:  logger,
	}
}

// Summary returns the confirmation of a registration that reached the confirmation step.
func (s *ConfirmationService) Summary(ctx context.Context, id string) (*dto.ConfirmationSummary, error) {
	draft, err := s.drafts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildConfirmation(*draft)
}

// Render produces the confirmation as CSV or PDF.
func (s *ConfirmationService) Render(ctx context.Context, id, format string) (*ConfirmationDocument, error) {
	summary, err := s.Summary(ctx, id)
	if err != nil {
		return nil, err
	}
	dataset := confirmationDataset(summary)
	base := fmt.Sprintf("registration-%s", summary.DraftID)

	switch strings.ToLower(format) {
	case ConfirmationFormatCSV:
		body, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render confirmation")
		}
		return &ConfirmationDocument{Filename: base + ".csv", ContentType: "text/csv", Body: body}, nil
	case ConfirmationFormatPDF:
		body, err := s.pdf.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render confirmation")
		}
		return &ConfirmationDocument{Filename: base + ".pdf", ContentType: "application/pdf", Body: body}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be json, csv or pdf")
	}
}

// IssueSlip stores the PDF slip and returns a signed, expiring link token.
func (s *ConfirmationService) IssueSlip(ctx context.Context, id string) (string, time.Time, error) {
	if s.storage == nil || s.signer == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "slip storage is not configured")
	}
	doc, err := s.Render(ctx, id, ConfirmationFormatPDF)
	if err != nil {
		return "", time.Time{}, err
	}
	rel, err := s.storage.Save(id+"/"+doc.Filename, doc.Body)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store slip")
	}
	token, expiresAt, err := s.signer.Generate(id, rel)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign slip link")
	}
	s.logger.Info("confirmation slip issued", zap.String("draft_id", id), zap.Time("expires_at", expiresAt))
	return token, expiresAt, nil
}

// OpenSlip resolves a signed token to the stored slip.
func (s *ConfirmationService) OpenSlip(token string) (*os.File, string, error) {
	if s.storage == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrPreconditionFailed, "slip storage is not configured")
	}
	_, rel, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInvalidSlipToken.Code, appErrors.ErrInvalidSlipToken.Status, appErrors.ErrInvalidSlipToken.Message)
	}
	file, err := s.storage.Open(rel)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "slip no longer available")
	}
	parts := strings.Split(rel, "/")
	return file, parts[len(parts)-1], nil
}

// BuildConfirmation builds the summary of a confirmed draft.
func BuildConfirmation(draft models.RegistrationDraft) (*dto.ConfirmationSummary, error) {
	if draft.CurrentStep != models.StepConfirmation || draft.Result == nil {
		return nil, appErrors.ErrRegistrationPending
	}
	result := draft.Submission()
	summary := &dto.ConfirmationSummary{
		DraftID:                draft.ID,
		StudentID:              draft.StudentID,
		RegistrationKind:       string(draft.RegistrationKind),
		AcademicYear:           draft.AcademicYear,
		EnrollmentID:           result.EnrollmentID,
		SemesterRegistrationID: result.SemesterRegistrationID,
		TotalCredits:           draft.TotalCredits,
		Courses:                make([]dto.ConfirmationCourse, 0, len(draft.SelectedCourses)),
		ConfirmedAt:            draft.UpdatedAt,
	}
	if draft.SelectedSchool != nil {
		summary.SchoolID = draft.SelectedSchool.ID
		summary.SchoolName = draft.SelectedSchool.Name
	}
	for _, course := range draft.SelectedCourses {
		registrationID, _ := result.CourseRegistrationID(course.ID)
		summary.Courses = append(summary.Courses, dto.ConfirmationCourse{
			CourseID:       course.ID,
			Code:           course.Code,
			Name:           course.Name,
			Credits:        course.TotalCredits,
			RegistrationID: registrationID,
		})
	}
	return summary, nil
}

func confirmationDataset(summary *dto.ConfirmationSummary) export.Dataset {
	school := summary.SchoolName
	if school == "" {
		school = summary.SchoolID
	}
	data := export.Dataset{
		Title: "Course registration confirmation",
		Fields: []export.Field{
			{Label: "Student", Value: summary.StudentID},
			{Label: "School", Value: school},
			{Label: "Registration kind", Value: summary.RegistrationKind},
			{Label: "Academic year", Value: summary.AcademicYear},
			{Label: "Enrollment", Value: summary.EnrollmentID},
			{Label: "Semester registration", Value: summary.SemesterRegistrationID},
			{Label: "Total credits", Value: strconv.Itoa(summary.TotalCredits)},
		},
		Headers: []string{"Code", "Course", "Credits", "Registration"},
		Rows:    make([]map[string]string, 0, len(summary.Courses)),
		Footer:  fmt.Sprintf("Confirmed %s. Reference %s.", summary.ConfirmedAt.UTC().Format(time.RFC1123), summary.DraftID),
	}
	for _, course := range summary.Courses {
		data.Rows = append(data.Rows, map[string]string{
			"Code":         course.Code,
			"Course":       course.Name,
			"Credits":      strconv.Itoa(course.Credits),
			"Registration": course.RegistrationID,
		})
	}
	return data
}
