package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/erp-registration-api/internal/models"
)

var (
	// ErrStaleDraft is returned when a draft was updated by someone else since it was read.
	ErrStaleDraft = errors.New("registration draft version is stale")
	// ErrDraftClaimed is returned when another submission holds an unexpired lease on the draft.
	ErrDraftClaimed = errors.New("registration draft is claimed by a running submission")
)

const registrationDraftColumns = `id, student_id, school_id, course_ids, registration_kind, academic_year, notes,
       current_step, completed_steps, enrollment_id, semester_registration_id, course_registrations,
       last_error, claim_token, submitting_until, version, created_at, updated_at`

// RegistrationDraftRepository persists wizard drafts so a student can resume them.
type RegistrationDraftRepository struct {
	db *sqlx.DB
}

// NewRegistrationDraftRepository constructs the repository.
func NewRegistrationDraftRepository(db *sqlx.DB) *RegistrationDraftRepository {
	return &RegistrationDraftRepository{db: db}
}

// Create inserts a new draft at version 1.
func (r *RegistrationDraftRepository) Create(ctx context.Context, record *models.RegistrationDraftRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.Version = 1
	if len(record.CourseRegistrations) == 0 {
		record.CourseRegistrations = []byte("[]")
	}

	const query = `INSERT INTO registration_drafts
	(id, student_id, school_id, course_ids, registration_kind, academic_year, notes, current_step, completed_steps,
	 enrollment_id, semester_registration_id, course_registrations, last_error, version, created_at, updated_at)
	VALUES (:id, :student_id, :school_id, :course_ids, :registration_kind, :academic_year, :notes, :current_step, :completed_steps,
	 :enrollment_id, :semester_registration_id, :course_registrations, :last_error, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create registration draft: %w", err)
	}
	return nil
}

// FindByID loads a draft. It returns sql.ErrNoRows when the draft does not exist.
func (r *RegistrationDraftRepository) FindByID(ctx context.Context, id string) (*models.RegistrationDraftRecord, error) {
	query := `SELECT ` + registrationDraftColumns + ` FROM registration_drafts WHERE id = $1`
	var record models.RegistrationDraftRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByStudent returns the open drafts of a student, newest first.
func (r *RegistrationDraftRepository) ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDraftRecord, error) {
	query := `SELECT ` + registrationDraftColumns + ` FROM registration_drafts WHERE student_id = $1 ORDER BY updated_at DESC`
	var records []models.RegistrationDraftRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list registration drafts: %w", err)
	}
	return records, nil
}

// Update writes record when its version still matches the stored one and no unexpired
// submission lease is held, then bumps the version. The record's ClaimToken and
// SubmittingUntil become the stored lease, so an update that sets them claims the draft.
// It returns ErrDraftClaimed while a lease is held, ErrStaleDraft on a version mismatch
// and sql.ErrNoRows when the draft is gone.
func (r *RegistrationDraftRepository) Update(ctx context.Context, record *models.RegistrationDraftRecord) error {
	return r.update(ctx, record, `(submitting_until IS NULL OR submitting_until < NOW())`)
}

// UpdateClaimed writes record on behalf of the submission holding token. Leaving the
// record's lease fields empty releases the claim.
func (r *RegistrationDraftRepository) UpdateClaimed(ctx context.Context, record *models.RegistrationDraftRecord, token string) error {
	return r.update(ctx, record, `claim_token = $17`, token)
}

func (r *RegistrationDraftRepository) update(ctx context.Context, record *models.RegistrationDraftRecord, guard string, guardArgs ...interface{}) error {
	if len(record.CourseRegistrations) == 0 {
		record.CourseRegistrations = []byte("[]")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	query := `UPDATE registration_drafts SET
		school_id = $1, course_ids = $2, registration_kind = $3, academic_year = $4, notes = $5,
		current_step = $6, completed_steps = $7, enrollment_id = $8, semester_registration_id = $9,
		course_registrations = $10, last_error = $11, updated_at = $12, claim_token = $13, submitting_until = $14,
		version = version + 1
	WHERE id = $15 AND version = $16 AND ` + guard
	args := []interface{}{
		record.SchoolID, record.CourseIDs, record.RegistrationKind, record.AcademicYear, record.Notes,
		record.CurrentStep, record.CompletedSteps, record.EnrollmentID, record.SemesterRegistrationID,
		record.CourseRegistrations, record.LastError, record.UpdatedAt, record.ClaimToken, record.SubmittingUntil,
		record.ID, record.Version,
	}
	res, err := r.db.ExecContext(ctx, query, append(args, guardArgs...)...)
	if err != nil {
		return fmt.Errorf("update registration draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update registration draft rows: %w", err)
	}
	if affected == 0 {
		return r.rejection(ctx, record.ID)
	}
	record.Version++
	return nil
}

// rejection explains why a guarded update touched no row.
func (r *RegistrationDraftRepository) rejection(ctx context.Context, id string) error {
	var leased bool
	err := r.db.GetContext(ctx, &leased,
		`SELECT COALESCE(submitting_until >= NOW(), FALSE) FROM registration_drafts WHERE id = $1`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sql.ErrNoRows
	case err != nil:
		return fmt.Errorf("check registration draft: %w", err)
	case leased:
		return ErrDraftClaimed
	default:
		return ErrStaleDraft
	}
}

// Delete removes a draft. It returns sql.ErrNoRows when nothing was deleted.
func (r *RegistrationDraftRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM registration_drafts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete registration draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete registration draft rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
