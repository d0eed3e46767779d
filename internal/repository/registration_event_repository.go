package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/erp-registration-api/internal/models"
)

// RegistrationEventRepository stores the append-only audit trail of drafts.
type RegistrationEventRepository struct {
	db *sqlx.DB
}

// NewRegistrationEventRepository constructs the repository.
func NewRegistrationEventRepository(db *sqlx.DB) *RegistrationEventRepository {
	return &RegistrationEventRepository{db: db}
}

// Create appends an event.
func (r *RegistrationEventRepository) Create(ctx context.Context, event *models.RegistrationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Payload) == 0 {
		event.Payload = []byte("{}")
	}
	const query = `INSERT INTO registration_events (id, draft_id, student_id, event_type, step, payload, created_at)
	VALUES (:id, :draft_id, :student_id, :event_type, :step, :payload, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create registration event: %w", err)
	}
	return nil
}

// ListByDraft returns the events of a draft, oldest first.
func (r *RegistrationEventRepository) ListByDraft(ctx context.Context, draftID string) ([]models.RegistrationEvent, error) {
	const query = `SELECT id, draft_id, student_id, event_type, step, payload, created_at
	FROM registration_events WHERE draft_id = $1 ORDER BY created_at ASC`
	events := make([]models.RegistrationEvent, 0)
	if err := r.db.SelectContext(ctx, &events, query, draftID); err != nil {
		return nil, fmt.Errorf("list registration events: %w", err)
	}
	return events, nil
}
