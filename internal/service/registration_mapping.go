package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/noah-isme/erp-registration-api/internal/models"
)

func draftToRecord(draft models.RegistrationDraft) (*models.RegistrationDraftRecord, error) {
	result := draft.Submission()
	refs := result.CourseRegistrations
	if refs == nil {
		refs = []models.CourseRegistrationRef{}
	}
	payload, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("encode course registrations: %w", err)
	}

	record := &models.RegistrationDraftRecord{
		ID:                     draft.ID,
		StudentID:              draft.StudentID,
		CourseIDs:              pq.StringArray(draft.CourseIDs()),
		RegistrationKind:       draft.RegistrationKind,
		AcademicYear:           draft.AcademicYear,
		Notes:                  nullableString(draft.AdditionalNotes),
		CurrentStep:            draft.CurrentStep,
		CompletedSteps:         pq.StringArray(result.CompletedSteps.Strings()),
		EnrollmentID:           nullableString(result.EnrollmentID),
		SemesterRegistrationID: nullableString(result.SemesterRegistrationID),
		CourseRegistrations:    payload,
		LastError:              nullableString(draft.LastError),
		Version:                draft.Version,
		CreatedAt:              draft.CreatedAt,
		UpdatedAt:              draft.UpdatedAt,
	}
	if draft.SelectedSchool != nil {
		record.SchoolID = nullableString(draft.SelectedSchool.ID)
	}
	return record, nil
}

// draftFromRecord restores everything except the catalog snapshots, which hydration fills in.
// Selected courses come back as id-only stubs owned by the stored school.
func draftFromRecord(record *models.RegistrationDraftRecord) (models.RegistrationDraft, error) {
	draft := models.RegistrationDraft{
		ID:               record.ID,
		StudentID:        record.StudentID,
		SelectedCourses:  make([]models.CourseOffering, 0, len(record.CourseIDs)),
		RegistrationKind: record.RegistrationKind,
		AcademicYear:     record.AcademicYear,
		AdditionalNotes:  stringValue(record.Notes),
		CurrentStep:      record.CurrentStep,
		LastError:        stringValue(record.LastError),
		Version:          record.Version,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}

	schoolID := stringValue(record.SchoolID)
	if schoolID != "" {
		draft.SelectedSchool = &models.School{ID: schoolID}
	}
	for _, id := range record.CourseIDs {
		draft.SelectedCourses = append(draft.SelectedCourses, models.CourseOffering{ID: id, SchoolID: schoolID})
	}

	if len(record.CompletedSteps) > 0 {
		var refs []models.CourseRegistrationRef
		if len(record.CourseRegistrations) > 0 {
			if err := json.Unmarshal(record.CourseRegistrations, &refs); err != nil {
				return models.RegistrationDraft{}, fmt.Errorf("decode course registrations: %w", err)
			}
		}
		draft.Result = &models.SubmissionResult{
			EnrollmentID:           stringValue(record.EnrollmentID),
			SemesterRegistrationID: stringValue(record.SemesterRegistrationID),
			CourseRegistrations:    refs,
			CompletedSteps:         models.NewStepSet(record.CompletedSteps),
		}
	}
	return draft, nil
}

// hydrateDraft swaps the stubs restored from a record for catalog data. Courses the catalog
// no longer lists stay selected, marked withdrawn, so validation reports them.
func hydrateDraft(draft models.RegistrationDraft, school *models.School, courses []models.CourseOffering) models.RegistrationDraft {
	next := draft.Clone()
	if school != nil {
		selected := *school
		next.SelectedSchool = &selected
	}
	index := make(map[string]models.CourseOffering, len(courses))
	for _, course := range courses {
		index[course.ID] = course
	}
	for i, stub := range next.SelectedCourses {
		if course, ok := index[stub.ID]; ok {
			next.SelectedCourses[i] = course
			continue
		}
		next.SelectedCourses[i].Withdrawn = true
	}
	return withTotals(next)
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
