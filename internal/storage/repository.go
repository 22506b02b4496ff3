package storage

import (
	"context"
	"errors"

	"github.com/terra-clan/assessment-composer/internal/models"
)

var (
	// ErrNotFound is returned when an assessment, section or question does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidOrder is returned when a reorder batch is not a permutation of the sections
	ErrInvalidOrder = errors.New("invalid section order")
)

// Repository defines the interface for assessment persistence
type Repository interface {
	// Assessments
	CreateAssessment(ctx context.Context, a *models.Assessment, organizationID string) error
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	AssessmentOrganization(ctx context.Context, id string) (string, error)

	// Sections
	CreateSection(ctx context.Context, assessmentID string, in models.SectionInput) (*models.Section, error)
	UpdateSection(ctx context.Context, assessmentID, sectionID string, in models.SectionInput) (*models.Section, error)
	DeleteSection(ctx context.Context, assessmentID, sectionID string) error
	ReorderSections(ctx context.Context, assessmentID string, order []models.SectionOrder) error

	// Settings; section_time is derived from question time limits and never stored
	GetSectionSettings(ctx context.Context, assessmentID, sectionID string) (*models.SectionSettings, error)
	UpdateSectionSettings(ctx context.Context, assessmentID, sectionID string, s models.SectionSettings) (*models.SectionSettings, error)

	// Section membership
	GetSectionQuestions(ctx context.Context, assessmentID, sectionID string) ([]models.QuestionRef, error)
	AddSectionQuestions(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error
	RemoveSectionQuestions(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error

	// Question library
	ListQuestions(ctx context.Context, organizationID string, q models.QuestionQuery) ([]models.QuestionRef, int, error)

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
