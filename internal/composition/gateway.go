package composition

import (
	"context"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// Gateway is the remote assessment service the composition manager consumes.
// It owns persistence and is authoritative over final state.
type Gateway interface {
	GetAssessment(ctx context.Context, assessmentID string) (*models.Assessment, error)

	CreateSection(ctx context.Context, assessmentID string, in models.SectionInput) (*models.Section, error)
	UpdateSection(ctx context.Context, assessmentID, sectionID string, in models.SectionInput) (*models.Section, error)
	DeleteSection(ctx context.Context, assessmentID, sectionID string) error
	ReorderSections(ctx context.Context, assessmentID string, order []models.SectionOrder) error

	GetSectionSettings(ctx context.Context, assessmentID, sectionID string) (*models.SectionSettings, error)
	UpdateSectionSettings(ctx context.Context, assessmentID, sectionID string, settings models.SectionSettings) (*models.SectionSettings, error)

	GetSectionQuestions(ctx context.Context, assessmentID, sectionID string) (models.QuestionGroups, error)
	AddQuestionsToSection(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error
	RemoveQuestionsFromSection(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error

	GetScopedQuestions(ctx context.Context, query models.QuestionQuery) ([]models.QuestionRef, error)
}
