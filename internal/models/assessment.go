package models

import (
	"sort"
	"time"
)

// AssessmentStatus represents the publication state of an assessment
type AssessmentStatus string

const (
	StatusDraft     AssessmentStatus = "draft"
	StatusPublished AssessmentStatus = "published"
	StatusArchived  AssessmentStatus = "archived"
)

// Valid reports whether s is one of the known statuses
func (s AssessmentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Assessment is an ordered collection of sections.
// TotalDuration is derived on the client and never taken from the server.
type Assessment struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Status        AssessmentStatus `json:"status"`
	Sections      []*Section       `json:"sections"`
	TotalDuration TotalDuration    `json:"total_duration"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Section is a named, ordered group of questions within an assessment
type Section struct {
	ID            string           `json:"id"`
	AssessmentID  string           `json:"assessment_id,omitempty"`
	Name          string           `json:"name"`
	Instructions  string           `json:"description"`
	Position      int              `json:"position"`
	QuestionCount int              `json:"question_count"`
	TotalScore    float64          `json:"total_score"`
	Duration      Duration         `json:"duration"`
	Settings      *SectionSettings `json:"settings,omitempty"`
	Questions     QuestionGroups   `json:"questions,omitempty"`
}

// Clone returns a deep copy of the section
func (s *Section) Clone() *Section {
	if s == nil {
		return nil
	}
	c := *s
	if s.Settings != nil {
		c.Settings = s.Settings.Clone()
	}
	c.Questions = s.Questions.Clone()
	return &c
}

// SectionInput carries the editable descriptive fields of a section
type SectionInput struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
	Preset      string `json:"preset,omitempty"`
}

// SectionOrder assigns a 1-based position to a section
type SectionOrder struct {
	SectionID string `json:"section_id"`
	NewOrder  int    `json:"new_order"`
}

// CloneSections deep-copies a section list preserving order
func CloneSections(sections []*Section) []*Section {
	out := make([]*Section, len(sections))
	for i, s := range sections {
		out[i] = s.Clone()
	}
	return out
}

// SortByPosition orders sections by their position, stable for equal positions
func SortByPosition(sections []*Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Position < sections[j].Position
	})
}

// Renumber assigns contiguous 1-based positions following slice order
func Renumber(sections []*Section) {
	for i, s := range sections {
		s.Position = i + 1
	}
}

// SectionIDs returns the ids of sections in slice order
func SectionIDs(sections []*Section) []string {
	ids := make([]string, len(sections))
	for i, s := range sections {
		ids[i] = s.ID
	}
	return ids
}
