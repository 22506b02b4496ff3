package composition

import "github.com/terra-clan/assessment-composer/internal/models"

// SectionMinutes sums the time limits of every question attached to the section
func SectionMinutes(section *models.Section) int {
	if section == nil {
		return 0
	}
	total := 0
	for _, qs := range section.Questions {
		for _, q := range qs {
			if m := q.TimeLimit.Minutes(); m > 0 {
				total += m
			}
		}
	}
	return total
}

// SectionDuration derives a section's duration from its questions
func SectionDuration(section *models.Section) models.Duration {
	return models.DurationFromMinutes(SectionMinutes(section))
}

// TotalDuration sums section durations into the assessment total.
// Granularity is whole minutes, so Seconds is always zero.
func TotalDuration(sections []*models.Section) models.TotalDuration {
	total := 0
	for _, s := range sections {
		total += SectionDuration(s).Minutes()
	}
	return models.TotalDuration{Hours: total / 60, Mins: total % 60}
}
